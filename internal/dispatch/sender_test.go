package dispatch

import (
	"errors"
	"net"
	"testing"

	"github.com/Jeffrey-P-McAteer/weverywhere/internal/netif"
)

type fakeEnumerator struct {
	ifaces []netif.Interface
	err    error
}

func (f fakeEnumerator) Interfaces() ([]netif.Interface, error) {
	return f.ifaces, f.err
}

func loopbackInterface(t *testing.T) netif.Interface {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Fatalf("net.Interfaces: %v", err)
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		var ips []net.IP
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				ips = append(ips, ipn.IP)
			}
		}
		if len(ips) == 0 {
			continue
		}
		return netif.Interface{Index: ifi.Index, Name: ifi.Name, Addrs: ips}
	}
	t.Skip("no usable loopback interface found")
	return netif.Interface{}
}

func TestSenderSendsOnEveryNonEmptyInterface(t *testing.T) {
	lo := loopbackInterface(t)
	sender := NewSender(SenderConfig{
		Log:           discardLogger(),
		MulticastAddr: "224.0.0.3",
		Port:          2240,
		Enumerator:    fakeEnumerator{ifaces: []netif.Interface{lo}},
	})

	sent, err := sender.Send([]byte("hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 interface sent, got %d", sent)
	}
}

func TestSenderSkipsEmptyInterfaces(t *testing.T) {
	sender := NewSender(SenderConfig{
		Log:           discardLogger(),
		MulticastAddr: "224.0.0.3",
		Port:          2240,
		Enumerator:    fakeEnumerator{ifaces: []netif.Interface{{Index: 999, Name: "no-addrs"}}},
	})

	if _, err := sender.Send([]byte("hello")); err == nil {
		t.Fatalf("expected error when no interface has any address")
	}
}

func TestSenderRejectsInvalidMulticastAddr(t *testing.T) {
	sender := NewSender(SenderConfig{
		Log:           discardLogger(),
		MulticastAddr: "not-an-ip",
		Port:          2240,
		Enumerator:    fakeEnumerator{},
	})
	if _, err := sender.Send([]byte("hello")); err == nil {
		t.Fatalf("expected error for invalid multicast address")
	}
}

func TestSenderPropagatesEnumeratorError(t *testing.T) {
	sender := NewSender(SenderConfig{
		Log:           discardLogger(),
		MulticastAddr: "224.0.0.3",
		Port:          2240,
		Enumerator:    fakeEnumerator{err: errors.New("boom")},
	})
	if _, err := sender.Send([]byte("hello")); err == nil {
		t.Fatalf("expected enumerator error to propagate")
	}
}
