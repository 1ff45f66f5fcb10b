// Package netif enumerates local network interfaces suitable for joining a
// multicast group, behind a small interface so tests can substitute a fixed
// list instead of depending on the host's real interfaces.
package netif

import "net"

// Interface describes one local network interface candidate for multicast
// join, trimmed to what the dispatcher needs.
type Interface struct {
	Index int
	Name  string
	Addrs []net.IP
}

// Enumerator lists local network interfaces.
type Enumerator interface {
	Interfaces() ([]Interface, error)
}

// SystemEnumerator lists interfaces via the net package, filtering to those
// that are up and support multicast — the only ones a dispatcher can
// usefully join a multicast group on.
type SystemEnumerator struct{}

func (SystemEnumerator) Interfaces() ([]Interface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(raw))
	for _, ifi := range raw {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		var ips []net.IP
		for _, a := range addrs {
			switch v := a.(type) {
			case *net.IPNet:
				ips = append(ips, v.IP)
			case *net.IPAddr:
				ips = append(ips, v.IP)
			}
		}
		out = append(out, Interface{Index: ifi.Index, Name: ifi.Name, Addrs: ips})
	}
	return out, nil
}
