package dispatch

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/Jeffrey-P-McAteer/weverywhere/internal/netif"
)

// SenderConfig carries everything a Sender needs to replicate a datagram
// across every non-empty local interface.
type SenderConfig struct {
	Log           *logrus.Logger
	MulticastAddr string // e.g. "224.0.0.3" or "ff02::3"
	Port          int
	Enumerator    netif.Enumerator
}

// Sender is the transmit-side counterpart of Dispatcher's receive loop: per
// §6, "Sender joins on every non-empty interface; receiver binds per
// interface." It sends each datagram once per non-empty local interface
// rather than relying on the kernel's default multicast route, so the
// submission reaches receivers regardless of which interface the OS would
// otherwise have picked.
type Sender struct {
	log        *logrus.Logger
	group      string
	port       int
	enumerator netif.Enumerator
}

// NewSender builds a Sender. It opens no socket until Send is called.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Enumerator == nil {
		cfg.Enumerator = netif.SystemEnumerator{}
	}
	return &Sender{log: cfg.Log, group: cfg.MulticastAddr, port: cfg.Port, enumerator: cfg.Enumerator}
}

// Send transmits payload once on every non-empty local interface, returning
// the number of interfaces it was sent on successfully. It fails if the
// multicast address does not parse, if interface enumeration or opening the
// send socket fails, or if the datagram could not be sent on any interface.
func (s *Sender) Send(payload []byte) (int, error) {
	group := net.ParseIP(s.group)
	if group == nil {
		return 0, fmt.Errorf("dispatch: invalid multicast address %q", s.group)
	}

	ifaces, err := s.enumerator.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("dispatch: enumerate interfaces: %w", err)
	}

	if group.To4() != nil {
		return s.sendV4(group, ifaces, payload)
	}
	return s.sendV6(group, ifaces, payload)
}

func (s *Sender) sendV4(group net.IP, ifaces []netif.Interface, payload []byte) (int, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return 0, fmt.Errorf("dispatch: open udp4 send socket: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	dst := &net.UDPAddr{IP: group, Port: s.port}

	sent := 0
	for _, ifc := range ifaces {
		if len(ifc.Addrs) == 0 {
			continue
		}
		netIfc := &net.Interface{Index: ifc.Index, Name: ifc.Name}
		if err := pc.SetMulticastInterface(netIfc); err != nil {
			s.log.WithError(err).WithField("interface", ifc.Name).Debug("set multicast send interface failed")
			continue
		}
		if _, err := pc.WriteTo(payload, nil, dst); err != nil {
			s.log.WithError(err).WithField("interface", ifc.Name).Debug("multicast send failed")
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, fmt.Errorf("dispatch: failed to send %s on any interface", group)
	}
	return sent, nil
}

func (s *Sender) sendV6(group net.IP, ifaces []netif.Interface, payload []byte) (int, error) {
	conn, err := net.ListenPacket("udp6", ":0")
	if err != nil {
		return 0, fmt.Errorf("dispatch: open udp6 send socket: %w", err)
	}
	defer conn.Close()

	pc := ipv6.NewPacketConn(conn)
	dst := &net.UDPAddr{IP: group, Port: s.port}

	sent := 0
	for _, ifc := range ifaces {
		if len(ifc.Addrs) == 0 {
			continue
		}
		netIfc := &net.Interface{Index: ifc.Index, Name: ifc.Name}
		if err := pc.SetMulticastInterface(netIfc); err != nil {
			s.log.WithError(err).WithField("interface", ifc.Name).Debug("set multicast send interface failed")
			continue
		}
		if _, err := pc.WriteTo(payload, nil, dst); err != nil {
			s.log.WithError(err).WithField("interface", ifc.Name).Debug("multicast send failed")
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, fmt.Errorf("dispatch: failed to send %s on any interface", group)
	}
	return sent, nil
}
