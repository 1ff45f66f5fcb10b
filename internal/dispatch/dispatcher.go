// Package dispatch runs the per-interface multicast receive loop (Dispatcher)
// that connects the wire protocol to an Executor, and the per-interface
// transmit side (Sender) a controller uses to submit a bundle.
package dispatch

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/Jeffrey-P-McAteer/weverywhere/core"
	"github.com/Jeffrey-P-McAteer/weverywhere/internal/netif"
)

// Config carries everything a Dispatcher needs to join its multicast group
// on every eligible local interface and start serving.
type Config struct {
	Exec          *core.Executor
	Log           *logrus.Logger
	Health        *core.HealthLogger
	MulticastAddr string // e.g. "224.0.0.3" or "ff02::3"
	Port          int
	Enumerator    netif.Enumerator
}

// Dispatcher owns a single multicast socket, of the configured group's
// address family (IPv4 or IPv6, never both), and fans inbound
// ExecuteRequest datagrams out to the bound Executor. It deliberately does
// not try to be a general message router: anything other than an
// ExecuteRequest arriving on this socket is logged and dropped, since a
// server's own stdout/exit traffic only ever goes out over a unicast Reply
// Channel, never back through the multicast group.
type Dispatcher struct {
	cfg  Config
	log  *logrus.Logger
	conn net.PacketConn
}

// New builds a Dispatcher. It does not open any socket until Run is called.
func New(cfg Config) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Enumerator == nil {
		cfg.Enumerator = netif.SystemEnumerator{}
	}
	return &Dispatcher{cfg: cfg, log: cfg.Log}
}

// Run opens the multicast socket, joins it on every eligible local
// interface, and serves until ctx is cancelled. It blocks until the receive
// loop exits.
func (d *Dispatcher) Run(ctx context.Context) error {
	group := net.ParseIP(d.cfg.MulticastAddr)
	if group == nil {
		return fmt.Errorf("dispatch: invalid multicast address %q", d.cfg.MulticastAddr)
	}

	ifaces, err := d.cfg.Enumerator.Interfaces()
	if err != nil {
		return fmt.Errorf("dispatch: enumerate interfaces: %w", err)
	}

	if group.To4() != nil {
		return d.runV4(ctx, group, ifaces)
	}
	return d.runV6(ctx, group, ifaces)
}

func (d *Dispatcher) runV4(ctx context.Context, group net.IP, ifaces []netif.Interface) error {
	laddr := fmt.Sprintf(":%d", d.cfg.Port)
	conn, err := net.ListenPacket("udp4", laddr)
	if err != nil {
		return fmt.Errorf("dispatch: listen udp4 %s: %w", laddr, err)
	}
	d.conn = conn

	pc := ipv4.NewPacketConn(conn)
	joined := 0
	for _, ifc := range ifaces {
		netIfc := &net.Interface{Index: ifc.Index, Name: ifc.Name}
		if err := pc.JoinGroup(netIfc, &net.UDPAddr{IP: group}); err != nil {
			d.log.WithError(err).WithField("interface", ifc.Name).Debug("join multicast group failed")
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return fmt.Errorf("dispatch: failed to join %s on any interface", group)
	}
	d.log.WithField("group", group.String()).WithField("joined", joined).Info("multicast receiver ready")

	return d.serve(ctx, conn)
}

func (d *Dispatcher) runV6(ctx context.Context, group net.IP, ifaces []netif.Interface) error {
	laddr := fmt.Sprintf(":%d", d.cfg.Port)
	conn, err := net.ListenPacket("udp6", laddr)
	if err != nil {
		return fmt.Errorf("dispatch: listen udp6 %s: %w", laddr, err)
	}
	d.conn = conn

	pc := ipv6.NewPacketConn(conn)
	joined := 0
	for _, ifc := range ifaces {
		netIfc := &net.Interface{Index: ifc.Index, Name: ifc.Name}
		if err := pc.JoinGroup(netIfc, &net.UDPAddr{IP: group}); err != nil {
			d.log.WithError(err).WithField("interface", ifc.Name).Debug("join multicast group failed")
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return fmt.Errorf("dispatch: failed to join %s on any interface", group)
	}
	d.log.WithField("group", group.String()).WithField("joined", joined).Info("multicast receiver ready")

	return d.serve(ctx, conn)
}

// serve runs the blocking receive loop, dispatching each decoded datagram to
// the Executor and stopping when ctx is cancelled.
func (d *Dispatcher) serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, core.MaxDatagramBytes)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.WithError(err).Debug("multicast read failed")
			continue
		}

		msg, err := core.Decode(buf[:n])
		if err != nil {
			if d.cfg.Health != nil {
				d.cfg.Health.RecordDecodeError()
			}
			d.log.WithError(err).WithField("from", addr.String()).Debug("datagram decode failed")
			continue
		}

		d.handle(msg, conn, addr)
	}
}

func (d *Dispatcher) handle(msg *core.NetworkMessage, conn net.PacketConn, addr net.Addr) {
	switch msg.Tag {
	case core.TagExecuteRequest:
		reply := core.NewReplyChannel(conn, addr)
		pid, err := d.cfg.Exec.BeginExec(msg.ExecuteRequest, reply)
		if err != nil {
			if admitErr, ok := err.(core.AdmitError); ok && d.cfg.Health != nil {
				d.cfg.Health.RecordRejection(admitErr)
			}
			d.log.WithError(err).WithField("from", addr.String()).Debug("execute request rejected")
			return
		}
		d.log.WithField("pid", pid).WithField("from", addr.String()).Info("program admitted")
	default:
		d.log.WithField("tag", msg.Tag).WithField("from", addr.String()).Debug("unexpected message tag on multicast socket")
	}
}

// Close shuts down the dispatcher's socket, if open.
func (d *Dispatcher) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
