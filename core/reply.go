package core

import "net"

// ReplyChannel is a send-only handle bound to a specific socket and the
// remote peer that submitted an ExecuteRequest on it. It carries no state
// beyond that pair, so copying a ReplyChannel by value is the "cheap
// clone" §4.4 asks for — many worker goroutines may share one.
type ReplyChannel struct {
	conn net.PacketConn
	addr net.Addr
}

// NewReplyChannel binds a ReplyChannel to conn and addr. conn is shared by
// every ReplyChannel bound to the same socket; net.PacketConn.WriteTo is
// safe for concurrent use, so no additional locking is introduced here.
func NewReplyChannel(conn net.PacketConn, addr net.Addr) *ReplyChannel {
	return &ReplyChannel{conn: conn, addr: addr}
}

// Send best-effort delivers msg to the bound peer. There are no retries and
// no backpressure beyond the OS send buffer: a full buffer surfaces as an
// error and the caller is expected to drop the message, never block on it.
func (r *ReplyChannel) Send(msg *NetworkMessage) error {
	encoded, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = r.conn.WriteTo(encoded, r.addr)
	return err
}
