package core

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// StdoutForwarder is the asynchronous byte sink presented to a sandboxed
// program as its standard output. Every Write is wrapped in a
// ProgramStdout message tagged with the owning PID and a per-PID sequence
// number, then handed to the Reply Channel.
//
// Write never surfaces transport failure to the sandbox ("lie forward"):
// the sandbox must not be able to stall a program on remote loss, so a
// send error is logged and the write is still reported as fully accepted.
type StdoutForwarder struct {
	pid   uint64
	reply *ReplyChannel // nil when the program has no reply peer
	seq   atomic.Uint64
	log   *logrus.Logger
}

// NewStdoutForwarder builds a forwarder for pid. reply may be nil, in
// which case writes are silently accepted and never sent anywhere.
func NewStdoutForwarder(pid uint64, reply *ReplyChannel, log *logrus.Logger) *StdoutForwarder {
	return &StdoutForwarder{pid: pid, reply: reply, log: log}
}

// Write always reports len(p) bytes accepted; partial writes are never
// surfaced to the caller.
func (f *StdoutForwarder) Write(p []byte) (int, error) {
	n := len(p)
	if f.reply == nil {
		return n, nil
	}

	data := append([]byte(nil), p...)
	seq := f.seq.Add(1) - 1
	if err := f.reply.Send(NewProgramStdout(f.pid, seq, data)); err != nil {
		f.log.WithError(err).WithField("pid", f.pid).Debug("stdout forward dropped")
	}
	return n, nil
}

// Flush is a no-op: every Write already submits its chunk immediately.
func (f *StdoutForwarder) Flush() error { return nil }

// Close is a no-op: the forwarder owns no resource beyond the shared
// ReplyChannel, whose socket outlives any single program.
func (f *StdoutForwarder) Close() error { return nil }
