package dispatch

import (
	"context"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jeffrey-P-McAteer/weverywhere/core"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newLoopbackPair(t *testing.T) (net.PacketConn, net.PacketConn) {
	t.Helper()
	a, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestDispatcherHandleAdmitsExecuteRequest(t *testing.T) {
	recv, sender := newLoopbackPair(t)

	signer := mustKey(t)
	id, err := core.SignIdentity(signer, "tester", time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}
	bundle, err := core.SignBundle(signer, id, "noop", []byte("\x00asm-fake"))
	if err != nil {
		t.Fatalf("SignBundle: %v", err)
	}

	trust := core.NewTrustStore()
	trust.Add("tester", signer.Public().(ed25519.PublicKey))
	exec := core.NewExecutor(core.ExecutorConfig{
		Trust:              trust,
		Log:                discardLogger(),
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	})

	d := New(Config{Exec: exec, Log: discardLogger()})

	msg := core.NewExecuteRequest(bundle)
	d.handle(msg, recv, sender.LocalAddr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats := exec.Stats()
	for stats.Admitted == 0 && ctx.Err() == nil {
		time.Sleep(time.Millisecond)
		stats = exec.Stats()
	}
	if stats.Admitted != 1 {
		t.Fatalf("expected 1 admitted program, got %+v", stats)
	}
}

func mustKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}
