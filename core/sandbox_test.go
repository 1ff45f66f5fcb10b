package core

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(bytesDiscard{})
	return l
}

type bytesDiscard struct{}

func (bytesDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestRunSandboxedCleanExit(t *testing.T) {
	wasm := compileWAT(t, watNoOp)

	var out bytes.Buffer
	code, err := runSandboxed(context.Background(), wasm, UnboundedFuel, 1, &out, discardLogger())
	if err != nil {
		t.Fatalf("runSandboxed: %v", err)
	}
	if code != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %d", code)
	}
}

func TestRunSandboxedFuelExhaustion(t *testing.T) {
	wasm := compileWAT(t, watBusyLoop)

	var out bytes.Buffer
	code, err := runSandboxed(context.Background(), wasm, 1000, 2, &out, discardLogger())
	if !errors.Is(err, ErrFuelExhausted) {
		t.Fatalf("expected fuel exhaustion, got code=%d err=%v", code, err)
	}
	if code != ExitFuelExhausted {
		t.Fatalf("expected ExitFuelExhausted, got %d", code)
	}
}

func TestRunSandboxedCancellation(t *testing.T) {
	wasm := compileWAT(t, watBusyLoop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	code, err := runSandboxed(ctx, wasm, UnboundedFuel, 3, &out, discardLogger())
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if code != ExitCancelled {
		t.Fatalf("expected ExitCancelled, got %d", code)
	}
}
