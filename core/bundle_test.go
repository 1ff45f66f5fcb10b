package core

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerifyBundleRoundTrip(t *testing.T) {
	priv := mustKey(t)
	now := time.Unix(1_700_000_000, 0)

	id, err := SignIdentity(priv, "alice", now, time.Hour)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}
	bundle, err := SignBundle(priv, id, "count-to-ten", []byte("\x00asm...fake-module"))
	if err != nil {
		t.Fatalf("SignBundle: %v", err)
	}

	if err := VerifyBundle(bundle, now.Add(time.Minute), 5*time.Second); err != nil {
		t.Fatalf("VerifyBundle: %v", err)
	}
}

func TestVerifyBundleRejectsTamperedWasm(t *testing.T) {
	priv := mustKey(t)
	now := time.Unix(1_700_000_000, 0)

	id, err := SignIdentity(priv, "alice", now, time.Hour)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}
	bundle, err := SignBundle(priv, id, "count-to-ten", []byte("original"))
	if err != nil {
		t.Fatalf("SignBundle: %v", err)
	}
	bundle.WasmBytes = []byte("tampered!")

	if err := VerifyBundle(bundle, now, 5*time.Second); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyBundlePropagatesIdentityFailure(t *testing.T) {
	priv := mustKey(t)
	now := time.Unix(1_700_000_000, 0)

	id, err := SignIdentity(priv, "alice", now, time.Minute)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}
	bundle, err := SignBundle(priv, id, "count-to-ten", []byte("original"))
	if err != nil {
		t.Fatalf("SignBundle: %v", err)
	}

	later := now.Add(time.Hour)
	if err := VerifyBundle(bundle, later, 5*time.Second); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestSignBundleRejectsOversizeWasm(t *testing.T) {
	priv := mustKey(t)
	now := time.Unix(1_700_000_000, 0)

	id, err := SignIdentity(priv, "alice", now, time.Hour)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}

	oversized := make([]byte, MaxWasmBytes+1)
	if _, err := SignBundle(priv, id, "too-big", oversized); !errors.Is(err, ErrBundleTooLarge) {
		t.Fatalf("expected ErrBundleTooLarge, got %v", err)
	}
}

func TestBundleEncodeDecodeRoundTrip(t *testing.T) {
	priv := mustKey(t)
	now := time.Unix(1_700_000_000, 0)

	id, err := SignIdentity(priv, "alice", now, time.Hour)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}
	bundle, err := SignBundle(priv, id, "count-to-ten", []byte("fake-module"))
	if err != nil {
		t.Fatalf("SignBundle: %v", err)
	}

	encoded, err := Encode(NewExecuteRequest(bundle))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Tag != TagExecuteRequest {
		t.Fatalf("expected TagExecuteRequest, got %v", decoded.Tag)
	}
	if string(decoded.ExecuteRequest.WasmBytes) != "fake-module" {
		t.Fatalf("wasm bytes mismatch: %q", decoded.ExecuteRequest.WasmBytes)
	}
	if err := VerifyBundle(decoded.ExecuteRequest, now.Add(time.Minute), 5*time.Second); err != nil {
		t.Fatalf("VerifyBundle on decoded: %v", err)
	}
}
