package core

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"time"
)

// MaxWasmBytes bounds a bundle's module size so an ExecuteRequest always
// fits inside a single sub-64KiB datagram alongside its identity and
// signature overhead (B3).
const MaxWasmBytes = 60 * 1024

// ErrBundleTooLarge is returned when wasm_bytes exceeds MaxWasmBytes, by the
// sender (SignBundle and Encode, before it wastes a send) and by
// VerifyBundle. Decode reports an oversize wasm field as ErrMalformedFrame.
var ErrBundleTooLarge = errors.New("core: bundle exceeds maximum wasm size")

// ProgramBundle is a signed execution authorization: "source authorizes
// running these wasm_bytes under this advisory human_name."
type ProgramBundle struct {
	Source    *IdentityData
	HumanName string
	WasmBytes []byte
	Signature []byte
}

// SignBundle signs source's wasm_bytes with priv, which must be the private
// key paired with source.PublicKeyBytes.
func SignBundle(priv ed25519.PrivateKey, source *IdentityData, humanName string, wasmBytes []byte) (*ProgramBundle, error) {
	if len(humanName) > MaxHumanNameBytes {
		return nil, errors.New("core: human_name exceeds 256 bytes")
	}
	if len(wasmBytes) > MaxWasmBytes {
		return nil, ErrBundleTooLarge
	}
	b := &ProgramBundle{Source: source, HumanName: humanName, WasmBytes: wasmBytes}
	b.Signature = ed25519.Sign(priv, b.signingBytes())
	return b, nil
}

// signingBytes is source's signed fields (excluding source.Signature),
// followed by the bundle's own human_name and wasm_bytes — the overlapping
// two-key identity the bundle is signed on top of.
func (b *ProgramBundle) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(b.Source.signingBytes())
	putString(&buf, b.HumanName)
	putBytes(&buf, b.WasmBytes)
	return buf.Bytes()
}

func (b *ProgramBundle) encodeTo(buf *bytes.Buffer) {
	b.Source.encodeTo(buf)
	putString(buf, b.HumanName)
	putBytes(buf, b.WasmBytes)
	putBytes(buf, b.Signature)
}

func decodeBundle(r *frameReader) (*ProgramBundle, error) {
	source, err := decodeIdentity(r)
	if err != nil {
		return nil, err
	}
	humanName, err := r.stringField(MaxHumanNameBytes)
	if err != nil {
		return nil, err
	}
	wasmBytes, err := r.bytesField(MaxWasmBytes)
	if err != nil {
		return nil, err
	}
	sig, err := r.bytesField(maxSignatureBytes)
	if err != nil {
		return nil, err
	}
	return &ProgramBundle{Source: source, HumanName: humanName, WasmBytes: wasmBytes, Signature: sig}, nil
}

// VerifyBundle validates B1 (source identity) then B2/B3 (outer signature,
// size) under the receiver's clock now and skew tolerance.
func VerifyBundle(b *ProgramBundle, now time.Time, skew time.Duration) error {
	if err := VerifyIdentity(b.Source, now, skew); err != nil {
		return err
	}
	if len(b.WasmBytes) > MaxWasmBytes {
		return ErrBundleTooLarge
	}
	if !ed25519.Verify(b.Source.PublicKeyBytes, b.signingBytes(), b.Signature) {
		return ErrBadSignature
	}
	return nil
}
