package core

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"time"
)

// Field-size ceilings enforced during decode; these bound the worst-case
// allocation a hostile datagram can force, not just the happy-path shape.
const (
	MaxHumanNameBytes = 256
	MaxKeyFmtBytes    = 16
	maxSignatureBytes = 256 // generous headroom over ed25519's 64-byte signatures
	maxPublicKeyBytes = 256 // generous headroom over ed25519's 32-byte keys
)

// KeyFmtEd25519Raw is the only key-format tag currently understood: raw
// 32-byte Ed25519 verifying-key material.
const KeyFmtEd25519Raw = "ed25519-raw-v1"

// Sentinel errors for identity validation. Callers switch on these with
// errors.Is rather than inspecting a parallel error-kind enum.
var (
	ErrBadSignature  = errors.New("core: bad signature")
	ErrNotYetValid   = errors.New("core: identity not yet valid")
	ErrExpired       = errors.New("core: identity expired")
	ErrUnknownKeyFmt = errors.New("core: unknown key format")
)

// IdentityData is a signed self-statement: "I am human_name, holder of
// public_key_bytes, for the interval [generated_at, generated_at+validity]."
type IdentityData struct {
	HumanName         string
	GeneratedAtEpochS uint64
	ValiditySeconds   uint16
	KeyFmt            string
	PublicKeyBytes    []byte
	Signature         []byte
}

// SignIdentity builds and signs a fresh IdentityData using priv. now is the
// statement's issuance time; validity bounds how long it remains valid. A
// validity shorter than one second or longer than the uint16 field's 65535
// seconds (~18h) is rejected with an error rather than clamped.
func SignIdentity(priv ed25519.PrivateKey, humanName string, now time.Time, validity time.Duration) (*IdentityData, error) {
	if len(humanName) > MaxHumanNameBytes {
		return nil, errors.New("core: human_name exceeds 256 bytes")
	}
	validitySeconds := validity / time.Second
	if validitySeconds <= 0 || validitySeconds > 0xFFFF {
		return nil, errors.New("core: validity_s out of uint16 range")
	}

	id := &IdentityData{
		HumanName:         humanName,
		GeneratedAtEpochS: uint64(now.Unix()),
		ValiditySeconds:   uint16(validitySeconds),
		KeyFmt:            KeyFmtEd25519Raw,
		PublicKeyBytes:    append([]byte(nil), priv.Public().(ed25519.PublicKey)...),
	}
	id.Signature = ed25519.Sign(priv, id.signingBytes())
	return id, nil
}

// signingBytes is the canonical little-endian, length-prefixed encoding of
// every signed field in declared order, excluding Signature itself — the
// overlapping two-key identity problem (design note in SPEC_FULL.md §9)
// is avoided by never including Signature in its own input.
func (id *IdentityData) signingBytes() []byte {
	var buf bytes.Buffer
	putString(&buf, id.HumanName)
	putUint64(&buf, id.GeneratedAtEpochS)
	putUint16(&buf, id.ValiditySeconds)
	putString(&buf, id.KeyFmt)
	putBytes(&buf, id.PublicKeyBytes)
	return buf.Bytes()
}

func (id *IdentityData) encodeTo(buf *bytes.Buffer) {
	putString(buf, id.HumanName)
	putUint64(buf, id.GeneratedAtEpochS)
	putUint16(buf, id.ValiditySeconds)
	putString(buf, id.KeyFmt)
	putBytes(buf, id.PublicKeyBytes)
	putBytes(buf, id.Signature)
}

func decodeIdentity(r *frameReader) (*IdentityData, error) {
	humanName, err := r.stringField(MaxHumanNameBytes)
	if err != nil {
		return nil, err
	}
	genAt, err := r.uint64()
	if err != nil {
		return nil, err
	}
	validity, err := r.uint16()
	if err != nil {
		return nil, err
	}
	keyFmt, err := r.stringField(MaxKeyFmtBytes)
	if err != nil {
		return nil, err
	}
	pub, err := r.bytesField(maxPublicKeyBytes)
	if err != nil {
		return nil, err
	}
	sig, err := r.bytesField(maxSignatureBytes)
	if err != nil {
		return nil, err
	}
	return &IdentityData{
		HumanName:         humanName,
		GeneratedAtEpochS: genAt,
		ValiditySeconds:   validity,
		KeyFmt:            keyFmt,
		PublicKeyBytes:    pub,
		Signature:         sig,
	}, nil
}

// VerifyIdentity checks I1 (signature), I2 (not issued too far in the
// future) and I3 (not expired) against the receiver's clock now, allowing
// maxFutureSkew of clock drift before the future bound triggers.
func VerifyIdentity(id *IdentityData, now time.Time, maxFutureSkew time.Duration) error {
	if id.KeyFmt != KeyFmtEd25519Raw || len(id.PublicKeyBytes) != ed25519.PublicKeySize {
		return ErrUnknownKeyFmt
	}
	if !ed25519.Verify(id.PublicKeyBytes, id.signingBytes(), id.Signature) {
		return ErrBadSignature
	}

	nowS := epochSeconds(now)
	skewS := uint64(maxFutureSkew / time.Second)
	if id.GeneratedAtEpochS > nowS+skewS {
		return ErrNotYetValid
	}
	if nowS > id.GeneratedAtEpochS+uint64(id.ValiditySeconds) {
		return ErrExpired
	}
	return nil
}

func epochSeconds(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix)
}
