// Package keystore loads and generates the Ed25519 signing keys executord
// uses as server identity, stored as PKCS#8 PEM files.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"

	"github.com/Jeffrey-P-McAteer/weverywhere/pkg/utils"
)

const pemBlockType = "PRIVATE KEY"

// ErrNotEd25519 is returned when a PEM file decodes to a key of a different
// algorithm.
var ErrNotEd25519 = errors.New("keystore: key is not Ed25519")

// LoadSigningKey reads an Ed25519 private key from a PKCS#8 PEM file.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read key file")
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockType {
		return nil, errors.New("keystore: no PRIVATE KEY PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, utils.Wrap(err, "parse pkcs8 key")
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrNotEd25519
	}
	return priv, nil
}

// LoadVerifyingKey reads the private key at path and returns only its public
// half, for operators who hold a local identity file and need to hand its
// public key to a peer for a trust-peers list.
func LoadVerifyingKey(path string) (ed25519.PublicKey, error) {
	priv, err := LoadSigningKey(path)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// GenerateAndSaveKey creates a fresh Ed25519 keypair and writes the private
// key to path as a PKCS#8 PEM file with owner-only permissions.
func GenerateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, utils.Wrap(err, "generate key")
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, utils.Wrap(err, "marshal pkcs8 key")
	}
	block := &pem.Block{Type: pemBlockType, Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, utils.Wrap(err, "write key file")
	}
	return priv, nil
}
