package core

import (
	"bytes"
	"crypto/ed25519"
	"sync"
)

// SelfLabel is the label under which a server inserts its own verifying
// key at startup, so it trusts bundles it signs for itself.
const SelfLabel = "SELF"

// TrustStore is a concurrent label -> verifying-key mapping. It is
// writer-rare (populated at startup, occasionally updated) and
// reader-frequent (consulted on every admission), so reads never take an
// exclusive lock.
type TrustStore struct {
	mu      sync.RWMutex
	entries map[string]ed25519.PublicKey
}

func NewTrustStore() *TrustStore {
	return &TrustStore{entries: make(map[string]ed25519.PublicKey)}
}

// Add inserts or replaces the key trusted under label. Idempotent by label.
func (t *TrustStore) Add(label string, key ed25519.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := append(ed25519.PublicKey(nil), key...)
	t.entries[label] = cp
}

// Remove drops label, if present.
func (t *TrustStore) Remove(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, label)
}

// Contains reports whether pub matches any entry. The store is expected to
// hold at most a few hundred keys, so a linear scan under the read lock is
// simpler and cheap enough than a secondary byte-keyed index.
func (t *TrustStore) Contains(pub []byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, key := range t.entries {
		if bytes.Equal(key, pub) {
			return true
		}
	}
	return false
}

// Snapshot returns a label -> raw-key-bytes copy suitable for serialising
// to a debug/metrics endpoint. It is not used on any admission path.
func (t *TrustStore) Snapshot() map[string][]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]byte, len(t.entries))
	for label, key := range t.entries {
		out[label] = append([]byte(nil), key...)
	}
	return out
}
