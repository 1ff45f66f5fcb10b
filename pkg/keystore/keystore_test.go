package keystore

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/Jeffrey-P-McAteer/weverywhere/internal/testutil"
)

func TestGenerateAndSaveKeyThenLoad(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("identity.pem")
	priv, err := GenerateAndSaveKey(path)
	if err != nil {
		t.Fatalf("GenerateAndSaveKey failed: %v", err)
	}

	loaded, err := LoadSigningKey(path)
	if err != nil {
		t.Fatalf("LoadSigningKey failed: %v", err)
	}
	if !bytes.Equal(priv, loaded) {
		t.Fatalf("loaded key does not match generated key")
	}
}

func TestLoadVerifyingKeyMatchesPublicHalf(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("identity.pem")
	priv, err := GenerateAndSaveKey(path)
	if err != nil {
		t.Fatalf("GenerateAndSaveKey failed: %v", err)
	}

	pub, err := LoadVerifyingKey(path)
	if err != nil {
		t.Fatalf("LoadVerifyingKey failed: %v", err)
	}
	if !bytes.Equal(pub, priv.Public().(ed25519.PublicKey)) {
		t.Fatalf("LoadVerifyingKey did not return the signing key's public half")
	}
}

func TestLoadSigningKeyRejectsMissingFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if _, err := LoadSigningKey(sb.Path("missing.pem")); err == nil {
		t.Fatalf("expected error for missing key file")
	}
}

func TestLoadSigningKeyRejectsGarbage(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("garbage.pem")
	if err := sb.WriteFile("garbage.pem", []byte("not a pem file"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadSigningKey(path); err == nil {
		t.Fatalf("expected error for non-PEM file")
	}
}
