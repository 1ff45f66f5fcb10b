package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/Jeffrey-P-McAteer/weverywhere/internal/testutil"
)

func TestLoadDefaults(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.MulticastAddr != "224.0.0.3" {
		t.Fatalf("expected default multicast addr, got %s", cfg.Network.MulticastAddr)
	}
	if cfg.Network.Port != 2240 {
		t.Fatalf("expected default port 2240, got %d", cfg.Network.Port)
	}
	if cfg.Fuel.UntrustedBudget != 16384 {
		t.Fatalf("expected default untrusted budget, got %d", cfg.Fuel.UntrustedBudget)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	data := []byte("network:\n  multicast_addr: 224.0.0.9\n  port: 9999\nidentity:\n  human_name: test-server\n")
	if err := sb.WriteFile("executord.yaml", data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.MulticastAddr != "224.0.0.9" {
		t.Fatalf("expected overridden multicast addr, got %s", cfg.Network.MulticastAddr)
	}
	if cfg.Network.Port != 9999 {
		t.Fatalf("expected overridden port, got %d", cfg.Network.Port)
	}
	if cfg.Identity.HumanName != "test-server" {
		t.Fatalf("expected overridden human name, got %s", cfg.Identity.HumanName)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	data := []byte("network:\n  port: 1234\n")
	if err := sb.WriteFile("custom.yaml", data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	viper.Reset()
	cfg, err := Load(sb.Path("custom.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Network.Port)
	}
}
