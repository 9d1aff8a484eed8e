package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlord.yaml")
	data := []byte("db_path: /var/lib/overlord/overlord.db\napproval_ttl_hours: 24\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/var/lib/overlord/overlord.db" {
		t.Fatalf("db_path not applied: %s", cfg.DBPath)
	}
	if cfg.ApprovalTTLHours != 24 {
		t.Fatalf("approval_ttl_hours not applied: %d", cfg.ApprovalTTLHours)
	}
	// Untouched keys keep their defaults.
	if cfg.DriftTolerancePercent != 5.0 {
		t.Fatalf("unexpected drift tolerance: %v", cfg.DriftTolerancePercent)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("db_path: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML must error")
	}
}
