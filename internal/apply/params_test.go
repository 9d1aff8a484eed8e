package apply

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParamFileInitializesDefaults(t *testing.T) {
	file := NewParamFile(filepath.Join(t.TempDir(), "parameters.json"))

	cfg, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != "1.0" {
		t.Fatalf("expected version 1.0, got %s", cfg.Version)
	}
	if cfg.Parameters["confidence_threshold"] != 0.70 {
		t.Fatalf("unexpected defaults: %+v", cfg.Parameters)
	}

	// A second load reads the persisted file, not fresh defaults.
	cfg.Parameters["max_predictions"] = 50
	if err := file.Save(cfg); err != nil {
		t.Fatal(err)
	}
	again, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	if again.Parameters["max_predictions"] != 50 {
		t.Fatal("saved value lost on reload")
	}
}

func TestLiveParamsFollowFile(t *testing.T) {
	file := NewParamFile(filepath.Join(t.TempDir(), "parameters.json"))
	params := NewLiveParams(file)

	ttl := params.TTL()
	if ttl.Short != 30*time.Minute || ttl.Medium != time.Hour || ttl.Long != 2*time.Hour {
		t.Fatalf("unexpected default TTLs: %+v", ttl)
	}
	if params.ConfidenceThreshold() != 0.70 {
		t.Fatalf("unexpected default confidence: %v", params.ConfidenceThreshold())
	}

	cfg, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Parameters["ttl_short"] = 2700
	cfg.Parameters["confidence_threshold"] = 0.80
	if err := file.Save(cfg); err != nil {
		t.Fatal(err)
	}

	if got := params.TTL().Short; got != 45*time.Minute {
		t.Fatalf("TTL change not picked up, got %s", got)
	}
	if params.ConfidenceThreshold() != 0.80 {
		t.Fatal("confidence change not picked up")
	}
}

func TestLiveParamsFallBackWhenFileMissingKeys(t *testing.T) {
	file := NewParamFile(filepath.Join(t.TempDir(), "parameters.json"))
	cfg, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	delete(cfg.Parameters, "ttl_long")
	if err := file.Save(cfg); err != nil {
		t.Fatal(err)
	}

	params := NewLiveParams(file)
	if got := params.TTL().Long; got != 2*time.Hour {
		t.Fatalf("missing key should fall back to the default, got %s", got)
	}
}
