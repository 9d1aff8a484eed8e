package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #region config

// Config holds control-plane wiring: storage paths and the tuning knobs that
// are NOT runtime-adjustable parameters (those live in the parameter file and
// change only through approved plans).
type Config struct {
	// Storage
	DBPath         string `yaml:"db_path"`
	ParametersFile string `yaml:"parameters_file"`
	BackupDir      string `yaml:"backup_dir"`

	// Verification
	DriftTolerancePercent float64 `yaml:"drift_tolerance_percent"`
	StrongGainPercent     float64 `yaml:"strong_gain_percent"`

	// Approval
	ApprovalTTLHours int `yaml:"approval_ttl_hours"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:                "overlord.db",
		ParametersFile:        "config/parameters.json",
		BackupDir:             ".baseline/backups",
		DriftTolerancePercent: 5.0,
		StrongGainPercent:     5.0,
		ApprovalTTLHours:      48,
	}
}

// #endregion config

// #region load

// Load reads a YAML config file over the defaults. A missing file is not an
// error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// #endregion load
