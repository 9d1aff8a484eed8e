package apply

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grail-labs/overlord/internal/signals"
)

// #region types

// Modification is one audit entry in the parameter file's history: which plan
// changed what, from which old values, and where the pre-change backup lives.
type Modification struct {
	PlanID      string             `json:"plan_id"`
	Description string             `json:"description"`
	AppliedAt   time.Time          `json:"applied_at"`
	ApprovedBy  string             `json:"approved_by"`
	Changes     map[string]float64 `json:"changes"`
	OldValues   map[string]float64 `json:"old_values"`
	BackupFile  string             `json:"backup_file"`
}

// ParameterConfig is the on-disk shape of the live parameter file.
type ParameterConfig struct {
	Version       string             `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	Parameters    map[string]float64 `json:"parameters"`
	Modifications []Modification     `json:"modifications"`
}

// #endregion types

// #region defaults

// DefaultParameters returns each whitelisted parameter at its default value.
func DefaultParameters() map[string]float64 {
	return map[string]float64{
		"confidence_threshold":  0.70,
		"max_predictions":       20,
		"ttl_short":             1800,
		"ttl_medium":            3600,
		"ttl_long":              7200,
		"api_retry_count":       3,
		"api_timeout_ms":        10000,
		"ui_fallback_threshold": 5,
	}
}

// #endregion defaults

// #region param-file

// ParamFile owns the live parameter config on disk.
type ParamFile struct {
	path string
	now  func() time.Time
}

// NewParamFile points at the config path; the file is created with defaults
// on first Load if it does not exist.
func NewParamFile(path string) *ParamFile {
	return &ParamFile{path: path, now: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (f *ParamFile) SetClock(now func() time.Time) { f.now = now }

// Path returns the config file location.
func (f *ParamFile) Path() string { return f.path }

// Load reads the parameter config, initializing it with defaults when the
// file does not exist yet.
func (f *ParamFile) Load() (ParameterConfig, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		cfg := ParameterConfig{
			Version:    "1.0",
			CreatedAt:  f.now(),
			Parameters: DefaultParameters(),
		}
		if err := f.Save(cfg); err != nil {
			return ParameterConfig{}, fmt.Errorf("initialize parameters: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return ParameterConfig{}, fmt.Errorf("read parameters: %w", err)
	}

	var cfg ParameterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ParameterConfig{}, fmt.Errorf("decode parameters: %w", err)
	}
	if cfg.Parameters == nil {
		cfg.Parameters = map[string]float64{}
	}
	return cfg, nil
}

// Save writes the config atomically: a temp file in the same directory is
// renamed over the target so a crash never leaves a half-written config.
func (f *ParamFile) Save(cfg ParameterConfig) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".parameters-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// #endregion param-file

// #region live-params

// LiveParams exposes the on-disk parameter config as runtime tunables, so an
// applied TTL or threshold change takes effect on the next engine cycle.
// Read failures fall back to defaults.
type LiveParams struct {
	file *ParamFile
}

// NewLiveParams adapts a parameter file.
func NewLiveParams(file *ParamFile) *LiveParams {
	return &LiveParams{file: file}
}

func (l *LiveParams) current() map[string]float64 {
	cfg, err := l.file.Load()
	if err != nil {
		return DefaultParameters()
	}
	return cfg.Parameters
}

func (l *LiveParams) value(params map[string]float64, name string) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return DefaultParameters()[name]
}

// TTL returns the current signal TTL table.
func (l *LiveParams) TTL() signals.TTLTable {
	params := l.current()
	return signals.TTLTable{
		Short:  time.Duration(l.value(params, "ttl_short")) * time.Second,
		Medium: time.Duration(l.value(params, "ttl_medium")) * time.Second,
		Long:   time.Duration(l.value(params, "ttl_long")) * time.Second,
	}
}

// ConfidenceThreshold returns the current prediction confidence floor.
func (l *LiveParams) ConfidenceThreshold() float64 {
	return l.value(l.current(), "confidence_threshold")
}

// #endregion live-params
