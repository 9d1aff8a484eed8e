package risk

// #region attractor

// Attractor names a degradation pattern the detector watches for.
type Attractor string

const (
	// API degradation
	AttractorAPIScoreDrop   Attractor = "api_score_drop"  // API-first score fell >20% vs baseline
	AttractorHighUIFallback Attractor = "high_ui_fallback" // UI fallbacks over per-session threshold
	AttractorDemoOnlyMode   Attractor = "demo_only_mode"   // only demo events observed

	// CI degradation
	AttractorSmokeFailures Attractor = "smoke_failures"
	AttractorRuntimeSpike  Attractor = "runtime_spike"   // run duration > baseline * 1.5
	AttractorCacheMissRate Attractor = "cache_miss_rate"

	// Infrastructure
	AttractorSupabaseDown       Attractor = "supabase_down"   // persistence success rate under floor
	AttractorMLLoadSlow         Attractor = "ml_load_slow"
	AttractorPlaywrightInitFail Attractor = "playwright_fail" // UI driver never initialized
)

// #endregion attractor

// #region level

// Level is the severity of a risk signal.
type Level string

const (
	LevelLow    Level = "low"    // observe
	LevelMedium Level = "medium" // warn
	LevelHigh   Level = "high"   // critical
)

// #endregion level

// #region risk-signal

// Signal is one detected degradation, produced fresh every evaluation and
// embedded in reports rather than persisted on its own.
type Signal struct {
	Attractor      Attractor `json:"attractor"`
	Level          Level     `json:"level"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation"`
}

// #endregion risk-signal

// #region detector-config

// DetectorConfig holds the fixed thresholds for each attractor check.
type DetectorConfig struct {
	ScoreDropFactor      float64 // current < baseline mean * this → api_score_drop
	UIFallbackThreshold  float64 // ui_fallbacks above this → high_ui_fallback
	SupabaseSuccessFloor float64 // supabase_success_rate below this → supabase_down
	RuntimeSpikeFactor   float64 // run_duration > baseline mean * this → runtime_spike
}

// DefaultDetectorConfig returns the standard thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ScoreDropFactor:      0.8,
		UIFallbackThreshold:  5,
		SupabaseSuccessFloor: 95.0,
		RuntimeSpikeFactor:   1.5,
	}
}

// #endregion detector-config
