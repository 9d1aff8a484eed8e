package risk

import (
	"fmt"

	"github.com/grail-labs/overlord/internal/baseline"
)

// #region metric-names

// Metric names the external agent reports each session.
const (
	MetricAPIFirstScore       = "api_first_score"
	MetricUIFallbacks         = "ui_fallbacks"
	MetricDemoFallbacks       = "demo_fallbacks"
	MetricSupabaseSuccessRate = "supabase_success_rate"
	MetricRunDuration         = "run_duration"
	MetricUIInitFailures      = "ui_init_failures"
)

// #endregion metric-names

// #region detector

// Detector compares current metrics against the baseline and emits typed risk
// signals. Read-only: it never mutates state or triggers actions itself.
type Detector struct {
	baseline *baseline.Store
	config   DetectorConfig
}

// NewDetector creates a detector over the given baseline store.
func NewDetector(store *baseline.Store, config DetectorConfig) *Detector {
	return &Detector{baseline: store, config: config}
}

// #endregion detector

// #region check-risks

// CheckRisks runs the fixed attractor checks against current metrics.
// Without a baseline there are no checks and no signals: a cold start must
// never false-positive.
func (d *Detector) CheckRisks(current map[string]float64) []Signal {
	summary, ok := d.baseline.Summary()
	if !ok {
		return nil
	}

	var signals []Signal

	// Check #1: API-first score dropped more than 20% below baseline mean.
	if stats, ok := summary.Stats(MetricAPIFirstScore); ok {
		score := metricOr(current, MetricAPIFirstScore, 100)
		if score < stats.Mean*d.config.ScoreDropFactor {
			signals = append(signals, Signal{
				Attractor:      AttractorAPIScoreDrop,
				Level:          LevelMedium,
				Message:        fmt.Sprintf("API-first score: %.1f%% (baseline: %.1f%%)", score, stats.Mean),
				Recommendation: "Check API endpoint availability",
			})
		}
	}

	// Check #2: UI fallbacks over the fixed per-session threshold.
	if fallbacks := metricOr(current, MetricUIFallbacks, 0); fallbacks > d.config.UIFallbackThreshold {
		signals = append(signals, Signal{
			Attractor:      AttractorHighUIFallback,
			Level:          LevelMedium,
			Message:        fmt.Sprintf("UI fallbacks: %.0f (threshold: %.0f)", fallbacks, d.config.UIFallbackThreshold),
			Recommendation: "API unavailable, check endpoint health",
		})
	}

	// Check #3: any demo-only fallback is critical.
	if metricOr(current, MetricDemoFallbacks, 0) > 0 {
		signals = append(signals, Signal{
			Attractor:      AttractorDemoOnlyMode,
			Level:          LevelHigh,
			Message:        "Fallback to demo events detected",
			Recommendation: "All scraping methods failed, check network",
		})
	}

	// Check #4: persistence success rate under the floor.
	if rate := metricOr(current, MetricSupabaseSuccessRate, 100); rate < d.config.SupabaseSuccessFloor {
		signals = append(signals, Signal{
			Attractor:      AttractorSupabaseDown,
			Level:          LevelHigh,
			Message:        fmt.Sprintf("Supabase success rate: %.1f%% (threshold: %.1f%%)", rate, d.config.SupabaseSuccessFloor),
			Recommendation: "Check Supabase status and credentials",
		})
	}

	// Check #5: run duration spiked past baseline * factor.
	if stats, ok := summary.Stats(MetricRunDuration); ok && stats.Mean > 0 {
		if dur, present := current[MetricRunDuration]; present && dur > stats.Mean*d.config.RuntimeSpikeFactor {
			signals = append(signals, Signal{
				Attractor:      AttractorRuntimeSpike,
				Level:          LevelMedium,
				Message:        fmt.Sprintf("Run duration: %.1fs (baseline: %.1fs)", dur, stats.Mean),
				Recommendation: "Investigate slow stages, consider reducing workload",
			})
		}
	}

	// Check #6: UI driver failed to initialize.
	if metricOr(current, MetricUIInitFailures, 0) > 0 {
		signals = append(signals, Signal{
			Attractor:      AttractorPlaywrightInitFail,
			Level:          LevelHigh,
			Message:        "UI driver initialization failed",
			Recommendation: "Disable UI fallback until driver is fixed",
		})
	}

	return signals
}

func metricOr(metrics map[string]float64, name string, fallback float64) float64 {
	if v, ok := metrics[name]; ok {
		return v
	}
	return fallback
}

// #endregion check-risks

// #region count-by-level

// CountByLevel buckets signals by severity for reporting.
func CountByLevel(signals []Signal) map[Level]int {
	counts := map[Level]int{LevelLow: 0, LevelMedium: 0, LevelHigh: 0}
	for _, s := range signals {
		counts[s.Level]++
	}
	return counts
}

// #endregion count-by-level
