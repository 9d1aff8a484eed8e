package plan

import (
	"fmt"
	"log"
	"time"

	"github.com/grail-labs/overlord/internal/baseline"
	"github.com/grail-labs/overlord/internal/risk"
	"github.com/grail-labs/overlord/internal/signals"
)

// #region generator-config

// GeneratorConfig holds the trend thresholds for plan proposals.
type GeneratorConfig struct {
	DegradationFactor   float64 // current < baseline mean * this → API trend plan
	MinSessions         int     // minimum committed sessions for trend analysis
	UIFallbackCurrent   float64 // current fallbacks above this
	UIFallbackBaseline  float64 // and baseline mean above this → fallback plan
	MinDecisions        int     // decision history needed for churn analysis
	ChurnActivations    int     // activations at or above this → TTL plan
	DecisionLookback    int     // how many recent decisions to inspect
}

// DefaultGeneratorConfig returns the standard thresholds.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		DegradationFactor:  0.9,
		MinSessions:        3,
		UIFallbackCurrent:  3,
		UIFallbackBaseline: 2,
		MinDecisions:       5,
		ChurnActivations:   3,
		DecisionLookback:   50,
	}
}

// #endregion generator-config

// #region generator

// Generator runs stateless trend analyses over the baseline, current metrics,
// and recent decision history, and proposes scoped change plans. Plans are
// purely additive proposals: generation never mutates any other entity.
type Generator struct {
	baseline *baseline.Store
	config   GeneratorConfig
	now      func() time.Time
}

// NewGenerator creates a generator over the baseline store.
func NewGenerator(store *baseline.Store, config GeneratorConfig) *Generator {
	return &Generator{baseline: store, config: config, now: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// #endregion generator

// #region analyze-and-plan

// AnalyzeAndPlan runs every analysis and collects the plans that fired.
// Cold start (no baseline) yields no plans.
func (g *Generator) AnalyzeAndPlan(current map[string]float64, decisions []signals.DecisionRecord) []ChangePlan {
	summary, ok := g.baseline.Summary()
	if !ok {
		return nil
	}

	var plans []ChangePlan
	if p := g.analyzeAPIFirstTrend(summary, current); p != nil {
		plans = append(plans, *p)
	}
	if p := g.analyzeUIFallbackPattern(summary, current); p != nil {
		plans = append(plans, *p)
	}
	if p := g.analyzeSignalChurn(decisions); p != nil {
		plans = append(plans, *p)
	}

	if len(plans) > 0 {
		log.Printf("[PLANNER] %d change plans generated", len(plans))
	}
	return plans
}

// #endregion analyze-and-plan

// #region api-trend

// analyzeAPIFirstTrend proposes raising retry/timeout parameters when the
// API-first score sits persistently below baseline.
func (g *Generator) analyzeAPIFirstTrend(summary baseline.Baseline, current map[string]float64) *ChangePlan {
	stats, ok := summary.Stats(risk.MetricAPIFirstScore)
	if !ok {
		return nil
	}
	score, present := current[risk.MetricAPIFirstScore]
	if !present {
		score = 100.0
	}

	if score >= stats.Mean*g.config.DegradationFactor || summary.TotalSessions < g.config.MinSessions {
		return nil
	}

	p := New(
		"Increase API retry attempts before UI fallback",
		ScopeParameter,
		fmt.Sprintf("API-first score: %.1f%% vs baseline %.1f%%. Consistent degradation over %d sessions.",
			score, stats.Mean, summary.TotalSessions),
		"Reduce UI fallbacks by 20-30%, improve API-first compliance",
		map[string]float64{
			"api_retry_count": 5,
			"api_timeout_ms":  15000,
		},
		g.now(),
	)
	p.MetricsEvidence = map[string]float64{
		"baseline_api_score": stats.Mean,
		"current_api_score":  score,
		"sessions_analyzed":  float64(summary.TotalSessions),
	}
	p.ExpectedMetrics = map[string]float64{
		risk.MetricAPIFirstScore: stats.Mean,
	}
	return &p
}

// #endregion api-trend

// #region ui-fallback

// analyzeUIFallbackPattern proposes tightening the fallback threshold when
// fallbacks run persistently high.
func (g *Generator) analyzeUIFallbackPattern(summary baseline.Baseline, current map[string]float64) *ChangePlan {
	stats, ok := summary.Stats(risk.MetricUIFallbacks)
	if !ok {
		return nil
	}
	fallbacks := current[risk.MetricUIFallbacks]

	if fallbacks <= g.config.UIFallbackCurrent || stats.Mean <= g.config.UIFallbackBaseline {
		return nil
	}

	p := New(
		"Tighten UI fallback threshold and health checking",
		ScopeParameter,
		fmt.Sprintf("UI fallbacks: %.0f (baseline avg: %.1f). API may be temporarily unavailable; recommend health check before fallback.",
			fallbacks, stats.Mean),
		"Reduce unnecessary UI fallbacks, faster API recovery detection",
		map[string]float64{
			"ui_fallback_threshold": 3,
		},
		g.now(),
	)
	p.MetricsEvidence = map[string]float64{
		"baseline_ui_fallbacks": stats.Mean,
		"current_ui_fallbacks":  fallbacks,
	}
	p.ExpectedMetrics = map[string]float64{
		risk.MetricUIFallbacks: fallbacks * 0.7,
	}
	return &p
}

// #endregion ui-fallback

// #region signal-churn

// analyzeSignalChurn proposes retuning TTL durations when signals activate
// frequently in recent history.
func (g *Generator) analyzeSignalChurn(decisions []signals.DecisionRecord) *ChangePlan {
	if len(decisions) < g.config.MinDecisions {
		return nil
	}

	activations := 0
	for _, d := range decisions {
		if d.Action == signals.ActionSignalActivated {
			activations++
		}
	}
	if activations < g.config.ChurnActivations {
		return nil
	}

	p := New(
		"Optimize control signal TTL durations",
		ScopeParameter,
		fmt.Sprintf("%d signal activations in recent history. TTL adjustment may prevent signal churn.", activations),
		"Reduce signal overhead, stabilize control loop",
		map[string]float64{
			"ttl_short":  2700,
			"ttl_medium": 4500,
			"ttl_long":   9000,
		},
		g.now(),
	)
	p.MetricsEvidence = map[string]float64{
		"total_decisions":    float64(len(decisions)),
		"signal_activations": float64(activations),
	}
	return &p
}

// #endregion signal-churn
