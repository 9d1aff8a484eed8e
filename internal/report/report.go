package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grail-labs/overlord/internal/baseline"
	"github.com/grail-labs/overlord/internal/feedback"
	"github.com/grail-labs/overlord/internal/plan"
	"github.com/grail-labs/overlord/internal/risk"
	"github.com/grail-labs/overlord/internal/signals"
)

// #region report

// Report is the per-cycle synthesis: what the system saw, what it did about
// it, and what it wants a human to look at.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	BaselineSessions int                             `json:"baseline_sessions"`
	BaselineMetrics  map[string]baseline.MetricStats `json:"baseline_metrics,omitempty"`

	RiskSignals []risk.Signal      `json:"risk_signals,omitempty"`
	RiskCounts  map[risk.Level]int `json:"risk_counts"`

	ActiveSignals []signals.ControlSignal   `json:"active_signals,omitempty"`
	Controls      signals.ExecutionControls `json:"controls"`
	Decisions     []signals.DecisionRecord  `json:"recent_decisions,omitempty"`

	ProposedPlans []plan.ChangePlan `json:"proposed_plans,omitempty"`

	Feedback feedback.Statistics `json:"feedback"`

	Recommendations []string `json:"recommendations,omitempty"`
	Insights        []string `json:"insights,omitempty"`
}

// #endregion report

// #region builder

// Builder assembles reports from the live components.
type Builder struct {
	baseline *baseline.Store
	engine   *signals.Engine
	plans    *plan.Registry
	outcomes *feedback.Registry
	now      func() time.Time
}

// NewBuilder wires the builder. plans and outcomes may be nil when those
// subsystems are not running.
func NewBuilder(bl *baseline.Store, engine *signals.Engine, plans *plan.Registry, outcomes *feedback.Registry) *Builder {
	return &Builder{baseline: bl, engine: engine, plans: plans, outcomes: outcomes, now: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (b *Builder) SetClock(now func() time.Time) { b.now = now }

// Build synthesizes one report from the given cycle's risk signals and recent
// decisions.
func (b *Builder) Build(riskSignals []risk.Signal, decisions []signals.DecisionRecord) Report {
	r := Report{
		GeneratedAt: b.now(),
		RiskSignals: riskSignals,
		RiskCounts:  risk.CountByLevel(riskSignals),
		Controls:    b.engine.Controls(),
		Decisions:   decisions,
	}

	if summary, ok := b.baseline.Summary(); ok {
		r.BaselineSessions = summary.TotalSessions
		r.BaselineMetrics = summary.Metrics
	}
	for _, sig := range b.engine.ActiveSignals() {
		r.ActiveSignals = append(r.ActiveSignals, *sig)
	}
	if b.plans != nil {
		if proposed, err := b.plans.ByStatus(plan.StatusProposed); err == nil {
			r.ProposedPlans = proposed
		}
	}
	if b.outcomes != nil {
		if stats, err := b.outcomes.Stats(); err == nil {
			r.Feedback = stats
		}
	}

	r.Recommendations = recommendations(r)
	r.Insights = insights(r)
	return r
}

// #endregion builder

// #region recommendations

func recommendations(r Report) []string {
	var out []string
	if r.RiskCounts[risk.LevelHigh] > 0 {
		out = append(out, fmt.Sprintf("%d high-severity risk(s) active; review before the next session", r.RiskCounts[risk.LevelHigh]))
	}
	if r.Controls.ForceDemoMode {
		out = append(out, "live mode is blocked; demo mode forced until the triggering signal expires or is revoked")
	}
	if r.Controls.DisableUIFallback {
		out = append(out, "UI fallback disabled; running API-only")
	}
	if r.Controls.EarlyExit {
		out = append(out, "early exit armed: "+r.Controls.EarlyExitReason)
	}
	for _, p := range r.ProposedPlans {
		out = append(out, fmt.Sprintf("plan %s awaits review: %s", p.ID, p.Description))
	}
	return out
}

func insights(r Report) []string {
	var out []string
	if r.BaselineSessions == 0 {
		out = append(out, "no baseline yet; risk checks are inactive until the first session commits")
		return out
	}
	out = append(out, fmt.Sprintf("baseline spans %d session(s)", r.BaselineSessions))
	if r.Feedback.Total > 0 {
		out = append(out, fmt.Sprintf("%d change(s) applied to date, %.0f%% successful, average gain %.1f%%",
			r.Feedback.Total, r.Feedback.SuccessRate*100, r.Feedback.AverageGain))
	}
	return out
}

// #endregion recommendations

// #region render

// Render formats the report as human-readable text.
func Render(r Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Control Plane Report (%s) ===\n", r.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&sb, "\nBaseline: %d session(s)\n", r.BaselineSessions)
	names := make([]string, 0, len(r.BaselineMetrics))
	for name := range r.BaselineMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := r.BaselineMetrics[name]
		fmt.Fprintf(&sb, "  %-24s mean=%.2f min=%.2f max=%.2f stdev=%.2f (n=%d)\n",
			name, s.Mean, s.Min, s.Max, s.Stdev, s.Count)
	}

	fmt.Fprintf(&sb, "\nRisk: high=%d medium=%d low=%d\n",
		r.RiskCounts[risk.LevelHigh], r.RiskCounts[risk.LevelMedium], r.RiskCounts[risk.LevelLow])
	for _, s := range r.RiskSignals {
		fmt.Fprintf(&sb, "  [%s] %s: %s\n", strings.ToUpper(string(s.Level)), s.Attractor, s.Message)
	}

	fmt.Fprintf(&sb, "\nActive signals: %d\n", len(r.ActiveSignals))
	for _, sig := range r.ActiveSignals {
		fmt.Fprintf(&sb, "  %s %s for %s (expires %s)\n",
			sig.ID, sig.Type, sig.Attractor, sig.ExpiresAt.Format(time.RFC3339))
	}

	fmt.Fprintf(&sb, "\nControls: demo=%v blockLive=%v uiFallbackOff=%v confidence=%.2f",
		r.Controls.ForceDemoMode, r.Controls.BlockLiveMode, r.Controls.DisableUIFallback, r.Controls.ConfidenceThreshold)
	if r.Controls.MaxPredictions > 0 {
		fmt.Fprintf(&sb, " maxPredictions=%d", r.Controls.MaxPredictions)
	}
	sb.WriteString("\n")

	if len(r.ProposedPlans) > 0 {
		fmt.Fprintf(&sb, "\nProposed plans: %d\n", len(r.ProposedPlans))
		for _, p := range r.ProposedPlans {
			fmt.Fprintf(&sb, "  %s [%s/%s] %s\n", p.ID, p.Scope, p.RiskTier, p.Description)
		}
	}

	if len(r.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", rec)
		}
	}
	if len(r.Insights) > 0 {
		sb.WriteString("\nInsights:\n")
		for _, in := range r.Insights {
			fmt.Fprintf(&sb, "  - %s\n", in)
		}
	}
	return sb.String()
}

// #endregion render
