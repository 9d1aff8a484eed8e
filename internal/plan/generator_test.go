package plan

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grail-labs/overlord/internal/baseline"
	"github.com/grail-labs/overlord/internal/risk"
	"github.com/grail-labs/overlord/internal/signals"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBaseline(t *testing.T, sessions []map[string]float64) *baseline.Store {
	t.Helper()
	store, err := baseline.NewStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, session := range sessions {
		for name, v := range session {
			store.Record(name, v)
		}
		store.CommitSession()
	}
	return store
}

func TestColdStartProposesNothing(t *testing.T) {
	store, err := baseline.NewStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	g := NewGenerator(store, DefaultGeneratorConfig())

	plans := g.AnalyzeAndPlan(map[string]float64{risk.MetricAPIFirstScore: 10}, nil)
	if plans != nil {
		t.Fatalf("cold start must not propose, got %d plans", len(plans))
	}
}

func TestAPITrendPlan(t *testing.T) {
	store := seedBaseline(t, []map[string]float64{
		{risk.MetricAPIFirstScore: 95},
		{risk.MetricAPIFirstScore: 100},
		{risk.MetricAPIFirstScore: 96},
	})
	g := NewGenerator(store, DefaultGeneratorConfig())

	plans := g.AnalyzeAndPlan(map[string]float64{risk.MetricAPIFirstScore: 70}, nil)
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}

	p := plans[0]
	if p.Scope != ScopeParameter || p.RiskTier != TierSafe {
		t.Fatalf("API trend plan should be parameter/safe, got %s/%s", p.Scope, p.RiskTier)
	}
	if p.Status != StatusProposed {
		t.Fatalf("new plan should be proposed, got %s", p.Status)
	}
	if p.ProposedValues["api_retry_count"] != 5 || p.ProposedValues["api_timeout_ms"] != 15000 {
		t.Fatalf("unexpected proposed values: %+v", p.ProposedValues)
	}
	if len(p.AffectedParameters) != 2 || p.AffectedParameters[0] != "api_retry_count" {
		t.Fatalf("affected parameters should be the sorted key set: %v", p.AffectedParameters)
	}
	if _, ok := p.ExpectedMetrics[risk.MetricAPIFirstScore]; !ok {
		t.Fatal("expected metrics should name the score target")
	}
}

func TestAPITrendNeedsMinSessions(t *testing.T) {
	store := seedBaseline(t, []map[string]float64{
		{risk.MetricAPIFirstScore: 95},
		{risk.MetricAPIFirstScore: 100},
	})
	g := NewGenerator(store, DefaultGeneratorConfig())

	plans := g.AnalyzeAndPlan(map[string]float64{risk.MetricAPIFirstScore: 70}, nil)
	if len(plans) != 0 {
		t.Fatalf("2 sessions is below the minimum, got %d plans", len(plans))
	}
}

func TestUIFallbackPlan(t *testing.T) {
	store := seedBaseline(t, []map[string]float64{
		{risk.MetricUIFallbacks: 3},
		{risk.MetricUIFallbacks: 4},
	})
	g := NewGenerator(store, DefaultGeneratorConfig())

	plans := g.AnalyzeAndPlan(map[string]float64{risk.MetricUIFallbacks: 6}, nil)
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	p := plans[0]
	if p.ProposedValues["ui_fallback_threshold"] != 3 {
		t.Fatalf("unexpected proposed values: %+v", p.ProposedValues)
	}
	// Expected fallbacks: 30% reduction from current.
	if want := 6 * 0.7; p.ExpectedMetrics[risk.MetricUIFallbacks] != want {
		t.Fatalf("expected %v, got %v", want, p.ExpectedMetrics[risk.MetricUIFallbacks])
	}
}

func TestSignalChurnPlan(t *testing.T) {
	store := seedBaseline(t, []map[string]float64{
		{risk.MetricAPIFirstScore: 95},
		{risk.MetricAPIFirstScore: 100},
	})
	g := NewGenerator(store, DefaultGeneratorConfig())

	var decisions []signals.DecisionRecord
	for i := 0; i < 4; i++ {
		decisions = append(decisions, signals.DecisionRecord{Action: signals.ActionSignalActivated})
	}
	decisions = append(decisions, signals.DecisionRecord{Action: signals.ActionSignalExpired})

	plans := g.AnalyzeAndPlan(map[string]float64{risk.MetricAPIFirstScore: 100}, decisions)
	if len(plans) != 1 {
		t.Fatalf("expected 1 churn plan, got %d", len(plans))
	}
	p := plans[0]
	if p.ProposedValues["ttl_short"] != 2700 || p.ProposedValues["ttl_long"] != 9000 {
		t.Fatalf("unexpected TTL proposal: %+v", p.ProposedValues)
	}
}

func TestTierForScope(t *testing.T) {
	cases := []struct {
		scope Scope
		want  RiskTier
	}{
		{ScopeParameter, TierSafe},
		{ScopeLogic, TierReview},
		{ScopeArchitecture, TierForbidden},
	}
	for _, c := range cases {
		if got := TierForScope(c.scope); got != c.want {
			t.Errorf("TierForScope(%s) = %s, want %s", c.scope, got, c.want)
		}
	}
}

func TestNewPlanDerivesTier(t *testing.T) {
	now := time.Now()
	p := New("change a guard condition", ScopeLogic, "because", "faster", nil, now)
	if p.RiskTier != TierReview {
		t.Fatalf("logic scope must be review tier, got %s", p.RiskTier)
	}
	if !p.RequiresHumanApproval {
		t.Fatal("non-safe plans require human approval")
	}

	p = New("tune a threshold", ScopeParameter, "because", "better", map[string]float64{"x": 1}, now)
	if p.RiskTier != TierSafe {
		t.Fatalf("parameter scope must be safe tier, got %s", p.RiskTier)
	}
	if p.RollbackStrategy != "Restore from pre-apply backup" {
		t.Fatalf("unexpected rollback strategy: %s", p.RollbackStrategy)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg, err := NewRegistry(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	p := New("tune", ScopeParameter, "j", "g", map[string]float64{"x": 1}, time.Now())
	if err := reg.Add(p); err != nil {
		t.Fatal(err)
	}

	got, err := reg.Get(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "tune" || got.Status != StatusProposed {
		t.Fatalf("unexpected plan: %+v", got)
	}

	if err := reg.UpdateStatus(p.ID, StatusApproved); err != nil {
		t.Fatal(err)
	}
	approved, err := reg.ByStatus(StatusApproved)
	if err != nil {
		t.Fatal(err)
	}
	if len(approved) != 1 || approved[0].ID != p.ID {
		t.Fatalf("expected the approved plan, got %+v", approved)
	}
	proposed, err := reg.ByStatus(StatusProposed)
	if err != nil {
		t.Fatal(err)
	}
	if len(proposed) != 0 {
		t.Fatal("plan should have left the proposed set")
	}
}
