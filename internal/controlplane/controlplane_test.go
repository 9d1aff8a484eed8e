package controlplane

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/grail-labs/overlord/internal/config"
	"github.com/grail-labs/overlord/internal/feedback"
	"github.com/grail-labs/overlord/internal/plan"
	"github.com/grail-labs/overlord/internal/risk"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "overlord.db")
	cfg.ParametersFile = filepath.Join(dir, "parameters.json")
	cfg.BackupDir = filepath.Join(dir, "backups")
	return cfg
}

func openTestSystem(t *testing.T) *System {
	t.Helper()
	sys, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

// TestFullCycle walks the whole sanctioned-autonomy path: healthy sessions
// build a baseline, a degraded session proposes a plan, a human approves it,
// the applier changes the parameter file, and verification closes the loop.
func TestFullCycle(t *testing.T) {
	sys := openTestSystem(t)

	for _, score := range []float64{95, 100, 96} {
		rep, err := sys.RunCycle(map[string]float64{risk.MetricAPIFirstScore: score})
		if err != nil {
			t.Fatal(err)
		}
		if len(rep.ProposedPlans) != 0 {
			t.Fatalf("healthy session must not propose plans: %+v", rep.ProposedPlans)
		}
	}

	rep, err := sys.RunCycle(map[string]float64{risk.MetricAPIFirstScore: 70})
	if err != nil {
		t.Fatal(err)
	}
	if rep.RiskCounts[risk.LevelMedium] == 0 {
		t.Fatal("degraded score should raise a medium risk")
	}
	if len(rep.ProposedPlans) != 1 {
		t.Fatalf("expected 1 proposed plan, got %d", len(rep.ProposedPlans))
	}
	p := rep.ProposedPlans[0]
	if p.RiskTier != plan.TierSafe {
		t.Fatalf("generated plan should be safe tier, got %s", p.RiskTier)
	}

	approved, err := sys.Approver.Approve(p, "alice", "looks reasonable", sys.ApprovalTTL())
	if err != nil {
		t.Fatal(err)
	}

	res := sys.Applier.Apply(approved)
	if !res.Applied {
		t.Fatalf("apply refused: %s", res.Reason)
	}
	cfg, err := sys.ParamFile.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parameters["api_retry_count"] != 5 {
		t.Fatalf("parameter file not updated: %+v", cfg.Parameters)
	}

	pre := map[string]float64{risk.MetricAPIFirstScore: 70}
	post := map[string]float64{risk.MetricAPIFirstScore: 90}
	vres, err := sys.VerifyApplied(p.ID, pre, post)
	if err != nil {
		t.Fatal(err)
	}
	if vres.Status != "verified" {
		t.Fatalf("expected verified, got %s (%s)", vres.Status, vres.Reason)
	}
	if vres.RollbackRecommended {
		t.Fatalf("improvement should not recommend rollback: %+v", vres)
	}

	outcome, ok, err := sys.Outcomes.Latest(p.ID)
	if err != nil || !ok {
		t.Fatalf("expected a recorded outcome: %v", err)
	}
	if outcome.Outcome != feedback.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", outcome.Outcome)
	}

	// The applied plan is consumed: a second apply must refuse.
	if res := sys.Applier.Apply(approved); res.Applied {
		t.Fatal("a consumed approval must not be replayable")
	}
}

func TestApplyWithoutApprovalImpossible(t *testing.T) {
	sys := openTestSystem(t)

	// A plan that was proposed but never approved has no approval record, so
	// there is nothing the applier will act on.
	if a := sys.Approvals.ByPlanID("plan_nonexistent"); a != nil {
		t.Fatal("expected no approval")
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	cfg := testConfig(t)

	sys, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, score := range []float64{95, 100} {
		if _, err := sys.RunCycle(map[string]float64{risk.MetricAPIFirstScore: score}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sys.Close(); err != nil {
		t.Fatal(err)
	}

	sys2, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sys2.Close()

	summary, ok := sys2.Baseline.Summary()
	if !ok || summary.TotalSessions != 2 {
		t.Fatalf("baseline must survive a restart, got %v sessions", summary.TotalSessions)
	}
	if _, ok, err := sys2.Reports.Latest(); err != nil || !ok {
		t.Fatalf("reports must survive a restart: %v", err)
	}
}

// TestAppliedTTLChangesEngineBehavior checks the wiring that makes TTL-tuning
// plans meaningful: the engine reads signal lifetimes from the live parameter
// file on every cycle.
func TestAppliedTTLChangesEngineBehavior(t *testing.T) {
	sys := openTestSystem(t)

	for _, score := range []float64{95, 100} {
		if _, err := sys.RunCycle(map[string]float64{risk.MetricAPIFirstScore: score}); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := sys.ParamFile.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Parameters["ttl_short"] = 2700
	if err := sys.ParamFile.Save(cfg); err != nil {
		t.Fatal(err)
	}

	// A score drop raises an execution guard, which uses the short TTL.
	if _, err := sys.RunCycle(map[string]float64{risk.MetricAPIFirstScore: 60}); err != nil {
		t.Fatal(err)
	}
	active := sys.Engine.ActiveSignals()
	if len(active) != 1 {
		t.Fatalf("expected 1 active signal, got %d", len(active))
	}
	ttl := active[0].ExpiresAt.Sub(active[0].CreatedAt)
	if ttl != 45*time.Minute {
		t.Fatalf("expected signal TTL 45m from the updated parameter, got %s", ttl)
	}
}
