package signals

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grail-labs/overlord/internal/baseline"
	"github.com/grail-labs/overlord/internal/risk"
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

// newTestEngine wires an engine over a two-session baseline so the detector's
// checks are live. The returned clock pointer advances test time.
func newTestEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	store, err := baseline.NewStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, score := range []float64{95, 100} {
		store.Record(risk.MetricAPIFirstScore, score)
		store.CommitSession()
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(risk.NewDetector(store, risk.DefaultDetectorConfig()), nil, DefaultParams())
	e.SetClock(func() time.Time { return now })
	return e, &now
}

func healthy() map[string]float64 {
	return map[string]float64{risk.MetricAPIFirstScore: 100}
}

func TestHardLimitForcesDemoMode(t *testing.T) {
	e, _ := newTestEngine(t)

	controls := e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})

	if !controls.ForceDemoMode || !controls.BlockLiveMode {
		t.Fatalf("hard limit should force demo and block live: %+v", controls)
	}
	active := e.ActiveSignals()
	if len(active) != 1 {
		t.Fatalf("expected 1 active signal, got %d", len(active))
	}
	if active[0].Type != SignalHardLimit {
		t.Fatalf("expected hard_limit, got %s", active[0].Type)
	}
}

func TestModeDowngradeDisablesUIFallback(t *testing.T) {
	e, _ := newTestEngine(t)

	controls := e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore:  100,
		risk.MetricUIInitFailures: 1,
	})

	if !controls.DisableUIFallback {
		t.Fatalf("mode downgrade should disable UI fallback: %+v", controls)
	}
	if controls.ForceDemoMode {
		t.Fatal("mode downgrade must not force demo mode")
	}
}

func TestEarlyExitCapsPredictions(t *testing.T) {
	// Seed run_duration baseline so the spike check is live.
	store, err := baseline.NewStore(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, dur := range []float64{100, 120} {
		store.Record(risk.MetricRunDuration, dur)
		store.Record(risk.MetricAPIFirstScore, 100)
		store.CommitSession()
	}
	e := NewEngine(risk.NewDetector(store, risk.DefaultDetectorConfig()), nil, DefaultParams())

	controls := e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricRunDuration:   300,
	})

	if !controls.EarlyExit {
		t.Fatalf("runtime spike should arm early exit: %+v", controls)
	}
	if controls.MaxPredictions != 5 {
		t.Fatalf("expected prediction cap 5, got %d", controls.MaxPredictions)
	}
	exit, reason := controls.ShouldExitEarly()
	if !exit || reason == "" {
		t.Fatalf("expected early exit with reason, got %v %q", exit, reason)
	}
}

func TestRepeatSignalExtendsNotDuplicates(t *testing.T) {
	e, now := newTestEngine(t)
	degraded := map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	}

	e.EvaluateAndApply(degraded)
	firstExpiry := e.ActiveSignals()[0].ExpiresAt

	*now = now.Add(30 * time.Minute)
	e.EvaluateAndApply(degraded)

	active := e.ActiveSignals()
	if len(active) != 1 {
		t.Fatalf("repeat condition must coalesce, got %d signals", len(active))
	}
	if !active[0].ExpiresAt.After(firstExpiry) {
		t.Fatal("repeat condition should extend the expiry")
	}
}

func TestExpiryClearsControls(t *testing.T) {
	e, now := newTestEngine(t)

	e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})
	if !e.Controls().ForceDemoMode {
		t.Fatal("setup: demo mode should be forced")
	}

	// Past the long TTL (2h default), a healthy cycle sweeps the signal.
	*now = now.Add(3 * time.Hour)
	controls := e.EvaluateAndApply(healthy())

	if controls.ForceDemoMode || controls.BlockLiveMode {
		t.Fatalf("expired signal must clear its effects: %+v", controls)
	}
	if len(e.ActiveSignals()) != 0 {
		t.Fatal("expected no active signals after expiry")
	}
}

func TestRevokeRebuildsControls(t *testing.T) {
	e, _ := newTestEngine(t)

	e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})
	sigID := e.ActiveSignals()[0].ID

	if !e.Revoke(sigID) {
		t.Fatal("expected revoke to succeed")
	}
	if e.Controls().ForceDemoMode {
		t.Fatal("revocation must clear the forced demo mode")
	}
	if e.Revoke("sig_unknown") {
		t.Fatal("unknown signal must not revoke")
	}
}

func TestRiskSignalsExposedPerCycle(t *testing.T) {
	e, _ := newTestEngine(t)

	e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})
	detected := e.RiskSignals()
	if len(detected) != 1 || detected[0].Attractor != risk.AttractorDemoOnlyMode {
		t.Fatalf("expected the demo-only risk from this cycle, got %+v", detected)
	}

	e.EvaluateAndApply(healthy())
	if len(e.RiskSignals()) != 0 {
		t.Fatal("a healthy cycle must report no risk signals")
	}
}

func TestConfidenceThresholdFromParams(t *testing.T) {
	e, _ := newTestEngine(t)
	controls := e.EvaluateAndApply(healthy())
	if controls.ConfidenceThreshold != 0.70 {
		t.Fatalf("expected confidence 0.70, got %.2f", controls.ConfidenceThreshold)
	}
}

func TestDecisionLogRecordsLifecycle(t *testing.T) {
	db := newTestDB(t)
	decisions, err := NewDecisionLog(db)
	if err != nil {
		t.Fatal(err)
	}

	store, err := baseline.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	for _, score := range []float64{95, 100} {
		store.Record(risk.MetricAPIFirstScore, score)
		store.CommitSession()
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(risk.NewDetector(store, risk.DefaultDetectorConfig()), decisions, DefaultParams())
	e.SetClock(func() time.Time { return now })

	e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})
	now = now.Add(3 * time.Hour)
	e.EvaluateAndApply(healthy())

	records, err := decisions.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected activation + expiry, got %d records", len(records))
	}
	if records[0].Action != ActionSignalActivated {
		t.Fatalf("expected signal_activated first, got %s", records[0].Action)
	}
	if records[0].Signal == nil || records[0].Signal.Type != SignalHardLimit {
		t.Fatal("activation record should embed the signal")
	}
	if records[1].Action != ActionSignalExpired {
		t.Fatalf("expected signal_expired second, got %s", records[1].Action)
	}
}

func TestSignalsSurviveRestart(t *testing.T) {
	db := newTestDB(t)
	store, err := NewSignalStore(db)
	if err != nil {
		t.Fatal(err)
	}

	bl, err := baseline.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	for _, score := range []float64{95, 100} {
		bl.Record(risk.MetricAPIFirstScore, score)
		bl.CommitSession()
	}
	detector := risk.NewDetector(bl, risk.DefaultDetectorConfig())

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e1 := NewEngine(detector, nil, DefaultParams())
	e1.SetClock(func() time.Time { return now })
	if err := e1.AttachStore(store); err != nil {
		t.Fatal(err)
	}
	e1.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})
	sigID := e1.ActiveSignals()[0].ID

	// A fresh engine over the same store, within the TTL, rehydrates the
	// signal and its effects.
	e2 := NewEngine(detector, nil, DefaultParams())
	e2.SetClock(func() time.Time { return now.Add(time.Hour) })
	if err := e2.AttachStore(store); err != nil {
		t.Fatal(err)
	}
	if len(e2.ActiveSignals()) != 1 || e2.ActiveSignals()[0].ID != sigID {
		t.Fatal("active signal should survive a restart")
	}
	if !e2.Controls().ForceDemoMode {
		t.Fatal("rehydrated controls should reflect the hard limit")
	}

	// Past the TTL, a fresh engine starts clean.
	e3 := NewEngine(detector, nil, DefaultParams())
	e3.SetClock(func() time.Time { return now.Add(3 * time.Hour) })
	if err := e3.AttachStore(store); err != nil {
		t.Fatal(err)
	}
	if len(e3.ActiveSignals()) != 0 {
		t.Fatal("expired signal must not rehydrate")
	}

	// Revocation in one engine is visible to the next.
	if !e2.Revoke(sigID) {
		t.Fatal("expected revoke to succeed")
	}
	e4 := NewEngine(detector, nil, DefaultParams())
	e4.SetClock(func() time.Time { return now.Add(time.Hour) })
	if err := e4.AttachStore(store); err != nil {
		t.Fatal(err)
	}
	if len(e4.ActiveSignals()) != 0 {
		t.Fatal("revoked signal must not rehydrate")
	}
}

func TestGuardReflectsControls(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGuard(e)

	if ok, _ := g.CanEnterLiveMode(); !ok {
		t.Fatal("live mode should be allowed with no signals")
	}

	e.EvaluateAndApply(map[string]float64{
		risk.MetricAPIFirstScore: 100,
		risk.MetricDemoFallbacks: 1,
	})

	ok, reason := g.CanEnterLiveMode()
	if ok {
		t.Fatal("live mode must be blocked under a hard limit")
	}
	if reason == "" {
		t.Fatal("expected a blocking reason")
	}
	if g.ConfidenceThreshold() != 0.70 {
		t.Fatalf("expected confidence 0.70, got %.2f", g.ConfidenceThreshold())
	}
	if _, capped := g.PredictionLimit(); capped {
		t.Fatal("no prediction cap expected under a hard limit")
	}
}
