package feedback

import (
	"fmt"
	"log"
	"time"

	"github.com/grail-labs/overlord/internal/baseline"
	"github.com/grail-labs/overlord/internal/verify"
)

// #region loop

// Loop closes the learning cycle: every verification becomes an outcome
// record, and the post-change metrics of changes that worked are folded back
// into the baseline so the next cycle measures against the improved normal.
type Loop struct {
	outcomes *Registry
	baseline *baseline.Store
	now      func() time.Time
}

// NewLoop wires the loop over the outcome registry and baseline store.
func NewLoop(outcomes *Registry, bl *baseline.Store) *Loop {
	return &Loop{outcomes: outcomes, baseline: bl, now: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (l *Loop) SetClock(now func() time.Time) { l.now = now }

// #endregion loop

// #region process

// ProcessVerification records the outcome for one verified plan. Post-change
// metrics enrich the baseline only on success or partial success: failed and
// negative changes must not teach the system a worse normal.
func (l *Loop) ProcessVerification(res verify.VerificationResult, postMetrics map[string]float64) (OutcomeRecord, error) {
	rec := OutcomeRecord{
		PlanID:      res.PlanID,
		Outcome:     OutcomeFor(res),
		GainPercent: res.Gain.AveragePercent,
		RecordedAt:  l.now(),
	}
	if err := l.outcomes.Record(rec); err != nil {
		return rec, fmt.Errorf("record outcome: %w", err)
	}

	if rec.Outcome == OutcomeSuccess || rec.Outcome == OutcomePartial {
		for name, value := range postMetrics {
			l.baseline.Record(name, value)
		}
		l.baseline.CommitSession()
		log.Printf("[FEEDBACK] %s: %s (%.1f%%), baseline enriched with %d metrics",
			rec.PlanID, rec.Outcome, rec.GainPercent, len(postMetrics))
	} else {
		log.Printf("[FEEDBACK] %s: %s (%.1f%%), baseline unchanged",
			rec.PlanID, rec.Outcome, rec.GainPercent)
	}
	return rec, nil
}

// MarkRolledBack records a manual rollback of an applied plan.
func (l *Loop) MarkRolledBack(planID, notes string) (OutcomeRecord, error) {
	rec := OutcomeRecord{
		PlanID:     planID,
		Outcome:    OutcomeRolledBack,
		RecordedAt: l.now(),
		Notes:      notes,
	}
	if err := l.outcomes.Record(rec); err != nil {
		return rec, fmt.Errorf("record rollback: %w", err)
	}
	log.Printf("[FEEDBACK] %s: rolled back (%s)", planID, notes)
	return rec, nil
}

// #endregion process
