package feedback

import (
	"time"

	"github.com/grail-labs/overlord/internal/verify"
)

// #region outcome

// Outcome is the final judgement on one applied plan, derived from its
// verification result or from a manual rollback.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomePartial    Outcome = "partial_success"
	OutcomeNoEffect   Outcome = "no_effect"
	OutcomeNegative   Outcome = "negative"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// OutcomeFor maps a verification result to an outcome. A rollback
// recommendation overrides the gain class: a change we advise undoing is
// negative no matter what it gained.
func OutcomeFor(res verify.VerificationResult) Outcome {
	if res.Status == "failed" {
		return OutcomeFailed
	}
	if res.RollbackRecommended {
		return OutcomeNegative
	}
	switch res.Gain.Class {
	case verify.GainSuccess:
		return OutcomeSuccess
	case verify.GainPartial:
		return OutcomePartial
	case verify.GainNoEffect:
		return OutcomeNoEffect
	default:
		return OutcomeNegative
	}
}

// #endregion outcome

// #region record

// OutcomeRecord is one entry in the learning history.
type OutcomeRecord struct {
	PlanID      string    `json:"plan_id"`
	Outcome     Outcome   `json:"outcome"`
	GainPercent float64   `json:"gain_percent"`
	RecordedAt  time.Time `json:"recorded_at"`
	Notes       string    `json:"notes,omitempty"`
}

// Statistics summarizes the outcome history for reporting and for weighting
// future plan generation.
type Statistics struct {
	Total       int             `json:"total"`
	ByOutcome   map[Outcome]int `json:"by_outcome"`
	AverageGain float64         `json:"average_gain"`
	SuccessRate float64         `json:"success_rate"`
}

// #endregion record
