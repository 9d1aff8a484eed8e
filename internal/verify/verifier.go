package verify

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/grail-labs/overlord/internal/approval"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS verifications (
	plan_id     TEXT NOT NULL,
	verified_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verifications_plan ON verifications (plan_id);
`

// #endregion schema

// #region result

// VerificationResult is the full post-change assessment for one applied plan.
type VerificationResult struct {
	PlanID              string      `json:"plan_id"`
	VerifiedAt          time.Time   `json:"verified_at"`
	Status              string      `json:"status"` // verified | failed
	Gain                GainResult  `json:"gain"`
	Drift               DriftResult `json:"drift"`
	RollbackRecommended bool        `json:"rollback_recommended"`
	Reason              string      `json:"reason,omitempty"`
}

// #endregion result

// #region verifier

// Verifier measures what an applied change actually did: promised gain,
// unpromised drift, and whether the approval record still checks out.
type Verifier struct {
	db                *sql.DB
	tolerancePercent  float64
	strongGainPercent float64
	now               func() time.Time
}

// NewVerifier runs the migration. tolerancePercent is the drift band within
// which unrelated metric movement is ignored; strongGainPercent is the
// average gain above which a change counts as a full success.
func NewVerifier(db *sql.DB, tolerancePercent, strongGainPercent float64) (*Verifier, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate verifications: %w", err)
	}
	return &Verifier{
		db:                db,
		tolerancePercent:  tolerancePercent,
		strongGainPercent: strongGainPercent,
		now:               time.Now,
	}, nil
}

// SetClock injects a deterministic clock for tests.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// #endregion verifier

// #region verify

// Verify assesses one applied plan against pre-change baseline means and
// post-change observations. Integrity is checked before anything else: a
// tampered record fails verification outright with rollback recommended.
func (v *Verifier) Verify(a *approval.ApprovedChangePlan, pre, post map[string]float64) (VerificationResult, error) {
	res := VerificationResult{PlanID: a.PlanID, VerifiedAt: v.now()}

	if !a.VerifyIntegrity() {
		res.Status = "failed"
		res.RollbackRecommended = true
		res.Reason = "integrity check failed: approval record does not match plan"
		log.Printf("[VERIFY] %s: %s", a.PlanID, res.Reason)
		return res, v.persist(res)
	}
	if a.Status != approval.StatusApplied {
		res.Status = "failed"
		res.Reason = fmt.Sprintf("plan not applied (status %s)", a.Status)
		return res, v.persist(res)
	}

	res.Gain = ValidateGain(a.Plan.ExpectedMetrics, pre, post, v.strongGainPercent)
	res.Drift = DetectDrift(pre, post, a.Plan.ExpectedMetrics, v.tolerancePercent)
	res.Status = "verified"
	// Any regression flags the result, however small; the recommender grades
	// how urgently to act on it.
	res.RollbackRecommended = res.Drift.Severity == DriftCritical ||
		res.Gain.Class == GainNegative

	log.Printf("[VERIFY] %s: gain=%s (%.1f%%) drift=%s rollback=%v",
		a.PlanID, res.Gain.Class, res.Gain.AveragePercent, res.Drift.Severity, res.RollbackRecommended)
	return res, v.persist(res)
}

func (v *Verifier) persist(res VerificationResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode verification: %w", err)
	}
	_, err = v.db.Exec(
		`INSERT INTO verifications (plan_id, verified_at, status, payload) VALUES (?, ?, ?, ?)`,
		res.PlanID, res.VerifiedAt.Format(time.RFC3339Nano), res.Status, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// #endregion verify

// #region queries

// History returns all verification results for a plan, oldest first.
func (v *Verifier) History(planID string) ([]VerificationResult, error) {
	rows, err := v.db.Query(
		`SELECT payload FROM verifications WHERE plan_id = ? ORDER BY verified_at ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var results []VerificationResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		var res VerificationResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, fmt.Errorf("decode verification: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Latest returns the most recent verification for a plan, or false.
func (v *Verifier) Latest(planID string) (VerificationResult, bool, error) {
	results, err := v.History(planID)
	if err != nil || len(results) == 0 {
		return VerificationResult{}, false, err
	}
	return results[len(results)-1], true, nil
}

// #endregion queries

// #region summary

// Summary aggregates all verifications for reporting.
type Summary struct {
	Total               int     `json:"total"`
	Verified            int     `json:"verified"`
	Failed              int     `json:"failed"`
	RollbackRecommended int     `json:"rollback_recommended"`
	SuccessRate         float64 `json:"success_rate"`
}

// Summarize counts verifications by status across all plans.
func (v *Verifier) Summarize() (Summary, error) {
	rows, err := v.db.Query(`SELECT payload FROM verifications`)
	if err != nil {
		return Summary{}, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var s Summary
	clean := 0
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return Summary{}, fmt.Errorf("scan verification: %w", err)
		}
		var res VerificationResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return Summary{}, fmt.Errorf("decode verification: %w", err)
		}
		s.Total++
		if res.Status == "verified" {
			s.Verified++
		} else {
			s.Failed++
		}
		if res.RollbackRecommended {
			s.RollbackRecommended++
		} else if res.Status == "verified" {
			clean++
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	if s.Total > 0 {
		s.SuccessRate = float64(clean) / float64(s.Total)
	}
	return s, nil
}

// #endregion summary
