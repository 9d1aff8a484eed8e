package verify

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// #region recommendation

// Action is what the recommender suggests a human do about an applied change.
type Action string

const (
	ActionNone     Action = "none"
	ActionMonitor  Action = "monitor"
	ActionRollback Action = "rollback"
)

// Recommendation is advisory only: it is surfaced to humans and never acted
// on automatically.
type Recommendation struct {
	PlanID     string    `json:"plan_id"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// #endregion recommendation

// #region recommend

// Losses beyond this mark the high-confidence rollback tier.
const strongNegativePercent = 5.0

// Recommend maps a verification result to an advisory action. Critical drift
// dominates; a clearly negative gain comes next; significant drift warrants
// watching; anything else needs nothing.
func Recommend(res VerificationResult) Recommendation {
	rec := Recommendation{PlanID: res.PlanID, CreatedAt: res.VerifiedAt}

	switch {
	case res.Status == "failed":
		rec.Action = ActionRollback
		rec.Confidence = 0.95
		rec.Reason = res.Reason
	case res.Drift.Severity == DriftCritical:
		rec.Action = ActionRollback
		rec.Confidence = 0.95
		rec.Reason = fmt.Sprintf("critical drift on %d metric(s)", len(res.Drift.Drifts))
	case res.Gain.Class == GainNegative && res.Gain.AveragePercent < -strongNegativePercent:
		rec.Action = ActionRollback
		rec.Confidence = 0.75
		rec.Reason = fmt.Sprintf("negative gain %.1f%%", res.Gain.AveragePercent)
	case res.Drift.Severity == DriftSignificant:
		rec.Action = ActionMonitor
		rec.Confidence = 0.50
		rec.Reason = fmt.Sprintf("significant drift on %d metric(s)", len(res.Drift.Drifts))
	default:
		rec.Action = ActionNone
		rec.Confidence = 0
	}
	return rec
}

// #endregion recommend

// #region recommendation-log

const recommendationSchema = `
CREATE TABLE IF NOT EXISTS rollback_recommendations (
	plan_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
`

// RecommendationLog persists advisory recommendations for the audit trail.
type RecommendationLog struct {
	db *sql.DB
}

// NewRecommendationLog runs the migration.
func NewRecommendationLog(db *sql.DB) (*RecommendationLog, error) {
	if _, err := db.Exec(recommendationSchema); err != nil {
		return nil, fmt.Errorf("migrate recommendations: %w", err)
	}
	return &RecommendationLog{db: db}, nil
}

// Append records one recommendation.
func (l *RecommendationLog) Append(rec Recommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode recommendation: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO rollback_recommendations (plan_id, action, created_at, payload) VALUES (?, ?, ?, ?)`,
		rec.PlanID, string(rec.Action), rec.CreatedAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	if rec.Action != ActionNone {
		log.Printf("[VERIFY] recommendation for %s: %s (confidence %.2f): %s",
			rec.PlanID, rec.Action, rec.Confidence, rec.Reason)
	}
	return nil
}

// ByPlan returns recommendations for a plan, oldest first.
func (l *RecommendationLog) ByPlan(planID string) ([]Recommendation, error) {
	rows, err := l.db.Query(
		`SELECT payload FROM rollback_recommendations WHERE plan_id = ? ORDER BY created_at ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		var rec Recommendation
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// #endregion recommendation-log
