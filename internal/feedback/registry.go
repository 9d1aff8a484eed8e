package feedback

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS plan_outcomes (
	plan_id     TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plan_outcomes_plan ON plan_outcomes (plan_id);
`

// #endregion schema

// #region registry

// Registry persists plan outcomes. Outcomes are append-only: a rollback adds
// a new record rather than rewriting history.
type Registry struct {
	db *sql.DB
}

// NewRegistry runs the migration.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate outcomes: %w", err)
	}
	return &Registry{db: db}, nil
}

// Record appends one outcome.
func (r *Registry) Record(rec OutcomeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO plan_outcomes (plan_id, outcome, recorded_at, payload) VALUES (?, ?, ?, ?)`,
		rec.PlanID, string(rec.Outcome), rec.RecordedAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// #endregion registry

// #region queries

// All returns the full outcome history, oldest first.
func (r *Registry) All() ([]OutcomeRecord, error) {
	rows, err := r.db.Query(`SELECT payload FROM plan_outcomes ORDER BY recorded_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var recs []OutcomeRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		var rec OutcomeRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Latest returns the most recent outcome for a plan, or false.
func (r *Registry) Latest(planID string) (OutcomeRecord, bool, error) {
	var payload string
	err := r.db.QueryRow(
		`SELECT payload FROM plan_outcomes WHERE plan_id = ? ORDER BY recorded_at DESC LIMIT 1`,
		planID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return OutcomeRecord{}, false, nil
	}
	if err != nil {
		return OutcomeRecord{}, false, fmt.Errorf("get outcome: %w", err)
	}
	var rec OutcomeRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return OutcomeRecord{}, false, fmt.Errorf("decode outcome: %w", err)
	}
	return rec, true, nil
}

// Stats aggregates the outcome history. Success rate counts success and
// partial success against the total.
func (r *Registry) Stats() (Statistics, error) {
	recs, err := r.All()
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{ByOutcome: make(map[Outcome]int)}
	var totalGain float64
	for _, rec := range recs {
		stats.Total++
		stats.ByOutcome[rec.Outcome]++
		totalGain += rec.GainPercent
	}
	if stats.Total > 0 {
		stats.AverageGain = totalGain / float64(stats.Total)
		good := stats.ByOutcome[OutcomeSuccess] + stats.ByOutcome[OutcomePartial]
		stats.SuccessRate = float64(good) / float64(stats.Total)
	}
	return stats, nil
}

// #endregion queries
