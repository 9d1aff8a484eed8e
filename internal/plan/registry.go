package plan

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS change_plans (
	plan_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
`

// #endregion schema

// #region registry

// Registry persists change plans. Rows are appended on proposal; only the
// status column (and the payload mirroring it) is ever rewritten.
type Registry struct {
	db *sql.DB
}

// NewRegistry runs the migration and returns the registry.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate plans: %w", err)
	}
	return &Registry{db: db}, nil
}

// #endregion registry

// #region add

// Add persists a newly proposed plan.
func (r *Registry) Add(p ChangePlan) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO change_plans (plan_id, status, created_at, payload) VALUES (?, ?, ?, ?)`,
		p.ID, string(p.Status), p.CreatedAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert plan %s: %w", p.ID, err)
	}
	return nil
}

// #endregion add

// #region queries

// Get retrieves one plan by ID.
func (r *Registry) Get(planID string) (ChangePlan, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload FROM change_plans WHERE plan_id = ?`, planID).Scan(&payload)
	if err != nil {
		return ChangePlan{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	var p ChangePlan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return ChangePlan{}, fmt.Errorf("decode plan %s: %w", planID, err)
	}
	return p, nil
}

// ByStatus returns plans in the given state, oldest first.
func (r *Registry) ByStatus(status Status) ([]ChangePlan, error) {
	return r.query(`SELECT payload FROM change_plans WHERE status = ? ORDER BY created_at ASC`, string(status))
}

// All returns every plan, oldest first.
func (r *Registry) All() ([]ChangePlan, error) {
	return r.query(`SELECT payload FROM change_plans ORDER BY created_at ASC`)
}

func (r *Registry) query(q string, args ...interface{}) ([]ChangePlan, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []ChangePlan
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		var p ChangePlan
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// #endregion queries

// #region update-status

// UpdateStatus transitions a plan's lifecycle state.
func (r *Registry) UpdateStatus(planID string, status Status) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	p.Status = status
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = r.db.Exec(
		`UPDATE change_plans SET status = ?, payload = ? WHERE plan_id = ?`,
		string(status), string(payload), planID,
	)
	if err != nil {
		return fmt.Errorf("update plan %s: %w", planID, err)
	}
	return nil
}

// #endregion update-status
