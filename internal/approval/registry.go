package approval

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	plan_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
`

// #endregion schema

// #region registry

// Registry tracks approvals in memory, rehydrated from durable storage at
// startup. Status transitions are written back row-by-row.
type Registry struct {
	db        *sql.DB
	approvals []*ApprovedChangePlan
	now       func() time.Time
}

// NewRegistry runs the migration and loads existing approvals.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate approvals: %w", err)
	}
	r := &Registry{db: db, now: time.Now}
	if err := r.loadExisting(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetClock injects a deterministic clock for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) loadExisting() error {
	rows, err := r.db.Query(`SELECT payload FROM approvals`)
	if err != nil {
		return fmt.Errorf("load approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan approval: %w", err)
		}
		var a ApprovedChangePlan
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			log.Printf("[APPROVAL] skipping unreadable approval record: %v", err)
			continue
		}
		r.approvals = append(r.approvals, &a)
	}
	return rows.Err()
}

// #endregion registry

// #region add

// Add registers and persists a fresh approval. Approval persistence is
// state-changing: a write failure aborts the operation.
func (r *Registry) Add(a *ApprovedChangePlan) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode approval: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO approvals (plan_id, status, checksum, expires_at, payload) VALUES (?, ?, ?, ?, ?)`,
		a.PlanID, string(a.Status), a.Checksum, a.ExpiresAt.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert approval %s: %w", a.PlanID, err)
	}
	r.approvals = append(r.approvals, a)
	return nil
}

// Save writes an approval's current state back to storage after a status
// transition.
func (r *Registry) Save(a *ApprovedChangePlan) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode approval: %w", err)
	}
	_, err = r.db.Exec(
		`UPDATE approvals SET status = ?, payload = ? WHERE plan_id = ?`,
		string(a.Status), string(payload), a.PlanID,
	)
	if err != nil {
		return fmt.Errorf("save approval %s: %w", a.PlanID, err)
	}
	return nil
}

// #endregion add

// #region queries

// ByPlanID returns the approval for a plan, or nil.
func (r *Registry) ByPlanID(planID string) *ApprovedChangePlan {
	for _, a := range r.approvals {
		if a.PlanID == planID {
			return a
		}
	}
	return nil
}

// All returns every tracked approval.
func (r *Registry) All() []*ApprovedChangePlan {
	return r.approvals
}

// ValidApprovals returns approvals that pass both the status/TTL check and
// the integrity check. An approval valid by TTL but failing integrity is
// excluded and logged — never silently applied.
func (r *Registry) ValidApprovals() []*ApprovedChangePlan {
	now := r.now()
	var valid []*ApprovedChangePlan
	for _, a := range r.approvals {
		wasApproved := a.Status == StatusApproved
		if !a.IsValid(now) {
			if wasApproved && a.Status == StatusExpired {
				if err := r.Save(a); err != nil {
					log.Printf("[APPROVAL] failed to persist expiry of %s: %v", a.PlanID, err)
				}
			}
			continue
		}
		if !a.VerifyIntegrity() {
			log.Printf("[APPROVAL] integrity check failed: %s", a.PlanID)
			continue
		}
		valid = append(valid, a)
	}
	return valid
}

// #endregion queries
