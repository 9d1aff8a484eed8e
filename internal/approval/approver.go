package approval

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/grail-labs/overlord/internal/plan"
)

// #region schema

const workflowSchema = `
CREATE TABLE IF NOT EXISTS approval_requests (
	request_id   TEXT PRIMARY KEY,
	plan_id      TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	requested_at TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_rejections (
	plan_id     TEXT PRIMARY KEY,
	rejected_by TEXT NOT NULL,
	rejected_at TEXT NOT NULL,
	reason      TEXT NOT NULL
);
`

// #endregion schema

// #region request-result

// RequestResult is the structured outcome of an approval request.
type RequestResult struct {
	Status    string `json:"status"` // pending | rejected
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// #endregion request-result

// #region approver

// Approver is the mandatory human gate. It persists requests, records the
// human's approve/reject decision, and constructs approval records. Nothing
// here ever approves automatically.
type Approver struct {
	db       *sql.DB
	plans    *plan.Registry
	registry *Registry
	now      func() time.Time
}

// NewApprover wires the workflow over the plan and approval registries.
func NewApprover(db *sql.DB, plans *plan.Registry, registry *Registry) (*Approver, error) {
	if _, err := db.Exec(workflowSchema); err != nil {
		return nil, fmt.Errorf("migrate approval workflow: %w", err)
	}
	return &Approver{db: db, plans: plans, registry: registry, now: time.Now}, nil
}

// SetClock injects a deterministic clock for tests.
func (a *Approver) SetClock(now func() time.Time) { a.now = now }

// #endregion approver

// #region request

// RequestApproval records a pending approval request for a SAFE plan.
// Non-SAFE plans are rejected outright with no side effect.
func (a *Approver) RequestApproval(p plan.ChangePlan, requester string) RequestResult {
	if p.RiskTier != plan.TierSafe {
		log.Printf("[APPROVAL] cannot request approval for %s plan: %s", p.RiskTier, p.ID)
		return RequestResult{
			Status: "rejected",
			Reason: fmt.Sprintf("only safe plans can be approved, this is %s", p.RiskTier),
		}
	}

	requestID := "req_" + p.ID
	payload, err := json.Marshal(p)
	if err != nil {
		return RequestResult{Status: "rejected", Reason: fmt.Sprintf("encode plan: %v", err)}
	}

	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO approval_requests (request_id, plan_id, requested_by, requested_at, status, payload)
		 VALUES (?, ?, ?, ?, 'pending', ?)`,
		requestID, p.ID, requester, a.now().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		// State-changing write: failure aborts the request.
		return RequestResult{Status: "rejected", Reason: fmt.Sprintf("persist request: %v", err)}
	}

	log.Printf("[APPROVAL] approval request created: %s (%s)", p.ID, p.Description)
	return RequestResult{Status: "pending", RequestID: requestID}
}

// #endregion request

// #region approve

// Approve records the human decision and constructs the checksummed,
// TTL-bound approval. The SAFE/PARAMETER invariant is enforced by the
// ApprovedChangePlan constructor.
func (a *Approver) Approve(p plan.ChangePlan, approvedBy, reason string, ttl time.Duration) (*ApprovedChangePlan, error) {
	approved, err := New(p, approvedBy, reason, ttl, a.now())
	if err != nil {
		return nil, fmt.Errorf("approval refused: %w", err)
	}

	if err := a.registry.Add(approved); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	if err := a.plans.UpdateStatus(p.ID, plan.StatusApproved); err != nil {
		log.Printf("[APPROVAL] failed to update plan status for %s: %v", p.ID, err)
	}

	log.Printf("[APPROVAL] plan approved: %s by %s (expires %s)",
		p.ID, approvedBy, approved.ExpiresAt.Format(time.RFC3339))
	return approved, nil
}

// #endregion approve

// #region reject

// Reject persists a rejection record; no further action is possible on that
// plan.
func (a *Approver) Reject(p plan.ChangePlan, rejectedBy, reason string) error {
	_, err := a.db.Exec(
		`INSERT OR REPLACE INTO plan_rejections (plan_id, rejected_by, rejected_at, reason) VALUES (?, ?, ?, ?)`,
		p.ID, rejectedBy, a.now().Format(time.RFC3339Nano), reason,
	)
	if err != nil {
		return fmt.Errorf("persist rejection: %w", err)
	}
	if err := a.plans.UpdateStatus(p.ID, plan.StatusRejected); err != nil {
		log.Printf("[APPROVAL] failed to update plan status for %s: %v", p.ID, err)
	}

	log.Printf("[APPROVAL] plan rejected: %s by %s (%s)", p.ID, rejectedBy, reason)
	return nil
}

// #endregion reject
