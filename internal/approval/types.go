package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grail-labs/overlord/internal/plan"
)

// #region status

// Status is an approval's lifecycle state.
type Status string

const (
	StatusApproved Status = "approved"
	StatusApplied  Status = "applied"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// #endregion status

// #region approved-plan

// ApprovedChangePlan wraps one SAFE, PARAMETER-scope plan with the human
// approval record: who, when, why, a TTL, and a checksum of the plan's
// immutable fields. Any post-approval mutation of the plan invalidates
// application.
type ApprovedChangePlan struct {
	PlanID         string          `json:"plan_id"`
	Plan           plan.ChangePlan `json:"plan"`
	ApprovedBy     string          `json:"approved_by"`
	ApprovedAt     time.Time       `json:"approved_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ApprovalReason string          `json:"approval_reason"`
	Checksum       string          `json:"checksum"`

	Status       Status     `json:"status"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// New constructs an approval. It fails unless the plan's risk tier is SAFE
// and its scope is PARAMETER: that invariant lives here, not in callers.
func New(p plan.ChangePlan, approvedBy, reason string, ttl time.Duration, now time.Time) (*ApprovedChangePlan, error) {
	if p.RiskTier != plan.TierSafe {
		return nil, fmt.Errorf("cannot approve %s plan: only safe plans allowed", p.RiskTier)
	}
	if p.Scope != plan.ScopeParameter {
		return nil, fmt.Errorf("cannot approve %s plan: only parameter scope allowed", p.Scope)
	}

	return &ApprovedChangePlan{
		PlanID:         p.ID,
		Plan:           p,
		ApprovedBy:     approvedBy,
		ApprovedAt:     now,
		ExpiresAt:      now.Add(ttl),
		ApprovalReason: reason,
		Checksum:       PlanChecksum(p),
		Status:         StatusApproved,
	}, nil
}

// #endregion approved-plan

// #region checksum

// PlanChecksum hashes the plan fields that must not change after approval:
// identity, description, scope, the parameter set with its proposed values,
// and creation time.
func PlanChecksum(p plan.ChangePlan) string {
	values := make([]string, 0, len(p.ProposedValues))
	for name, v := range p.ProposedValues {
		values = append(values, name+"="+strconv.FormatFloat(v, 'g', -1, 64))
	}
	sort.Strings(values)

	content := strings.Join([]string{
		p.ID,
		p.Description,
		string(p.Scope),
		strings.Join(p.AffectedParameters, ","),
		strings.Join(values, ","),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")

	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// #endregion checksum

// #region validity

// IsValid reports whether the approval can still be acted on: status must be
// "approved" and the TTL unexpired. Crossing the TTL transitions the status
// to expired as a side effect (lazy expiry).
func (a *ApprovedChangePlan) IsValid(now time.Time) bool {
	if a.Status != StatusApproved {
		return false
	}
	if now.After(a.ExpiresAt) {
		a.Status = StatusExpired
		return false
	}
	return true
}

// VerifyIntegrity recomputes the checksum from the wrapped plan's current
// fields and compares it to the one taken at approval time.
func (a *ApprovedChangePlan) VerifyIntegrity() bool {
	return PlanChecksum(a.Plan) == a.Checksum
}

// #endregion validity

// #region transitions

// MarkApplied transitions the approval to applied.
func (a *ApprovedChangePlan) MarkApplied(now time.Time) {
	a.Status = StatusApplied
	a.AppliedAt = &now
}

// Revoke withdraws the approval with a reason.
func (a *ApprovedChangePlan) Revoke(reason string, now time.Time) {
	a.Status = StatusRevoked
	a.RevokedAt = &now
	a.RevokeReason = reason
}

// #endregion transitions
