package plan

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// #region scope

// Scope is the blast radius a change plan declares.
type Scope string

const (
	ScopeParameter    Scope = "parameter"    // thresholds, limits, TTLs
	ScopeLogic        Scope = "logic"        // conditions, guards, flow
	ScopeArchitecture Scope = "architecture" // structure, modules, design
)

// #endregion scope

// #region risk-tier

// RiskTier classifies a plan. It is a pure function of scope and is never
// set independently.
type RiskTier string

const (
	TierSafe      RiskTier = "safe"      // parameter changes, approvable
	TierReview    RiskTier = "review"    // logic changes, human review only
	TierForbidden RiskTier = "forbidden" // architecture changes, never allowed
)

// TierForScope derives the risk tier from the scope.
func TierForScope(scope Scope) RiskTier {
	switch scope {
	case ScopeParameter:
		return TierSafe
	case ScopeLogic:
		return TierReview
	default:
		return TierForbidden
	}
}

// #endregion risk-tier

// #region status

// Status is a plan's lifecycle state.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
)

// #endregion status

// #region change-plan

// ChangePlan is a meta-planning artifact: it declares WHAT could change,
// never applies anything itself. ProposedValues carries the concrete
// parameter targets the applier consumes.
type ChangePlan struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Scope       Scope     `json:"scope"`
	RiskTier    RiskTier  `json:"risk_tier"`

	Justification   string             `json:"justification"`
	MetricsEvidence map[string]float64 `json:"metrics_evidence,omitempty"`

	ExpectedGain    string             `json:"expected_gain"`
	ExpectedMetrics map[string]float64 `json:"expected_metrics,omitempty"`

	AffectedParameters []string           `json:"affected_parameters"`
	ProposedValues     map[string]float64 `json:"proposed_values"`

	RollbackStrategy      string `json:"rollback_strategy"`
	RequiresHumanApproval bool   `json:"requires_human_approval"`

	Status Status `json:"status"`
}

// New builds a plan with its risk tier derived from scope. AffectedParameters
// is the sorted key set of proposed values.
func New(description string, scope Scope, justification, expectedGain string, proposed map[string]float64, now time.Time) ChangePlan {
	tier := TierForScope(scope)

	params := make([]string, 0, len(proposed))
	for name := range proposed {
		params = append(params, name)
	}
	sort.Strings(params)

	rollback := "Manual rollback"
	if scope == ScopeParameter {
		rollback = "Restore from pre-apply backup"
	}

	return ChangePlan{
		ID:                    "plan_" + uuid.New().String(),
		CreatedAt:             now,
		Description:           description,
		Scope:                 scope,
		RiskTier:              tier,
		Justification:         justification,
		ExpectedGain:          expectedGain,
		AffectedParameters:    params,
		ProposedValues:        proposed,
		RollbackStrategy:      rollback,
		RequiresHumanApproval: tier != TierSafe,
		Status:                StatusProposed,
	}
}

// #endregion change-plan
