package apply

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/grail-labs/overlord/internal/approval"
	"github.com/grail-labs/overlord/internal/plan"
)

// #region result

// Result reports what an application attempt did. Reason is set whenever
// Applied is false; RolledBack is set when a mid-apply failure was undone
// from backup.
type Result struct {
	Applied    bool               `json:"applied"`
	PlanID     string             `json:"plan_id"`
	Reason     string             `json:"reason,omitempty"`
	OldValues  map[string]float64 `json:"old_values,omitempty"`
	NewValues  map[string]float64 `json:"new_values,omitempty"`
	BackupFile string             `json:"backup_file,omitempty"`
	RolledBack bool               `json:"rolled_back,omitempty"`
}

// #endregion result

// #region applier

// Applier executes approved parameter changes. Every gate is re-checked at
// application time; any failure leaves the config byte-for-byte unchanged or,
// past the write point, restored from backup.
type Applier struct {
	file      *ParamFile
	backups   *BackupManager
	whitelist Whitelist
	approvals *approval.Registry
	plans     *plan.Registry
	now       func() time.Time
}

// NewApplier wires the executor over the parameter file, backups, and the
// approval and plan registries.
func NewApplier(file *ParamFile, backups *BackupManager, wl Whitelist, approvals *approval.Registry, plans *plan.Registry) *Applier {
	return &Applier{
		file:      file,
		backups:   backups,
		whitelist: wl,
		approvals: approvals,
		plans:     plans,
		now:       time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (ap *Applier) SetClock(now func() time.Time) { ap.now = now }

// #endregion applier

// #region apply

// Apply runs the full gated sequence for one approval: validity, integrity,
// scope and tier re-checks, backup, whitelist validation of every proposed
// value, then the atomic config rewrite and status transition.
func (ap *Applier) Apply(a *approval.ApprovedChangePlan) Result {
	now := ap.now()
	res := Result{PlanID: a.PlanID}

	// Gate 1: lifecycle. A consumed approval can never be replayed.
	if a.Status == approval.StatusApplied {
		return ap.refuse(res, "plan already applied")
	}
	if !a.IsValid(now) {
		if a.Status == approval.StatusExpired {
			if err := ap.approvals.Save(a); err != nil {
				log.Printf("[APPLY] failed to persist expiry of %s: %v", a.PlanID, err)
			}
		}
		return ap.refuse(res, fmt.Sprintf("approval not valid: %s", a.Status))
	}

	// Gate 2: integrity. The plan must be the exact one the human saw.
	if !a.VerifyIntegrity() {
		return ap.refuse(res, "integrity check failed: plan was modified after approval")
	}

	// Gate 3: scope and tier, re-checked independently of the approval path.
	if a.Plan.Scope != plan.ScopeParameter {
		return ap.refuse(res, fmt.Sprintf("refusing %s scope: only parameter changes can be applied", a.Plan.Scope))
	}
	if a.Plan.RiskTier != plan.TierSafe {
		return ap.refuse(res, fmt.Sprintf("refusing %s tier: only safe plans can be applied", a.Plan.RiskTier))
	}

	changes := a.Plan.ProposedValues
	if len(changes) == 0 {
		return ap.refuse(res, "no parameter values found in plan")
	}

	// Gate 4: snapshot before anything is written.
	backupPath, err := ap.backups.Create(ap.file.Path(), a.PlanID, now)
	if err != nil {
		return ap.refuse(res, fmt.Sprintf("backup failed: %v", err))
	}
	res.BackupFile = backupPath

	// Gate 5: every value against the whitelist. One bad value rejects the
	// whole batch; the config has not been touched yet.
	if errs := ap.whitelist.ValidateBatch(changes); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return ap.refuse(res, "validation failed: "+strings.Join(msgs, "; "))
	}

	cfg, err := ap.file.Load()
	if err != nil {
		return ap.refuse(res, fmt.Sprintf("load config: %v", err))
	}

	oldValues := make(map[string]float64, len(changes))
	for name := range changes {
		oldValues[name] = cfg.Parameters[name]
	}
	for name, value := range changes {
		cfg.Parameters[name] = value
	}
	cfg.Modifications = append(cfg.Modifications, Modification{
		PlanID:      a.PlanID,
		Description: a.Plan.Description,
		AppliedAt:   now,
		ApprovedBy:  a.ApprovedBy,
		Changes:     changes,
		OldValues:   oldValues,
		BackupFile:  backupPath,
	})

	if err := ap.file.Save(cfg); err != nil {
		res.RolledBack = ap.restore(backupPath)
		return ap.refuse(res, fmt.Sprintf("write config: %v", err))
	}

	a.MarkApplied(now)
	if err := ap.approvals.Save(a); err != nil {
		// Config change is live but the approval transition is not durable:
		// undo the change rather than leave the two stores disagreeing.
		res.RolledBack = ap.restore(backupPath)
		return ap.refuse(res, fmt.Sprintf("persist applied status: %v", err))
	}
	if err := ap.plans.UpdateStatus(a.PlanID, plan.StatusApplied); err != nil {
		log.Printf("[APPLY] failed to update plan status for %s: %v", a.PlanID, err)
	}

	res.Applied = true
	res.OldValues = oldValues
	res.NewValues = changes
	log.Printf("[APPLY] plan applied: %s (%d parameters, backup %s)", a.PlanID, len(changes), backupPath)
	return res
}

func (ap *Applier) refuse(res Result, reason string) Result {
	res.Reason = reason
	log.Printf("[APPLY] refused %s: %s", res.PlanID, reason)
	return res
}

func (ap *Applier) restore(backupPath string) bool {
	if err := ap.backups.Restore(backupPath, ap.file.Path()); err != nil {
		log.Printf("[APPLY] rollback from %s failed: %v", backupPath, err)
		return false
	}
	log.Printf("[APPLY] restored config from %s", backupPath)
	return true
}

// #endregion apply

// #region rollback

// Rollback restores the config snapshot taken before the given plan was
// applied and marks the plan rolled back in its approval record.
func (ap *Applier) Rollback(a *approval.ApprovedChangePlan, reason string) (Result, error) {
	res := Result{PlanID: a.PlanID}
	if a.Status != approval.StatusApplied {
		return res, fmt.Errorf("plan %s is not applied (status %s)", a.PlanID, a.Status)
	}

	cfg, err := ap.file.Load()
	if err != nil {
		return res, fmt.Errorf("load config: %w", err)
	}
	var mod *Modification
	for i := len(cfg.Modifications) - 1; i >= 0; i-- {
		if cfg.Modifications[i].PlanID == a.PlanID {
			mod = &cfg.Modifications[i]
			break
		}
	}
	if mod == nil {
		return res, fmt.Errorf("no modification record for plan %s", a.PlanID)
	}

	if err := ap.backups.Restore(mod.BackupFile, ap.file.Path()); err != nil {
		return res, fmt.Errorf("restore backup: %w", err)
	}
	res.RolledBack = true
	res.BackupFile = mod.BackupFile
	res.OldValues = mod.Changes
	res.NewValues = mod.OldValues

	a.Revoke(reason, ap.now())
	if err := ap.approvals.Save(a); err != nil {
		log.Printf("[APPLY] failed to persist rollback of %s: %v", a.PlanID, err)
	}
	log.Printf("[APPLY] plan rolled back: %s (%s)", a.PlanID, reason)
	return res, nil
}

// #endregion rollback
