package controlplane

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/grail-labs/overlord/internal/apply"
	"github.com/grail-labs/overlord/internal/approval"
	"github.com/grail-labs/overlord/internal/baseline"
	"github.com/grail-labs/overlord/internal/config"
	"github.com/grail-labs/overlord/internal/feedback"
	"github.com/grail-labs/overlord/internal/plan"
	"github.com/grail-labs/overlord/internal/report"
	"github.com/grail-labs/overlord/internal/risk"
	"github.com/grail-labs/overlord/internal/signals"
	"github.com/grail-labs/overlord/internal/storage"
	"github.com/grail-labs/overlord/internal/verify"
)

// #region system

// System wires every control-plane component over one database and one
// parameter file. Both binaries open it the same way.
type System struct {
	Config config.Config
	DB     *sql.DB

	Baseline  *baseline.Store
	Detector  *risk.Detector
	Decisions *signals.DecisionLog
	Signals   *signals.SignalStore
	Engine    *signals.Engine
	Guard     *signals.Guard

	Plans     *plan.Registry
	Generator *plan.Generator

	Approvals *approval.Registry
	Approver  *approval.Approver

	ParamFile *apply.ParamFile
	Backups   *apply.BackupManager
	Applier   *apply.Applier

	Verifier        *verify.Verifier
	Recommendations *verify.RecommendationLog

	Outcomes *feedback.Registry
	Loop     *feedback.Loop

	Reports *report.Store
	Builder *report.Builder
}

// Open builds the system from config, running every migration.
func Open(cfg config.Config) (*System, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &System{Config: cfg, DB: db}
	if err := s.wire(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) wire() error {
	var err error
	if s.Baseline, err = baseline.NewStore(s.DB); err != nil {
		return err
	}
	s.Detector = risk.NewDetector(s.Baseline, risk.DefaultDetectorConfig())

	if s.Decisions, err = signals.NewDecisionLog(s.DB); err != nil {
		return err
	}
	if s.Signals, err = signals.NewSignalStore(s.DB); err != nil {
		return err
	}
	s.ParamFile = apply.NewParamFile(s.Config.ParametersFile)
	s.Engine = signals.NewEngine(s.Detector, s.Decisions, apply.NewLiveParams(s.ParamFile))
	if err = s.Engine.AttachStore(s.Signals); err != nil {
		return err
	}
	s.Guard = signals.NewGuard(s.Engine)

	if s.Plans, err = plan.NewRegistry(s.DB); err != nil {
		return err
	}
	s.Generator = plan.NewGenerator(s.Baseline, plan.DefaultGeneratorConfig())

	if s.Approvals, err = approval.NewRegistry(s.DB); err != nil {
		return err
	}
	if s.Approver, err = approval.NewApprover(s.DB, s.Plans, s.Approvals); err != nil {
		return err
	}

	s.Backups = apply.NewBackupManager(s.Config.BackupDir)
	s.Applier = apply.NewApplier(s.ParamFile, s.Backups, apply.DefaultWhitelist(), s.Approvals, s.Plans)

	if s.Verifier, err = verify.NewVerifier(s.DB, s.Config.DriftTolerancePercent, s.Config.StrongGainPercent); err != nil {
		return err
	}
	if s.Recommendations, err = verify.NewRecommendationLog(s.DB); err != nil {
		return err
	}

	if s.Outcomes, err = feedback.NewRegistry(s.DB); err != nil {
		return err
	}
	s.Loop = feedback.NewLoop(s.Outcomes, s.Baseline)

	if s.Reports, err = report.NewStore(s.DB); err != nil {
		return err
	}
	s.Builder = report.NewBuilder(s.Baseline, s.Engine, s.Plans, s.Outcomes)
	return nil
}

// Close releases the database.
func (s *System) Close() error {
	return s.DB.Close()
}

// ApprovalTTL returns the configured approval lifetime.
func (s *System) ApprovalTTL() time.Duration {
	return time.Duration(s.Config.ApprovalTTLHours) * time.Hour
}

// #endregion system

// #region run-cycle

// RunCycle processes one session's metrics end to end: risk detection and
// signal application, plan generation with approval requests, baseline
// commit, and the synthesis report. The metrics are committed AFTER the risk
// checks so a session is never compared against itself.
func (s *System) RunCycle(current map[string]float64) (report.Report, error) {
	s.Engine.EvaluateAndApply(current)
	riskSignals := s.Engine.RiskSignals()

	decisions, err := s.Decisions.Recent(plan.DefaultGeneratorConfig().DecisionLookback)
	if err != nil {
		log.Printf("[ORCH] decision history unavailable: %v", err)
	}

	for _, p := range s.Generator.AnalyzeAndPlan(current, decisions) {
		if err := s.Plans.Add(p); err != nil {
			return report.Report{}, fmt.Errorf("persist plan: %w", err)
		}
		res := s.Approver.RequestApproval(p, "overlord")
		log.Printf("[ORCH] plan %s: approval %s", p.ID, res.Status)
	}

	for name, value := range current {
		s.Baseline.Record(name, value)
	}
	s.Baseline.CommitSession()

	rep := s.Builder.Build(riskSignals, decisions)
	if err := s.Reports.Save(rep); err != nil {
		return rep, fmt.Errorf("persist report: %w", err)
	}
	return rep, nil
}

// #endregion run-cycle

// #region verify-cycle

// VerifyApplied verifies one applied plan against pre/post metrics, records
// the advisory recommendation, and closes the feedback loop.
func (s *System) VerifyApplied(planID string, pre, post map[string]float64) (verify.VerificationResult, error) {
	a := s.Approvals.ByPlanID(planID)
	if a == nil {
		return verify.VerificationResult{}, fmt.Errorf("no approval for plan %s", planID)
	}

	res, err := s.Verifier.Verify(a, pre, post)
	if err != nil {
		return res, err
	}
	if err := s.Recommendations.Append(verify.Recommend(res)); err != nil {
		log.Printf("[ORCH] recommendation write failed: %v", err)
	}
	if _, err := s.Loop.ProcessVerification(res, post); err != nil {
		log.Printf("[ORCH] feedback write failed: %v", err)
	}
	return res, nil
}

// #endregion verify-cycle
