// Command overlordctl is the operator console: reviewing and approving change
// plans, applying them, verifying outcomes, and inspecting the audit trail.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/grail-labs/overlord/internal/config"
	"github.com/grail-labs/overlord/internal/controlplane"
	"github.com/grail-labs/overlord/internal/plan"
	"github.com/grail-labs/overlord/internal/report"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "overlordctl",
		Short:         "Operator console for the sanctioned-autonomy control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "overlord.yaml", "path to config file")

	root.AddCommand(
		plansCmd(),
		approveCmd(),
		rejectCmd(),
		applyCmd(),
		verifyCmd(),
		verificationsCmd(),
		rollbackCmd(),
		signalsCmd(),
		decisionsCmd(),
		feedbackCmd(),
		statusCmd(),
		paramsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openSystem() (*controlplane.System, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return controlplane.Open(cfg)
}

// #region plans

func plansCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "plans [plan-id]",
		Short: "List change plans, or show one in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			if len(args) == 1 {
				p, err := sys.Plans.Get(args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			}

			var plans []plan.ChangePlan
			if status != "" {
				plans, err = sys.Plans.ByStatus(plan.Status(status))
			} else {
				plans, err = sys.Plans.All()
			}
			if err != nil {
				return err
			}
			for _, p := range plans {
				fmt.Printf("%s  %-9s [%s/%s]  %s\n", p.ID, p.Status, p.Scope, p.RiskTier, p.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (proposed|approved|rejected|applied)")
	return cmd
}

// #endregion plans

// #region approve-reject

func approveCmd() *cobra.Command {
	var by, reason string
	var ttlHours int
	cmd := &cobra.Command{
		Use:   "approve <plan-id>",
		Short: "Record a human approval for a safe plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			p, err := sys.Plans.Get(args[0])
			if err != nil {
				return err
			}
			ttl := sys.ApprovalTTL()
			if ttlHours > 0 {
				ttl = time.Duration(ttlHours) * time.Hour
			}
			approved, err := sys.Approver.Approve(p, by, reason, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("approved %s (expires %s)\nchecksum %s\n",
				approved.PlanID, approved.ExpiresAt.Format(time.RFC3339), approved.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "approver identity (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "approval reason")
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "override the approval TTL")
	cmd.MarkFlagRequired("by")
	return cmd
}

func rejectCmd() *cobra.Command {
	var by, reason string
	cmd := &cobra.Command{
		Use:   "reject <plan-id>",
		Short: "Record a human rejection of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			p, err := sys.Plans.Get(args[0])
			if err != nil {
				return err
			}
			if err := sys.Approver.Reject(p, by, reason); err != nil {
				return err
			}
			fmt.Printf("rejected %s\n", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "rejecter identity (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	cmd.MarkFlagRequired("by")
	return cmd
}

// #endregion approve-reject

// #region apply

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <plan-id>",
		Short: "Apply an approved plan's parameter changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			a := sys.Approvals.ByPlanID(args[0])
			if a == nil {
				return fmt.Errorf("no approval for plan %s", args[0])
			}
			res := sys.Applier.Apply(a)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Applied {
				return fmt.Errorf("not applied: %s", res.Reason)
			}
			return nil
		},
	}
}

func rollbackCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "rollback <plan-id>",
		Short: "Restore the pre-change parameter snapshot for an applied plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			a := sys.Approvals.ByPlanID(args[0])
			if a == nil {
				return fmt.Errorf("no approval for plan %s", args[0])
			}
			res, err := sys.Applier.Rollback(a, reason)
			if err != nil {
				return err
			}
			if _, err := sys.Loop.MarkRolledBack(args[0], reason); err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual rollback", "why the change is being undone")
	return cmd
}

// #endregion apply

// #region verify

func verifyCmd() *cobra.Command {
	var postPath, prePath string
	cmd := &cobra.Command{
		Use:   "verify <plan-id>",
		Short: "Verify an applied plan against post-change metrics",
		Long: `Verify an applied plan against post-change metrics.

Pre-change values default to the current baseline means; pass --pre to
override with an explicit snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			post, err := readMetricsFile(postPath)
			if err != nil {
				return err
			}
			var pre map[string]float64
			if prePath != "" {
				if pre, err = readMetricsFile(prePath); err != nil {
					return err
				}
			} else {
				summary, ok := sys.Baseline.Summary()
				if !ok {
					return fmt.Errorf("no baseline to verify against; pass --pre")
				}
				pre = summary.Means()
			}

			res, err := sys.VerifyApplied(args[0], pre, post)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&postPath, "post", "", "post-change metrics JSON file (required)")
	cmd.Flags().StringVar(&prePath, "pre", "", "pre-change metrics JSON file (defaults to baseline means)")
	cmd.MarkFlagRequired("post")
	return cmd
}

func verificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verifications",
		Short: "Aggregate verification summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			s, err := sys.Verifier.Summarize()
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

// #endregion verify

// #region signals

func signalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "List or revoke active control signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			active := sys.Engine.ActiveSignals()
			if len(active) == 0 {
				fmt.Println("no active signals")
				return nil
			}
			for _, sig := range active {
				fmt.Printf("%s  %-15s %-18s expires %s\n",
					sig.ID, sig.Type, sig.Attractor, sig.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <signal-id>",
		Short: "Revoke a reversible signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			if !sys.Engine.Revoke(args[0]) {
				return fmt.Errorf("signal %s is unknown or irreversible", args[0])
			}
			fmt.Printf("revoked %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// #endregion signals

// #region inspect

func decisionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show the recent signal decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			records, err := sys.Decisions.Recent(limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("%s  %-17s %s\n", rec.CreatedAt.Format(time.RFC3339), rec.Action, rec.SignalID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of records")
	return cmd
}

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Outcome history and learning statistics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Aggregate outcome statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			stats, err := sys.Outcomes.Stats()
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Full outcome history",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			recs, err := sys.Outcomes.All()
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Printf("%s  %-15s %s  %.1f%%\n",
					rec.RecordedAt.Format(time.RFC3339), rec.Outcome, rec.PlanID, rec.GainPercent)
			}
			return nil
		},
	})
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Render the latest synthesis report",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			rep, ok, err := sys.Reports.Latest()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no reports yet")
				return nil
			}
			fmt.Print(report.Render(rep))
			return nil
		},
	}
}

func paramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show the live parameter file with its modification history",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem()
			if err != nil {
				return err
			}
			defer sys.Close()

			cfg, err := sys.ParamFile.Load()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

// #endregion inspect

// #region helpers

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func readMetricsFile(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return metrics, nil
}

// #endregion helpers
