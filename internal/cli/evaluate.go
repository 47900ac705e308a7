package cli

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/evaluator"
	"github.com/telhawk-systems/telhawk-anomaly/internal/lease"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/output"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
	"github.com/telhawk-systems/telhawk-anomaly/internal/scheduler"
)

var (
	evalOnce   bool
	evalDryRun bool
	evalAsOf   string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate detection rules without the review API",
	Long: `Evaluate all enabled rules and upsert alert candidates.

With --once a single cycle runs and its results are printed. Without it the
scheduler runs on the configured interval until interrupted.

--dry-run keeps alerts in memory so nothing is written to the alert table.
Every match then reports as "created".

Examples:
  anomaly evaluate --once
  anomaly evaluate --once --dry-run --as-of 2025-03-01T12:00:00Z -o json`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().BoolVar(&evalOnce, "once", false, "run a single cycle and exit")
	evaluateCmd.Flags().BoolVar(&evalDryRun, "dry-run", false, "do not persist alerts")
	evaluateCmd.Flags().StringVar(&evalAsOf, "as-of", "", "evaluation time in RFC 3339 (default: now, requires --once)")
}

type cycleView struct {
	CycleID  string            `json:"cycle_id"`
	AsOf     time.Time         `json:"as_of"`
	DryRun   bool              `json:"dry_run"`
	Skipped  bool              `json:"skipped"`
	Rules    int               `json:"rules_evaluated"`
	Failures []ruleFailureView `json:"failures,omitempty"`
	Alerts   []upsertView      `json:"alerts"`
}

type ruleFailureView struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Error    string `json:"error"`
}

type upsertView struct {
	Action    dedup.Action    `json:"action"`
	AlertID   string          `json:"alert_id,omitempty"`
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	Scope     models.Scope    `json:"scope"`
	SubjectID *string         `json:"subject_id"`
	Severity  models.Severity `json:"severity"`
	Observed  int64           `json:"observed_count"`
	Threshold int64           `json:"threshold_count"`
	Error     string          `json:"error,omitempty"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	asOf := time.Now().UTC()
	if evalAsOf != "" {
		if !evalOnce {
			return fmt.Errorf("--as-of requires --once")
		}
		t, err := time.Parse(time.RFC3339, evalAsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		asOf = t.UTC()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := connect(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var alerts repository.AlertStore = store
	if evalDryRun {
		alerts = repository.NewInMemoryRepository()
	}

	eval := evaluator.NewEngine(store, store,
		evaluator.WithWorkers(cfg.Evaluator.Workers),
		evaluator.WithLogger(logger),
	)
	dd := dedup.NewEngine(alerts, dedup.WithLogger(logger))

	if evalOnce {
		// A one-off cycle is an operator action and ignores the lease.
		report, err := scheduler.NewScheduler(eval, dd, lease.Noop{}, cfg.Evaluator.Interval, logger).RunCycle(ctx, asOf)
		if err != nil {
			return err
		}
		return renderCycle(cmd, newCycleView(report, evalDryRun))
	}

	l, closeLease, err := openLease(ctx)
	if err != nil {
		return err
	}
	defer closeLease()

	scheduler.NewScheduler(eval, dd, l, cfg.Evaluator.Interval, logger).Start(ctx)
	return nil
}

func newCycleView(report *scheduler.CycleReport, dryRun bool) cycleView {
	view := cycleView{
		CycleID: report.CycleID,
		AsOf:    report.AsOf,
		DryRun:  dryRun,
		Skipped: report.Skipped,
		Alerts:  []upsertView{},
	}
	if report.Evaluation != nil {
		view.Rules = len(report.Evaluation.Results)
		for _, f := range report.Evaluation.Failures() {
			view.Failures = append(view.Failures, ruleFailureView{
				RuleID:   f.Rule.ID,
				RuleName: f.Rule.Name,
				Error:    f.Err.Error(),
			})
		}
	}
	if report.Dedup != nil {
		for _, res := range report.Dedup.Results {
			v := upsertView{
				Action:    res.Action,
				RuleID:    res.Match.RuleID,
				RuleName:  res.Match.RuleName,
				Scope:     res.Match.Scope,
				SubjectID: res.Match.SubjectID,
				Severity:  res.Match.Severity,
				Observed:  res.Match.ObservedCount,
				Threshold: res.Match.ThresholdCount,
			}
			if res.Alert != nil {
				v.AlertID = res.Alert.ID
			}
			if res.Err != nil {
				v.Error = res.Err.Error()
			}
			view.Alerts = append(view.Alerts, v)
		}
	}
	return view
}

func renderCycle(cmd *cobra.Command, view cycleView) error {
	return render(cmd, view, func() *output.Table {
		table := output.NewTable("RULE", "SCOPE", "SUBJECT", "SEVERITY", "OBSERVED", "THRESHOLD", "ACTION", "ALERT")
		for _, a := range view.Alerts {
			table.AddRow(
				a.RuleName,
				string(a.Scope),
				subjectString(a.SubjectID),
				string(a.Severity),
				strconv.FormatInt(a.Observed, 10),
				strconv.FormatInt(a.Threshold, 10),
				string(a.Action),
				a.AlertID,
			)
		}

		w := cmd.ErrOrStderr()
		switch {
		case view.Skipped:
			fmt.Fprintln(w, "Cycle skipped: another instance holds the lease")
		default:
			fmt.Fprintf(w, "Cycle %s as of %s: %d rules, %d matches\n",
				view.CycleID, view.AsOf.Format(time.RFC3339), view.Rules, len(view.Alerts))
		}
		for _, f := range view.Failures {
			fmt.Fprintf(w, "Rule %q failed: %s\n", f.RuleName, f.Error)
		}
		return table
	})
}

func subjectString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
