package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/output"
	"github.com/telhawk-systems/telhawk-anomaly/internal/service"
)

var alertFilter service.AlertFilter

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Review alert candidates",
}

var alertsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List alert candidates, most recently detected first",
	Args:    cobra.NoArgs,
	RunE:    runAlertsList,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>...",
	Short: "Acknowledge open alerts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args, (*service.Service).AcknowledgeMany)
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>...",
	Short: "Resolve open or acknowledged alerts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args, (*service.Service).ResolveMany)
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd)

	f := alertsListCmd.Flags()
	f.StringVar(&alertFilter.Page, "page", "", "page number (default 1)")
	f.StringVar(&alertFilter.Limit, "limit", "", "results per page (default 50, max 100)")
	f.StringVar(&alertFilter.Severity, "severity", "", "filter by severity")
	f.StringVar(&alertFilter.TenantID, "tenant", "", "filter by tenant id")
	f.StringVar(&alertFilter.RuleID, "rule", "", "filter by rule id")
	f.StringVar(&alertFilter.Scope, "scope", "", "filter by scope: global, tenant, asset, download")
	f.StringVar(&alertFilter.Status, "status", "", "filter by status: open, acknowledged, resolved")
}

func newService(store Store) *service.Service {
	return service.NewService(store, dedup.NewEngine(store, dedup.WithLogger(logger)))
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	req, err := service.ParseFilter(alertFilter)
	if err != nil {
		return err
	}

	store, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	resp, err := newService(store).ListAlerts(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	return render(cmd, resp, func() *output.Table {
		table := output.NewTable("ID", "STATUS", "SEVERITY", "SCOPE", "SUBJECT", "OBSERVED", "DETECTIONS", "LAST DETECTED")
		for _, a := range resp.Alerts {
			table.AddRow(
				a.ID,
				string(a.Status),
				string(a.Severity),
				string(a.Scope),
				subjectString(a.SubjectID),
				fmt.Sprintf("%d/%d", a.ObservedCount, a.ThresholdCount),
				strconv.Itoa(a.DetectionCount),
				a.LastDetectedAt.Format(time.RFC3339),
			)
		}
		p := resp.Pagination
		fmt.Fprintf(cmd.ErrOrStderr(), "Page %d of %d (%d alerts)\n", p.Page, max(p.TotalPages, 1), p.Total)
		return table
	})
}

func runTransition(cmd *cobra.Command, ids []string, apply func(*service.Service, context.Context, []string) []dedup.TransitionResult) error {
	store, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	results := apply(newService(store), cmd.Context(), ids)

	failed := 0
	for _, res := range results {
		if res.Outcome != dedup.OutcomeApplied {
			failed++
		}
	}

	err = render(cmd, results, func() *output.Table {
		table := output.NewTable("ID", "OUTCOME", "STATUS", "DETAIL")
		for _, res := range results {
			status, detail := "", ""
			if res.Alert != nil {
				status = string(res.Alert.Status)
			}
			if res.Err != nil {
				detail = res.Err.Error()
			}
			table.AddRow(res.AlertID, string(res.Outcome), status, detail)
		}
		return table
	})
	if err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d alerts were not updated", failed, len(results))
	}
	return nil
}
