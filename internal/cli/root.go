// Package cli implements the anomaly command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-anomaly/internal/config"
	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/output"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
	"github.com/telhawk-systems/telhawk-anomaly/internal/seeder"
)

var (
	cfgFile      string
	outputFormat string
	cfg          *config.Config
	logger       *logging.Logger
)

// Store is everything the commands need from persistence.
type Store interface {
	repository.RuleStore
	repository.AggregateStore
	repository.AlertStore
	seeder.Store
	Close() error
}

// openStore connects to the configured database. Tests replace it.
var openStore = func(ctx context.Context, cfg *config.Config) (Store, error) {
	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.ConnString(), cfg.Database.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

var rootCmd = &cobra.Command{
	Use:   "anomaly",
	Short: "TelHawk anomaly detection engine",
	Long: `anomaly evaluates threshold detection rules against pre-aggregated event
counts and maintains deduplicated alert candidates for review.

Run "anomaly serve" for the scheduler and review API, or use the evaluate
and alerts commands for one-off work from a terminal.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if _, err := output.ParseFormat(outputFormat); err != nil {
			return err
		}
		logger = logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
		logging.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/telhawk/anomaly/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
}

// render writes v in the selected format, falling back to table for table output.
func render(cmd *cobra.Command, v any, table func() *output.Table) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.JSON(w, v)
	case output.FormatYAML:
		return output.YAML(w, v)
	default:
		return table().Render(w)
	}
}

func connect(ctx context.Context) (Store, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return store, nil
}
