package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-anomaly/internal/output"
	"github.com/telhawk-systems/telhawk-anomaly/internal/seeder"
)

var seedCfg = seeder.DefaultConfig()

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write sample rules and aggregates for development",
	Long: `Generate sample detection rules (one per scope, some with metadata filters)
and bucketed event aggregates ending now. Tenant 1, the first asset and the
first download are noisy so the sample rules have something to match.

Run "anomaly migrate" first.

Examples:
  anomaly seed
  anomaly seed --tenants 20 --span 6h --spike 20
  anomaly seed --skip-rules --seed 7`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := seedCfg.Validate(); err != nil {
			return fmt.Errorf("invalid seeder flags: %w", err)
		}

		store, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := seeder.New(store, seedCfg).Run(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}

		return render(cmd, result, func() *output.Table {
			table := output.NewTable("RULES", "AGGREGATES")
			table.AddRow(strconv.Itoa(result.Rules), strconv.FormatInt(result.Aggregates, 10))
			return table
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	f := seedCmd.Flags()
	f.IntVar(&seedCfg.Tenants, "tenants", seedCfg.Tenants, "number of tenants")
	f.IntVar(&seedCfg.Assets, "assets", seedCfg.Assets, "number of assets")
	f.IntVar(&seedCfg.Downloads, "downloads", seedCfg.Downloads, "number of downloads")
	f.DurationVar(&seedCfg.Span, "span", seedCfg.Span, "how far back buckets are generated")
	f.DurationVar(&seedCfg.Bucket, "bucket", seedCfg.Bucket, "bucket width")
	f.IntVar(&seedCfg.SpikeFactor, "spike", seedCfg.SpikeFactor, "count multiplier for the noisy subjects")
	f.Int64Var(&seedCfg.Seed, "seed", seedCfg.Seed, "random seed; 0 picks a random one")
	f.BoolVar(&seedCfg.SkipRules, "skip-rules", false, "only write aggregates")
}
