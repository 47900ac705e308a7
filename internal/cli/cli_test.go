package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-anomaly/internal/config"
	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
	"github.com/telhawk-systems/telhawk-anomaly/internal/seeder"
	"github.com/telhawk-systems/telhawk-anomaly/internal/service"
)

var asOf = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// execute runs the root command against store and returns stdout.
func execute(t *testing.T, store Store, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ANOMALY_LOGGING_LEVEL", "error")

	original := openStore
	openStore = func(context.Context, *config.Config) (Store, error) { return store, nil }
	t.Cleanup(func() { openStore = original })

	outputFormat = "table"
	alertFilter = service.AlertFilter{}
	evalOnce, evalDryRun, evalAsOf = false, false, ""
	seedCfg = seeder.DefaultConfig()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func seedGlobalRule(t *testing.T) *repository.InMemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()

	require.NoError(t, repo.CreateRule(ctx, &models.DetectionRule{
		ID:                     "rule-1",
		Name:                   "Platform ingest failures",
		Enabled:                true,
		Scope:                  models.ScopeGlobal,
		EventType:              "ingest.failed",
		ThresholdCount:         5,
		Comparison:             models.ComparisonGreaterThanOrEqual,
		ThresholdWindowMinutes: 15,
		Severity:               models.SeverityHigh,
	}))
	_, err := repo.InsertAggregates(ctx, []*models.Aggregate{{
		Series:        models.SeriesTenant,
		EventType:     "ingest.failed",
		BucketStartAt: asOf.Add(-5 * time.Minute),
		Count:         10,
	}})
	require.NoError(t, err)
	return repo
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{
		"serve": false, "migrate": false, "evaluate": false, "alerts": false, "seed": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "expected command %q to be registered", name)
	}

	sub := map[string]bool{}
	for _, cmd := range alertsCmd.Commands() {
		sub[cmd.Name()] = true
	}
	assert.True(t, sub["list"])
	assert.True(t, sub["ack"])
	assert.True(t, sub["resolve"])
}

func TestEvaluateOnce_OpensThenRefreshes(t *testing.T) {
	repo := seedGlobalRule(t)

	out, err := execute(t, repo, "evaluate", "--once", "--as-of", asOf.Format(time.RFC3339), "-o", "json")
	require.NoError(t, err)

	var first cycleView
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Equal(t, 1, first.Rules)
	require.Len(t, first.Alerts, 1)
	assert.Equal(t, dedup.ActionCreated, first.Alerts[0].Action)
	assert.Nil(t, first.Alerts[0].SubjectID)
	assert.Equal(t, int64(10), first.Alerts[0].Observed)

	out, err = execute(t, repo, "evaluate", "--once", "--as-of", asOf.Add(time.Minute).Format(time.RFC3339), "-o", "json")
	require.NoError(t, err)

	var second cycleView
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	require.Len(t, second.Alerts, 1)
	assert.Equal(t, dedup.ActionUpdated, second.Alerts[0].Action)
	assert.Equal(t, first.Alerts[0].AlertID, second.Alerts[0].AlertID)

	out, err = execute(t, repo, "alerts", "list", "-o", "json")
	require.NoError(t, err)

	var resp models.ListAlertsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, 2, resp.Alerts[0].DetectionCount)
	assert.Equal(t, 1, resp.Pagination.Total)
}

func TestEvaluateOnce_DryRunWritesNothing(t *testing.T) {
	repo := seedGlobalRule(t)

	out, err := execute(t, repo, "evaluate", "--once", "--dry-run", "--as-of", asOf.Format(time.RFC3339), "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "dry_run: true")
	assert.Contains(t, out, "action: created")

	alerts, total, err := repo.ListAlerts(context.Background(), &models.ListAlertsRequest{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Zero(t, total)
}

func TestEvaluate_FlagErrors(t *testing.T) {
	repo := seedGlobalRule(t)

	_, err := execute(t, repo, "evaluate", "--as-of", asOf.Format(time.RFC3339))
	assert.ErrorContains(t, err, "--as-of requires --once")

	_, err = execute(t, repo, "evaluate", "--once", "--as-of", "yesterday")
	assert.ErrorContains(t, err, "invalid --as-of")

	_, err = execute(t, repo, "evaluate", "--once", "-o", "csv")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestAlerts_AckAndResolve(t *testing.T) {
	repo := seedGlobalRule(t)

	out, err := execute(t, repo, "evaluate", "--once", "--as-of", asOf.Format(time.RFC3339), "-o", "json")
	require.NoError(t, err)
	var cycle cycleView
	require.NoError(t, json.Unmarshal([]byte(out), &cycle))
	require.Len(t, cycle.Alerts, 1)
	id := cycle.Alerts[0].AlertID

	out, err = execute(t, repo, "alerts", "ack", id)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "acknowledged")

	_, err = execute(t, repo, "alerts", "ack", id)
	assert.ErrorContains(t, err, "1 of 1 alerts were not updated")

	_, err = execute(t, repo, "alerts", "resolve", id, "missing")
	assert.ErrorContains(t, err, "1 of 2 alerts were not updated")

	alert, err := repo.GetAlert(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, alert.Status)

	out, err = execute(t, repo, "alerts", "list", "--status", "open")
	require.NoError(t, err)
	assert.NotContains(t, out, id)

	_, err = execute(t, repo, "alerts", "list", "--severity", "urgent")
	assert.ErrorIs(t, err, service.ErrInvalidFilter)
}

func TestSeed(t *testing.T) {
	repo := repository.NewInMemoryRepository()

	out, err := execute(t, repo, "seed", "--tenants", "2", "--assets", "1", "--downloads", "1", "--span", "30m", "-o", "json")
	require.NoError(t, err)

	var result seeder.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 6, result.Rules)
	// 6 buckets, each with 2 event types x (2 tenants + global) + 1 asset + 1 download.
	assert.Equal(t, int64(6*8), result.Aggregates)

	rules, err := repo.ListEnabledRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 5)

	_, err = execute(t, repo, "seed", "--bucket", "0s")
	assert.ErrorContains(t, err, "invalid seeder flags")
}
