// Package seeder generates development rules and aggregates so the engine
// has something to evaluate without the rollup job running.
package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

// Event types written by the seeder.
const (
	EventIngestFailed   = "ingest.failed"
	EventAuthFailed     = "auth.failed"
	EventAssetScanError = "asset.scan_failed"
	EventDownloadFailed = "download.failed"
)

var (
	errorCodes = []string{"TIMEOUT", "CONNECTION_RESET", "INVALID_PAYLOAD", "RATE_LIMITED", "UNAUTHORIZED"}
	pipelines  = []string{"ingest", "thumbnail", "transcode", "virus_scan"}
)

// Store is where seeded data is written. Both repositories implement it.
type Store interface {
	CreateRule(ctx context.Context, rule *models.DetectionRule) error
	InsertAggregates(ctx context.Context, aggregates []*models.Aggregate) (int64, error)
}

// Config controls the size and shape of the generated data.
type Config struct {
	Tenants   int
	Assets    int
	Downloads int
	Span      time.Duration // how far back from now buckets are generated
	Bucket    time.Duration // bucket width
	// Noisy tenant 1 gets its counts multiplied so the sample rules fire.
	SpikeFactor int
	Seed        int64
	SkipRules   bool
}

// DefaultConfig returns a small data set covering every scope.
func DefaultConfig() Config {
	return Config{
		Tenants:     5,
		Assets:      10,
		Downloads:   10,
		Span:        2 * time.Hour,
		Bucket:      5 * time.Minute,
		SpikeFactor: 8,
		Seed:        42,
	}
}

// Validate checks the config before anything is written.
func (c Config) Validate() error {
	var errs []error
	if c.Tenants < 1 {
		errs = append(errs, fmt.Errorf("tenants must be at least 1, got %d", c.Tenants))
	}
	if c.Assets < 0 || c.Downloads < 0 {
		errs = append(errs, errors.New("assets and downloads must not be negative"))
	}
	if c.Bucket <= 0 {
		errs = append(errs, fmt.Errorf("bucket must be positive, got %s", c.Bucket))
	}
	if c.Span < c.Bucket {
		errs = append(errs, fmt.Errorf("span (%s) must be at least one bucket (%s)", c.Span, c.Bucket))
	}
	if c.SpikeFactor < 1 {
		errs = append(errs, fmt.Errorf("spike factor must be at least 1, got %d", c.SpikeFactor))
	}
	return errors.Join(errs...)
}

// Result counts what a run wrote.
type Result struct {
	Rules      int   `json:"rules"`
	Aggregates int64 `json:"aggregates"`
}

// Seeder writes generated data to a Store.
type Seeder struct {
	store Store
	cfg   Config
	faker *gofakeit.Faker
}

// New creates a Seeder. The same seed produces the same data.
func New(store Store, cfg Config) *Seeder {
	return &Seeder{
		store: store,
		cfg:   cfg,
		faker: gofakeit.New(cfg.Seed),
	}
}

// Run generates rules and aggregates ending at now and writes them.
func (s *Seeder) Run(ctx context.Context, now time.Time) (*Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seeder config: %w", err)
	}

	result := &Result{}
	if !s.cfg.SkipRules {
		for _, rule := range s.Rules(now) {
			if err := s.store.CreateRule(ctx, rule); err != nil {
				return result, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
			}
			result.Rules++
		}
	}

	n, err := s.store.InsertAggregates(ctx, s.Aggregates(now))
	if err != nil {
		return result, fmt.Errorf("failed to seed aggregates: %w", err)
	}
	result.Aggregates = n
	return result, nil
}

// Rules returns one enabled rule per scope plus two filtered rules and a
// disabled one.
func (s *Seeder) Rules(now time.Time) []*models.DetectionRule {
	rule := func(name string, scope models.Scope, eventType string, threshold int64, cmp models.Comparison,
		window int, severity models.Severity, filters map[string]any) *models.DetectionRule {
		r := &models.DetectionRule{
			ID:                     s.faker.UUID(),
			Name:                   name,
			Enabled:                true,
			Scope:                  scope,
			EventType:              eventType,
			ThresholdCount:         threshold,
			Comparison:             cmp,
			ThresholdWindowMinutes: window,
			Severity:               severity,
			CreatedAt:              now.UTC(),
		}
		if filters != nil {
			// Marshalling a map of strings cannot fail.
			r.MetadataFilters, _ = json.Marshal(filters)
		}
		return r
	}

	disabled := rule("Tenant auth failures (legacy)", models.ScopeTenant, EventAuthFailed, 1,
		models.ComparisonGreaterThan, 5, models.SeverityInfo, nil)
	disabled.Enabled = false

	return []*models.DetectionRule{
		rule("Platform ingest failures", models.ScopeGlobal, EventIngestFailed, 200,
			models.ComparisonGreaterThanOrEqual, 60, models.SeverityHigh, nil),
		rule("Tenant auth failure spike", models.ScopeTenant, EventAuthFailed, 40,
			models.ComparisonGreaterThan, 15, models.SeverityMedium, nil),
		rule("Tenant ingest timeouts", models.ScopeTenant, EventIngestFailed, 30,
			models.ComparisonGreaterThanOrEqual, 30, models.SeverityHigh,
			map[string]any{"error_codes": "TIMEOUT"}),
		rule("Thumbnail scan failures", models.ScopeAsset, EventAssetScanError, 10,
			models.ComparisonGreaterThanOrEqual, 60, models.SeverityLow,
			map[string]any{"pipeline": "thumbnail"}),
		rule("Repeated download failures", models.ScopeDownload, EventDownloadFailed, 25,
			models.ComparisonGreaterThan, 60, models.SeverityCritical, nil),
		disabled,
	}
}

// Aggregates returns bucketed rows for every series over the configured span.
func (s *Seeder) Aggregates(now time.Time) []*models.Aggregate {
	end := now.UTC().Truncate(s.cfg.Bucket)
	start := end.Add(-s.cfg.Span)

	assets := s.subjects("asset", s.cfg.Assets)
	downloads := s.subjects("dl", s.cfg.Downloads)

	var rows []*models.Aggregate
	for bucket := start.Add(s.cfg.Bucket); !bucket.After(end); bucket = bucket.Add(s.cfg.Bucket) {
		for _, eventType := range []string{EventIngestFailed, EventAuthFailed} {
			var total int64
			for tenant := 1; tenant <= s.cfg.Tenants; tenant++ {
				count := s.count(tenant == 1)
				total += count
				rows = append(rows, s.aggregate(models.SeriesTenant, eventType, strPtr(strconv.Itoa(tenant)), bucket, count))
			}
			rows = append(rows, s.aggregate(models.SeriesTenant, eventType, nil, bucket, total))
		}
		for i, asset := range assets {
			rows = append(rows, s.aggregate(models.SeriesAsset, EventAssetScanError, strPtr(asset), bucket, s.count(i == 0)))
		}
		for i, download := range downloads {
			rows = append(rows, s.aggregate(models.SeriesDownload, EventDownloadFailed, strPtr(download), bucket, s.count(i == 0)))
		}
	}
	return rows
}

func (s *Seeder) subjects(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = prefix + "-" + s.faker.UUID()[:8]
	}
	return ids
}

func (s *Seeder) count(noisy bool) int64 {
	n := int64(s.faker.Number(0, 4))
	if noisy {
		n = (n + 1) * int64(s.cfg.SpikeFactor)
	}
	return n
}

func (s *Seeder) aggregate(series models.Series, eventType string, subject *string, bucket time.Time, count int64) *models.Aggregate {
	codes := map[string]any{}
	remaining := count
	for remaining > 0 {
		code := s.faker.RandomString(errorCodes)
		n := int64(s.faker.Number(1, int(remaining)))
		prev, _ := codes[code].(int64)
		codes[code] = prev + n
		remaining -= n
	}

	return &models.Aggregate{
		Series:        series,
		EventType:     eventType,
		SubjectID:     subject,
		BucketStartAt: bucket,
		Count:         count,
		Metadata: map[string]any{
			"error_codes": codes,
			"pipeline":    s.faker.RandomString(pipelines),
			"region":      s.faker.RandomString([]string{"us-east-1", "eu-west-1", "ap-southeast-2"}),
		},
	}
}

func strPtr(s string) *string {
	return &s
}
