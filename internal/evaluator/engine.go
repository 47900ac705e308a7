// Package evaluator turns enabled detection rules and the aggregate windows
// they cover into rule matches.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
)

// DefaultWorkers bounds concurrent rule evaluations when no option is given.
const DefaultWorkers = 4

var (
	ErrUnknownScope              = errors.New("unknown rule scope")
	ErrInvalidWindow             = errors.New("threshold window must be positive")
	ErrAggregateStoreUnavailable = errors.New("aggregate store unavailable")

	ErrInvalidComparison = models.ErrInvalidComparison
	ErrMalformedFilters  = models.ErrMalformedFilters
)

// Engine evaluates rules against aggregate windows. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	rules      repository.RuleStore
	aggregates repository.AggregateStore
	workers    int
	logger     *logging.Logger
}

type Option func(*Engine)

// WithWorkers bounds how many rules are evaluated at once. It should not
// exceed the aggregate store's connection pool.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(rules repository.RuleStore, aggregates repository.AggregateStore, opts ...Option) *Engine {
	e := &Engine{
		rules:      rules,
		aggregates: aggregates,
		workers:    DefaultWorkers,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RuleResult is the outcome of one rule in a cycle. Err is set when the rule
// was skipped.
type RuleResult struct {
	Rule    *models.DetectionRule
	Matches []models.RuleMatch
	Err     error
}

// Report collects the per-rule results of EvaluateAll.
type Report struct {
	AsOf    time.Time
	Results []RuleResult
	// Matches is every successful match, in rule order.
	Matches []models.RuleMatch
}

// Failures returns the results of rules that were skipped.
func (r *Report) Failures() []RuleResult {
	var failed []RuleResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// EvaluateAll evaluates every enabled rule as of asOf. A failing rule is
// logged and recorded in the report; it never stops the others. Only an
// unreachable store or a cancelled context fails the whole call.
func (e *Engine) EvaluateAll(ctx context.Context, asOf time.Time) (*Report, error) {
	if err := e.aggregates.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregateStoreUnavailable, err)
	}

	rules, err := e.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}

	results := make([]RuleResult, len(rules))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, rule := range rules {
		g.Go(func() error {
			matches, err := e.EvaluateRule(ctx, rule, asOf)
			results[i] = RuleResult{Rule: rule, Matches: matches, Err: err}
			if err != nil {
				e.logFailure(ctx, rule, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{AsOf: asOf, Results: results, Matches: []models.RuleMatch{}}
	for _, res := range results {
		report.Matches = append(report.Matches, res.Matches...)
	}

	e.logger.DebugContext(ctx, "Evaluated rules",
		slog.Int("rules", len(rules)),
		slog.Int("matches", len(report.Matches)),
		slog.Int("failures", len(report.Failures())))

	return report, nil
}

func (e *Engine) logFailure(ctx context.Context, rule *models.DetectionRule, err error) {
	attrs := []any{logging.RuleID(rule.ID), logging.RuleName(rule.Name), logging.Error(err)}
	if errors.Is(err, models.ErrInvalidComparison) {
		e.logger.WarnContext(ctx, "Skipping rule with invalid comparison", attrs...)
		return
	}
	e.logger.ErrorContext(ctx, "Rule evaluation failed", attrs...)
}

// groupKey identifies one scope subject. Global rules use a single group
// with no subject.
type groupKey struct {
	subject    string
	hasSubject bool
}

type accumulator struct {
	subject  *string
	observed int64
	summary  *summaryBuilder
}

// EvaluateRule computes the matches of a single rule over the window
// [asOf - window, asOf]. Invalid rules are rejected before any query.
func (e *Engine) EvaluateRule(ctx context.Context, rule *models.DetectionRule, asOf time.Time) ([]models.RuleMatch, error) {
	if _, err := rule.Comparison.Matches(0, 0); err != nil {
		return nil, err
	}
	if rule.ThresholdWindowMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidWindow, rule.ThresholdWindowMinutes)
	}
	filters, err := rule.Filters()
	if err != nil {
		return nil, err
	}
	series, ok := models.SeriesForScope(rule.Scope)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, rule.Scope)
	}

	rows, err := e.aggregates.FetchAggregates(ctx, models.AggregateQuery{
		Series:      series,
		EventType:   rule.EventType,
		From:        asOf.Add(-rule.Window()),
		To:          asOf,
		WithSubject: rule.Scope != models.ScopeGlobal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s aggregates: %w", series, err)
	}

	groups := make(map[groupKey]*accumulator)
	if rule.Scope == models.ScopeGlobal {
		// A global rule is compared even when nothing landed in the window.
		groups[groupKey{}] = &accumulator{summary: newSummaryBuilder()}
	}

	for _, row := range rows {
		var key groupKey
		if rule.Scope != models.ScopeGlobal {
			if row.SubjectID == nil {
				continue
			}
			key = groupKey{subject: *row.SubjectID, hasSubject: true}
		}
		if !MatchesFilters(row.Metadata, filters) {
			continue
		}

		acc, ok := groups[key]
		if !ok {
			subject := key.subject
			acc = &accumulator{subject: &subject, summary: newSummaryBuilder()}
			groups[key] = acc
		}
		acc.observed += row.Count
		acc.summary.Add(row.Metadata)
	}

	matches := []models.RuleMatch{}
	for _, acc := range groups {
		matched, err := rule.Comparison.Matches(acc.observed, rule.ThresholdCount)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		matches = append(matches, models.RuleMatch{
			RuleID:          rule.ID,
			RuleName:        rule.Name,
			Scope:           rule.Scope,
			SubjectID:       acc.subject,
			Severity:        rule.Severity,
			ObservedCount:   acc.observed,
			ThresholdCount:  rule.ThresholdCount,
			WindowMinutes:   rule.ThresholdWindowMinutes,
			MetadataSummary: acc.summary.Build(),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return subjectOf(matches[i]) < subjectOf(matches[j])
	})

	return matches, nil
}

func subjectOf(m models.RuleMatch) string {
	if m.SubjectID == nil {
		return ""
	}
	return *m.SubjectID
}
