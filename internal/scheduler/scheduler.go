// Package scheduler provides periodic execution of detection rules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/evaluator"
	"github.com/telhawk-systems/telhawk-anomaly/internal/lease"
	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/metrics"
)

// CycleReport summarises one evaluation cycle.
type CycleReport struct {
	CycleID    string
	AsOf       time.Time
	Skipped    bool
	Evaluation *evaluator.Report
	Dedup      *dedup.ProcessReport
	Duration   time.Duration
}

// Scheduler runs an evaluation cycle immediately and then on every tick.
type Scheduler struct {
	evaluator *evaluator.Engine
	dedup     *dedup.Engine
	lease     lease.Lease
	interval  time.Duration
	logger    *logging.Logger
	now       func() time.Time
	stop      chan struct{}
	stopped   chan struct{}
}

// NewScheduler creates a new evaluation scheduler. A nil lease means every
// cycle runs.
func NewScheduler(eval *evaluator.Engine, dd *dedup.Engine, l lease.Lease, interval time.Duration, logger *logging.Logger) *Scheduler {
	if l == nil {
		l = lease.Noop{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		evaluator: eval,
		dedup:     dd,
		lease:     l,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins the scheduler loop. This should be called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stopped)

	s.logger.InfoContext(ctx, "Evaluation scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stop:
			s.logger.InfoContext(ctx, "Evaluation scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Evaluation scheduler context cancelled")
			return
		}
	}
}

// Stop signals the scheduler to stop and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Scheduler) tick(ctx context.Context) {
	// Failures are logged and counted inside RunCycle; the next tick retries.
	_, _ = s.RunCycle(ctx, s.now())
}

// RunCycle evaluates all rules as of asOf and persists the matches. It
// returns an error only for cycle-level failures.
func (s *Scheduler) RunCycle(ctx context.Context, asOf time.Time) (*CycleReport, error) {
	cycleID := uuid.NewString()
	ctx = logging.WithCycleID(ctx, cycleID)
	start := time.Now()
	report := &CycleReport{CycleID: cycleID, AsOf: asOf}

	release, ok, err := s.lease.Acquire(ctx)
	switch {
	case err != nil:
		// The store constraint keeps alerts unique; run without the lease.
		s.logger.WarnContext(ctx, "Cycle lease unavailable, running anyway", logging.Error(err))
	case !ok:
		s.logger.InfoContext(ctx, "Skipping cycle, another runner holds the lease")
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		report.Skipped = true
		return report, nil
	default:
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "Failed to release cycle lease", logging.Error(err))
			}
		}()
	}

	evaluation, err := s.evaluator.EvaluateAll(ctx, asOf)
	if err != nil {
		return nil, s.fail(ctx, start, fmt.Errorf("evaluation failed: %w", err))
	}
	report.Evaluation = evaluation

	processed, err := s.dedup.Process(ctx, evaluation.Matches, asOf)
	if err != nil {
		return nil, s.fail(ctx, start, fmt.Errorf("dedup failed: %w", err))
	}
	report.Dedup = processed
	report.Duration = time.Since(start)

	failures := len(evaluation.Failures())
	metrics.RuleEvaluations.WithLabelValues("ok").Add(float64(len(evaluation.Results) - failures))
	metrics.RuleEvaluations.WithLabelValues("failed").Add(float64(failures))
	metrics.RuleMatches.Add(float64(len(evaluation.Matches)))
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	metrics.LastCycleTimestamp.SetToCurrentTime()

	s.logger.InfoContext(ctx, "Evaluation cycle complete",
		slog.Time("as_of", asOf),
		slog.Int("rules", len(evaluation.Results)),
		slog.Int("rule_failures", failures),
		slog.Int("matches", len(evaluation.Matches)),
		slog.Int("alerts_created", processed.Count(dedup.ActionCreated)),
		slog.Int("alerts_updated", processed.Count(dedup.ActionUpdated)),
		slog.Int("upsert_failures", processed.Count(dedup.ActionFailed)),
		logging.Duration(report.Duration.Milliseconds()))

	return report, nil
}

func (s *Scheduler) fail(ctx context.Context, start time.Time, err error) error {
	metrics.CyclesTotal.WithLabelValues("failed").Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	s.logger.ErrorContext(ctx, "Evaluation cycle failed", logging.Error(err))
	return err
}
