// Package dedup persists rule matches as alert candidates, keeping at most
// one open alert per (rule, scope, subject), and drives the alert lifecycle.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/metrics"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
)

// maxUpsertAttempts bounds the find/write loop when another writer keeps
// changing the open alert for the same key.
const maxUpsertAttempts = 3

var (
	ErrUpsertConflict        = errors.New("alert upsert kept conflicting with concurrent writers")
	ErrAlertStoreUnavailable = errors.New("alert store unavailable")
)

// Action is what an upsert did to the store.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionFailed  Action = "failed"
)

// UpsertResult is the outcome of persisting one match.
type UpsertResult struct {
	Match  models.RuleMatch
	Alert  *models.AlertCandidate
	Action Action
	Err    error
}

// ProcessReport collects the per-match results of Process.
type ProcessReport struct {
	Results []UpsertResult
}

// Touched returns every alert created or updated in the batch.
func (r *ProcessReport) Touched() []*models.AlertCandidate {
	touched := []*models.AlertCandidate{}
	for _, res := range r.Results {
		if res.Alert != nil {
			touched = append(touched, res.Alert)
		}
	}
	return touched
}

// Count returns how many results carry action.
func (r *ProcessReport) Count(action Action) int {
	n := 0
	for _, res := range r.Results {
		if res.Action == action {
			n++
		}
	}
	return n
}

// Engine upserts matches and applies lifecycle transitions.
type Engine struct {
	store  repository.AlertStore
	logger *logging.Logger
	now    func() time.Time
	newID  func() (string, error)
}

type Option func(*Engine)

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the clock used to stamp acknowledge and resolve.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() (string, error)) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(store repository.AlertStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: logging.Default(),
		now:    time.Now,
		newID:  newAlertID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newAlertID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Process upserts every match independently. A failed match is logged and
// recorded in the report; only an unreachable store fails the batch.
func (e *Engine) Process(ctx context.Context, matches []models.RuleMatch, detectedAt time.Time) (*ProcessReport, error) {
	if err := e.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlertStoreUnavailable, err)
	}

	report := &ProcessReport{Results: make([]UpsertResult, 0, len(matches))}
	for _, match := range matches {
		res, err := e.UpsertOne(ctx, match, detectedAt)
		if err != nil {
			key := match.Key()
			e.logger.ErrorContext(ctx, "Failed to upsert alert",
				logging.RuleID(key.RuleID),
				logging.Scope(string(key.Scope)),
				logging.SubjectID(key.Subject()),
				logging.Error(err))
		}
		metrics.AlertUpserts.WithLabelValues(string(res.Action)).Inc()
		report.Results = append(report.Results, res)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "Processed rule matches",
		slog.Int("matches", len(matches)),
		slog.Int("created", report.Count(ActionCreated)),
		slog.Int("updated", report.Count(ActionUpdated)),
		slog.Int("failed", report.Count(ActionFailed)))

	return report, nil
}

// UpsertOne refreshes the open alert for the match's key or opens a new one.
// Losing a race against another writer falls back to the other path.
func (e *Engine) UpsertOne(ctx context.Context, match models.RuleMatch, detectedAt time.Time) (UpsertResult, error) {
	key := match.Key()

	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		existing, err := e.store.FindOpen(ctx, key)
		switch {
		case err == nil:
			updated, err := e.store.RecordDetection(ctx, existing.ID, models.DetectionUpdate{
				ObservedCount: match.ObservedCount,
				DetectedAt:    detectedAt,
				Context:       match.MetadataSummary,
				TenantID:      match.TenantID(),
			})
			if errors.Is(err, repository.ErrAlertNotOpen) || errors.Is(err, repository.ErrAlertNotFound) {
				continue
			}
			if err != nil {
				return failed(match, err)
			}
			return UpsertResult{Match: match, Alert: updated, Action: ActionUpdated}, nil

		case errors.Is(err, repository.ErrAlertNotFound):
			alert, err := e.newAlert(match, detectedAt)
			if err != nil {
				return failed(match, err)
			}
			err = e.store.Insert(ctx, alert)
			if errors.Is(err, repository.ErrOpenAlertExists) {
				continue
			}
			if err != nil {
				return failed(match, err)
			}
			e.logger.InfoContext(ctx, "Opened alert",
				logging.AlertID(alert.ID),
				logging.RuleID(alert.RuleID),
				logging.Scope(string(alert.Scope)),
				logging.SubjectID(alert.SubjectID),
				slog.String("severity", string(alert.Severity)),
				slog.Int64("observed_count", alert.ObservedCount))
			return UpsertResult{Match: match, Alert: alert, Action: ActionCreated}, nil

		default:
			return failed(match, err)
		}
	}

	return failed(match, fmt.Errorf("%w after %d attempts", ErrUpsertConflict, maxUpsertAttempts))
}

func failed(match models.RuleMatch, err error) (UpsertResult, error) {
	return UpsertResult{Match: match, Action: ActionFailed, Err: err}, err
}

func (e *Engine) newAlert(match models.RuleMatch, detectedAt time.Time) (*models.AlertCandidate, error) {
	id, err := e.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate alert id: %w", err)
	}

	summary := match.MetadataSummary
	if summary == nil {
		summary = map[string]any{}
	}

	return &models.AlertCandidate{
		ID:              id,
		RuleID:          match.RuleID,
		Scope:           match.Scope,
		SubjectID:       match.SubjectID,
		TenantID:        match.TenantID(),
		Severity:        match.Severity,
		ObservedCount:   match.ObservedCount,
		ThresholdCount:  match.ThresholdCount,
		WindowMinutes:   match.WindowMinutes,
		Status:          models.StatusOpen,
		FirstDetectedAt: detectedAt,
		LastDetectedAt:  detectedAt,
		DetectionCount:  1,
		Context:         summary,
		CreatedAt:       detectedAt,
		UpdatedAt:       detectedAt,
	}, nil
}
