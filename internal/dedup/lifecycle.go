package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/metrics"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
)

// Outcome is the result of a lifecycle request on one alert.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeInvalidTransition Outcome = "invalid_transition"
	OutcomeFailed            Outcome = "failed"
)

// TransitionResult reports what happened to one alert. Not-found and invalid
// transitions are outcomes, not errors, so batch callers can keep going.
type TransitionResult struct {
	AlertID string                 `json:"alert_id"`
	Outcome Outcome                `json:"outcome"`
	Alert   *models.AlertCandidate `json:"alert,omitempty"`
	Err     error                  `json:"-"`
}

// Acknowledge moves an open alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id string) (TransitionResult, error) {
	return e.transition(ctx, id, models.StatusAcknowledged, "acknowledge")
}

// Resolve moves an open or acknowledged alert to resolved.
func (e *Engine) Resolve(ctx context.Context, id string) (TransitionResult, error) {
	return e.transition(ctx, id, models.StatusResolved, "resolve")
}

// AcknowledgeMany acknowledges each id and returns one result per id.
func (e *Engine) AcknowledgeMany(ctx context.Context, ids []string) []TransitionResult {
	return e.transitionMany(ctx, ids, e.Acknowledge)
}

// ResolveMany resolves each id and returns one result per id.
func (e *Engine) ResolveMany(ctx context.Context, ids []string) []TransitionResult {
	return e.transitionMany(ctx, ids, e.Resolve)
}

func (e *Engine) transitionMany(ctx context.Context, ids []string, apply func(context.Context, string) (TransitionResult, error)) []TransitionResult {
	results := make([]TransitionResult, 0, len(ids))
	for _, id := range ids {
		res, _ := apply(ctx, id)
		results = append(results, res)
	}
	return results
}

func (e *Engine) transition(ctx context.Context, id string, to models.AlertStatus, action string) (TransitionResult, error) {
	res := TransitionResult{AlertID: id}

	alert, err := e.store.Transition(ctx, id, to, e.now())
	switch {
	case err == nil:
		res.Outcome = OutcomeApplied
		res.Alert = alert
		e.logger.InfoContext(ctx, "Alert "+string(to),
			logging.AlertID(id),
			logging.RuleID(alert.RuleID))
	case errors.Is(err, repository.ErrAlertNotFound):
		res.Outcome = OutcomeNotFound
		res.Err = err
		e.logger.WarnContext(ctx, "Alert not found", logging.AlertID(id))
	case errors.Is(err, repository.ErrInvalidTransition):
		res.Outcome = OutcomeInvalidTransition
		res.Err = err
		e.logger.WarnContext(ctx, "Rejected alert transition", logging.AlertID(id), logging.Error(err))
	default:
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("failed to %s alert %s: %w", action, id, err)
		e.logger.ErrorContext(ctx, "Alert transition failed", logging.AlertID(id), logging.Error(err))
	}

	metrics.AlertTransitions.WithLabelValues(action, string(res.Outcome)).Inc()

	if res.Outcome == OutcomeFailed {
		return res, res.Err
	}
	return res, nil
}
