package repository

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrOpenAlertExists   = errors.New("open alert already exists for key")
	ErrAlertNotOpen      = errors.New("alert is no longer open")
	ErrInvalidTransition = errors.New("invalid alert status transition")
	ErrUnknownSeries     = errors.New("unknown aggregate series")
)

// RuleStore is the read side of the rule registry.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]*models.DetectionRule, error)
}

// AggregateStore reads the time-bucketed counters written by the rollup job.
type AggregateStore interface {
	Ping(ctx context.Context) error
	FetchAggregates(ctx context.Context, q models.AggregateQuery) ([]*models.Aggregate, error)
}

// AlertStore persists alert candidates. Implementations must reject a second
// open row for the same dedup key with ErrOpenAlertExists.
type AlertStore interface {
	Ping(ctx context.Context) error

	// FindOpen returns the open alert for key or ErrAlertNotFound.
	FindOpen(ctx context.Context, key models.DedupKey) (*models.AlertCandidate, error)
	Insert(ctx context.Context, alert *models.AlertCandidate) error
	// RecordDetection applies u to an alert that is still open and increments
	// its detection count. ErrAlertNotOpen if it left the open state meanwhile.
	RecordDetection(ctx context.Context, id string, u models.DetectionUpdate) (*models.AlertCandidate, error)
	// Transition moves an alert to status to. ErrAlertNotFound or ErrInvalidTransition.
	Transition(ctx context.Context, id string, to models.AlertStatus, at time.Time) (*models.AlertCandidate, error)

	GetAlert(ctx context.Context, id string) (*models.AlertCandidate, error)
	ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.AlertCandidate, int, error)
}
