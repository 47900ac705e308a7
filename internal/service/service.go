package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

var ErrInvalidFilter = errors.New("invalid filter")

// AlertFilter is the unparsed form of a list request, as received from the
// HTTP query string or CLI flags.
type AlertFilter struct {
	Page     string
	Limit    string
	Severity string
	TenantID string
	RuleID   string
	Scope    string
	Status   string
}

// Service provides the review operations over alert candidates.
type Service struct {
	alerts repository.AlertStore
	dedup  *dedup.Engine
}

// NewService creates a new Service instance
func NewService(alerts repository.AlertStore, dd *dedup.Engine) *Service {
	return &Service{alerts: alerts, dedup: dd}
}

// ParseFilter validates a filter and converts it to a list request.
// Page and limit fall back to defaults when absent; everything else that
// does not parse is ErrInvalidFilter.
func ParseFilter(f AlertFilter) (*models.ListAlertsRequest, error) {
	req := &models.ListAlertsRequest{Page: 1, Limit: DefaultLimit, RuleID: f.RuleID}

	if f.Page != "" {
		p, err := strconv.Atoi(f.Page)
		if err != nil || p < 1 {
			return nil, fmt.Errorf("%w: page must be a positive integer", ErrInvalidFilter)
		}
		req.Page = p
	}
	if f.Limit != "" {
		l, err := strconv.Atoi(f.Limit)
		if err != nil || l < 1 || l > MaxLimit {
			return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidFilter, MaxLimit)
		}
		req.Limit = l
	}
	if f.Severity != "" {
		req.Severity = models.Severity(f.Severity)
		if !req.Severity.Valid() {
			return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, f.Severity)
		}
	}
	if f.TenantID != "" {
		id, err := strconv.ParseInt(f.TenantID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant_id must be an integer", ErrInvalidFilter)
		}
		req.TenantID = &id
	}
	if f.Scope != "" {
		req.Scope = models.Scope(f.Scope)
		if !req.Scope.Valid() {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidFilter, f.Scope)
		}
	}
	if f.Status != "" {
		req.Status = models.AlertStatus(f.Status)
		if !req.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
		}
	}
	return req, nil
}

// ListAlerts returns a page of alerts matching req.
func (s *Service) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) (*models.ListAlertsResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > MaxLimit {
		req.Limit = DefaultLimit
	}

	alerts, total, err := s.alerts.ListAlerts(ctx, req)
	if err != nil {
		return nil, err
	}

	totalPages := (total + req.Limit - 1) / req.Limit

	return &models.ListAlertsResponse{
		Alerts: alerts,
		Pagination: models.Pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// GetAlert returns one alert or repository.ErrAlertNotFound.
func (s *Service) GetAlert(ctx context.Context, id string) (*models.AlertCandidate, error) {
	return s.alerts.GetAlert(ctx, id)
}

func (s *Service) Acknowledge(ctx context.Context, id string) (dedup.TransitionResult, error) {
	return s.dedup.Acknowledge(ctx, id)
}

func (s *Service) Resolve(ctx context.Context, id string) (dedup.TransitionResult, error) {
	return s.dedup.Resolve(ctx, id)
}

func (s *Service) AcknowledgeMany(ctx context.Context, ids []string) []dedup.TransitionResult {
	return s.dedup.AcknowledgeMany(ctx, ids)
}

func (s *Service) ResolveMany(ctx context.Context, ids []string) []dedup.TransitionResult {
	return s.dedup.ResolveMany(ctx, ids)
}

// Ping checks the alert store.
func (s *Service) Ping(ctx context.Context) error {
	return s.alerts.Ping(ctx)
}
