package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

// InMemoryRepository implements the stores without a database. It backs
// `evaluate --dry-run` and the package tests.
type InMemoryRepository struct {
	rules      []*models.DetectionRule
	aggregates []*models.Aggregate
	alerts     map[string]*models.AlertCandidate
	open       map[models.DedupKey]string
	pingErr    error
	mu         sync.RWMutex
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		alerts: make(map[string]*models.AlertCandidate),
		open:   make(map[models.DedupKey]string),
	}
}

// SetPingError makes Ping fail with err until reset with nil.
func (r *InMemoryRepository) SetPingError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pingErr = err
}

func (r *InMemoryRepository) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pingErr
}

// Close is a no-op; it lets the in-memory store stand in for Postgres.
func (r *InMemoryRepository) Close() error {
	return nil
}

func (r *InMemoryRepository) CreateRule(ctx context.Context, rule *models.DetectionRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *rule
	r.rules = append(r.rules, &copied)
	return nil
}

func (r *InMemoryRepository) ListEnabledRules(ctx context.Context) ([]*models.DetectionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := []*models.DetectionRule{}
	for _, rule := range r.rules {
		if rule.Enabled {
			copied := *rule
			rules = append(rules, &copied)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Name != rules[j].Name {
			return rules[i].Name < rules[j].Name
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

func (r *InMemoryRepository) InsertAggregates(ctx context.Context, aggregates []*models.Aggregate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range aggregates {
		if _, ok := seriesTables[a.Series]; !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownSeries, a.Series)
		}
		if _, err := subjectValue(a); err != nil {
			return 0, err
		}
	}
	for _, a := range aggregates {
		copied := *a
		r.aggregates = append(r.aggregates, &copied)
	}
	return int64(len(aggregates)), nil
}

func (r *InMemoryRepository) FetchAggregates(ctx context.Context, q models.AggregateQuery) ([]*models.Aggregate, error) {
	if _, ok := seriesTables[q.Series]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeries, q.Series)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.pingErr != nil {
		return nil, r.pingErr
	}

	result := []*models.Aggregate{}
	for _, a := range r.aggregates {
		if a.Series != q.Series || a.EventType != q.EventType {
			continue
		}
		if a.BucketStartAt.Before(q.From) || a.BucketStartAt.After(q.To) {
			continue
		}
		if q.Series == models.SeriesTenant && (a.SubjectID != nil) != q.WithSubject {
			continue
		}
		copied := *a
		result = append(result, &copied)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BucketStartAt.Before(result[j].BucketStartAt)
	})
	return result, nil
}

func cloneAlert(a *models.AlertCandidate) *models.AlertCandidate {
	copied := *a
	copied.Context = maps.Clone(a.Context)
	return &copied
}

func (r *InMemoryRepository) FindOpen(ctx context.Context, key models.DedupKey) (*models.AlertCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.open[key]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(r.alerts[id]), nil
}

func (r *InMemoryRepository) Insert(ctx context.Context, alert *models.AlertCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.alerts[alert.ID]; exists {
		return fmt.Errorf("alert %s already exists", alert.ID)
	}
	key := alert.Key()
	if alert.Status == models.StatusOpen {
		if _, exists := r.open[key]; exists {
			return ErrOpenAlertExists
		}
		r.open[key] = alert.ID
	}

	stored := cloneAlert(alert)
	if stored.Context == nil {
		stored.Context = map[string]any{}
	}
	r.alerts[alert.ID] = stored
	return nil
}

func (r *InMemoryRepository) RecordDetection(ctx context.Context, id string, u models.DetectionUpdate) (*models.AlertCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if alert.Status != models.StatusOpen {
		return nil, ErrAlertNotOpen
	}

	alert.ObservedCount = u.ObservedCount
	alert.LastDetectedAt = u.DetectedAt
	alert.DetectionCount++
	alert.Context = maps.Clone(u.Context)
	if alert.Context == nil {
		alert.Context = map[string]any{}
	}
	if alert.TenantID == nil && u.TenantID != nil {
		tenantID := *u.TenantID
		alert.TenantID = &tenantID
	}
	alert.UpdatedAt = u.DetectedAt
	return cloneAlert(alert), nil
}

func (r *InMemoryRepository) Transition(ctx context.Context, id string, to models.AlertStatus, at time.Time) (*models.AlertCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if !models.CanTransition(alert.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, alert.Status, to)
	}

	if alert.Status == models.StatusOpen {
		delete(r.open, alert.Key())
	}
	alert.Status = to
	switch to {
	case models.StatusAcknowledged:
		alert.AcknowledgedAt = &at
	case models.StatusResolved:
		alert.ResolvedAt = &at
	}
	alert.UpdatedAt = at
	return cloneAlert(alert), nil
}

func (r *InMemoryRepository) GetAlert(ctx context.Context, id string) (*models.AlertCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alert, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(alert), nil
}

func (r *InMemoryRepository) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.AlertCandidate, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*models.AlertCandidate{}
	for _, a := range r.alerts {
		if req.Severity != "" && a.Severity != req.Severity {
			continue
		}
		if req.TenantID != nil && (a.TenantID == nil || *a.TenantID != *req.TenantID) {
			continue
		}
		if req.RuleID != "" && a.RuleID != req.RuleID {
			continue
		}
		if req.Scope != "" && a.Scope != req.Scope {
			continue
		}
		if req.Status != "" && a.Status != req.Status {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastDetectedAt.Equal(matched[j].LastDetectedAt) {
			return matched[i].LastDetectedAt.After(matched[j].LastDetectedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := (req.Page - 1) * req.Limit
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + req.Limit
	if req.Limit <= 0 || end > total {
		end = total
	}

	alerts := make([]*models.AlertCandidate, 0, end-start)
	for _, a := range matched[start:end] {
		alerts = append(alerts, cloneAlert(a))
	}
	return alerts, total, nil
}

var (
	_ RuleStore      = (*InMemoryRepository)(nil)
	_ AggregateStore = (*InMemoryRepository)(nil)
	_ AlertStore     = (*InMemoryRepository)(nil)
	_ RuleStore      = (*PostgresRepository)(nil)
	_ AggregateStore = (*PostgresRepository)(nil)
	_ AlertStore     = (*PostgresRepository)(nil)
)
