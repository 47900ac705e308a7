package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
	"github.com/telhawk-systems/telhawk-anomaly/internal/repository"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name        string
		filter      AlertFilter
		expectError bool
		check       func(t *testing.T, req *models.ListAlertsRequest)
	}{
		{
			name:   "defaults",
			filter: AlertFilter{},
			check: func(t *testing.T, req *models.ListAlertsRequest) {
				assert.Equal(t, 1, req.Page)
				assert.Equal(t, DefaultLimit, req.Limit)
				assert.Nil(t, req.TenantID)
			},
		},
		{
			name: "all filters",
			filter: AlertFilter{
				Page: "2", Limit: "10", Severity: "critical", TenantID: "7",
				RuleID: "rule-1", Scope: "tenant", Status: "open",
			},
			check: func(t *testing.T, req *models.ListAlertsRequest) {
				assert.Equal(t, 2, req.Page)
				assert.Equal(t, 10, req.Limit)
				assert.Equal(t, models.SeverityCritical, req.Severity)
				require.NotNil(t, req.TenantID)
				assert.Equal(t, int64(7), *req.TenantID)
				assert.Equal(t, "rule-1", req.RuleID)
				assert.Equal(t, models.ScopeTenant, req.Scope)
				assert.Equal(t, models.StatusOpen, req.Status)
			},
		},
		{name: "zero page", filter: AlertFilter{Page: "0"}, expectError: true},
		{name: "limit too large", filter: AlertFilter{Limit: "101"}, expectError: true},
		{name: "non-numeric limit", filter: AlertFilter{Limit: "ten"}, expectError: true},
		{name: "unknown severity", filter: AlertFilter{Severity: "urgent"}, expectError: true},
		{name: "non-numeric tenant", filter: AlertFilter{TenantID: "acme"}, expectError: true},
		{name: "unknown scope", filter: AlertFilter{Scope: "region"}, expectError: true},
		{name: "unknown status", filter: AlertFilter{Status: "closed"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseFilter(tt.filter)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			tt.check(t, req)
		})
	}
}

func newTestService(t *testing.T) (*Service, *repository.InMemoryRepository, []string) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	dd := dedup.NewEngine(repo, dedup.WithLogger(logging.Discard()))

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, subject := range []string{"1", "2", "3"} {
		s := subject
		res, err := dd.UpsertOne(ctx, models.RuleMatch{
			RuleID: "rule-1", Scope: models.ScopeTenant, SubjectID: &s,
			Severity: models.SeverityHigh, ObservedCount: 5, ThresholdCount: 3, WindowMinutes: 30,
		}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids = append(ids, res.Alert.ID)
	}
	return NewService(repo, dd), repo, ids
}

func TestService_ListAlerts(t *testing.T) {
	svc, _, ids := newTestService(t)
	ctx := context.Background()

	resp, err := svc.ListAlerts(ctx, &models.ListAlertsRequest{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Alerts, 2)
	assert.Equal(t, models.Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, resp.Pagination)
	assert.Equal(t, ids[2], resp.Alerts[0].ID)

	tenant := int64(2)
	resp, err = svc.ListAlerts(ctx, &models.ListAlertsRequest{TenantID: &tenant})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, resp.Pagination.Limit)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, ids[1], resp.Alerts[0].ID)
}

func TestService_Lifecycle(t *testing.T) {
	svc, _, ids := newTestService(t)
	ctx := context.Background()

	res, err := svc.Acknowledge(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, dedup.OutcomeApplied, res.Outcome)

	res, err = svc.Acknowledge(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, dedup.OutcomeInvalidTransition, res.Outcome)

	results := svc.ResolveMany(ctx, []string{ids[0], ids[1], "missing"})
	assert.Equal(t, dedup.OutcomeApplied, results[0].Outcome)
	assert.Equal(t, dedup.OutcomeApplied, results[1].Outcome)
	assert.Equal(t, dedup.OutcomeNotFound, results[2].Outcome)

	open, err := svc.ListAlerts(ctx, &models.ListAlertsRequest{Status: models.StatusOpen})
	require.NoError(t, err)
	require.Len(t, open.Alerts, 1)
	assert.Equal(t, ids[2], open.Alerts[0].ID)

	alert, err := svc.GetAlert(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, alert.Status)

	_, err = svc.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrAlertNotFound)
}
