package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		prepare  func(e *Engine, id string)
		apply    func(e *Engine, ctx context.Context, id string) (TransitionResult, error)
		expected Outcome
		status   models.AlertStatus
	}{
		{
			name:     "acknowledge open",
			apply:    (*Engine).Acknowledge,
			expected: OutcomeApplied,
			status:   models.StatusAcknowledged,
		},
		{
			name:     "resolve open",
			apply:    (*Engine).Resolve,
			expected: OutcomeApplied,
			status:   models.StatusResolved,
		},
		{
			name:     "resolve acknowledged",
			prepare:  func(e *Engine, id string) { _, _ = e.Acknowledge(ctx, id) },
			apply:    (*Engine).Resolve,
			expected: OutcomeApplied,
			status:   models.StatusResolved,
		},
		{
			name:     "acknowledge twice",
			prepare:  func(e *Engine, id string) { _, _ = e.Acknowledge(ctx, id) },
			apply:    (*Engine).Acknowledge,
			expected: OutcomeInvalidTransition,
			status:   models.StatusAcknowledged,
		},
		{
			name:     "acknowledge resolved",
			prepare:  func(e *Engine, id string) { _, _ = e.Resolve(ctx, id) },
			apply:    (*Engine).Acknowledge,
			expected: OutcomeInvalidTransition,
			status:   models.StatusResolved,
		},
		{
			name:     "resolve resolved",
			prepare:  func(e *Engine, id string) { _, _ = e.Resolve(ctx, id) },
			apply:    (*Engine).Resolve,
			expected: OutcomeInvalidTransition,
			status:   models.StatusResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			engine := newTestEngine(store)
			created, err := engine.UpsertOne(ctx, globalMatch(12), t0)
			require.NoError(t, err)
			id := created.Alert.ID

			if tt.prepare != nil {
				tt.prepare(engine, id)
			}

			res, err := tt.apply(engine, ctx, id)
			require.NoError(t, err, "lifecycle outcomes are not errors")
			assert.Equal(t, tt.expected, res.Outcome)
			assert.Equal(t, id, res.AlertID)

			current, err := store.GetAlert(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.status, current.Status)
		})
	}
}

func TestLifecycle_Timestamps(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(store)

	created, err := engine.UpsertOne(ctx, globalMatch(12), t0)
	require.NoError(t, err)

	acked, err := engine.Acknowledge(ctx, created.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, acked.Alert.AcknowledgedAt)
	assert.Equal(t, t0.Add(time.Hour), *acked.Alert.AcknowledgedAt)
	assert.Nil(t, acked.Alert.ResolvedAt)

	resolved, err := engine.Resolve(ctx, created.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved.Alert.ResolvedAt)
	assert.NotNil(t, resolved.Alert.AcknowledgedAt)
}

func TestLifecycle_NotFound(t *testing.T) {
	engine := newTestEngine(newMockStore())

	res, err := engine.Acknowledge(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.Alert)

	res, err = engine.Resolve(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestLifecycle_StoreError(t *testing.T) {
	store := newMockStore()
	store.TransitionFunc = func(ctx context.Context, id string, to models.AlertStatus, at time.Time) (*models.AlertCandidate, error) {
		return nil, errors.New("connection reset")
	}

	res, err := newTestEngine(store).Resolve(context.Background(), "a1")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, err.Error(), "failed to resolve alert a1")
}

func TestLifecycle_Many(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(store)

	first, err := engine.UpsertOne(ctx, globalMatch(12), t0)
	require.NoError(t, err)
	second, err := engine.UpsertOne(ctx, models.RuleMatch{RuleID: "r2", Scope: models.ScopeTenant, SubjectID: strPtr("7"), ObservedCount: 4}, t0)
	require.NoError(t, err)

	results := engine.AcknowledgeMany(ctx, []string{first.Alert.ID, "missing", second.Alert.ID, first.Alert.ID})
	require.Len(t, results, 4)
	assert.Equal(t, OutcomeApplied, results[0].Outcome)
	assert.Equal(t, OutcomeNotFound, results[1].Outcome)
	assert.Equal(t, OutcomeApplied, results[2].Outcome, "a missing id does not stop the batch")
	assert.Equal(t, OutcomeInvalidTransition, results[3].Outcome)

	resolved := engine.ResolveMany(ctx, []string{first.Alert.ID, second.Alert.ID})
	for _, r := range resolved {
		assert.Equal(t, OutcomeApplied, r.Outcome)
	}
}
