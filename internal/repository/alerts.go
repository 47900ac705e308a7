package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/telhawk-systems/telhawk-anomaly/internal/database"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

const alertColumns = `
	id, rule_id, scope, subject_id, tenant_id, severity, observed_count, threshold_count,
	window_minutes, status, first_detected_at, last_detected_at, detection_count, context,
	acknowledged_at, resolved_at, created_at, updated_at
`

func scanAlert(row pgx.Row) (*models.AlertCandidate, error) {
	a := &models.AlertCandidate{}
	err := row.Scan(
		&a.ID, &a.RuleID, &a.Scope, &a.SubjectID, &a.TenantID, &a.Severity,
		&a.ObservedCount, &a.ThresholdCount, &a.WindowMinutes, &a.Status,
		&a.FirstDetectedAt, &a.LastDetectedAt, &a.DetectionCount, &a.Context,
		&a.AcknowledgedAt, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func nonNilContext(c map[string]any) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return c
}

// FindOpen returns the open alert for key. The predicate mirrors the partial
// unique index so the lookup is served by it.
func (r *PostgresRepository) FindOpen(ctx context.Context, key models.DedupKey) (*models.AlertCandidate, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + alertColumns + `
		FROM alert_candidates
		WHERE rule_id = $1
		  AND scope = $2
		  AND COALESCE(subject_id, '') = COALESCE($3::text, '')
		  AND (subject_id IS NULL) = $4
		  AND status = 'open'
	`

	a, err := scanAlert(r.pool.QueryRow(ctx, query, key.RuleID, key.Scope, key.Subject(), !key.HasSubject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}
	return a, nil
}

// Insert creates an alert. A concurrent writer that already opened an alert
// for the same key surfaces as ErrOpenAlertExists.
func (r *PostgresRepository) Insert(ctx context.Context, a *models.AlertCandidate) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO alert_candidates (
			id, rule_id, scope, subject_id, tenant_id, severity, observed_count, threshold_count,
			window_minutes, status, first_detected_at, last_detected_at, detection_count, context,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.RuleID, a.Scope, a.SubjectID, a.TenantID, a.Severity, a.ObservedCount, a.ThresholdCount,
		a.WindowMinutes, a.Status, a.FirstDetectedAt, a.LastDetectedAt, a.DetectionCount, nonNilContext(a.Context),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, openKeyIndex) {
			return ErrOpenAlertExists
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecordDetection refreshes an open alert in one statement so concurrent
// re-detections never lose an increment.
func (r *PostgresRepository) RecordDetection(ctx context.Context, id string, u models.DetectionUpdate) (*models.AlertCandidate, error) {
	if !validID(id) {
		return nil, ErrAlertNotFound
	}

	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		UPDATE alert_candidates
		SET observed_count   = $2,
		    last_detected_at = $3,
		    detection_count  = detection_count + 1,
		    context          = $4,
		    tenant_id        = COALESCE(tenant_id, $5),
		    updated_at       = $3
		WHERE id = $1 AND status = 'open'
		RETURNING ` + alertColumns

	a, err := scanAlert(r.pool.QueryRow(wctx, query, id, u.ObservedCount, u.DetectedAt, nonNilContext(u.Context), u.TenantID))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to record detection: %w", err)
	}

	if _, err := r.GetAlert(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrAlertNotOpen
}

// Transition moves an alert along the lifecycle, guarded by the allowed source statuses.
func (r *PostgresRepository) Transition(ctx context.Context, id string, to models.AlertStatus, at time.Time) (*models.AlertCandidate, error) {
	if !validID(id) {
		return nil, ErrAlertNotFound
	}

	sources := models.SourcesFor(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing transitions to %s", ErrInvalidTransition, to)
	}
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}

	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		UPDATE alert_candidates
		SET status          = $2::text,
		    acknowledged_at = CASE WHEN $2::text = 'acknowledged' THEN $3 ELSE acknowledged_at END,
		    resolved_at     = CASE WHEN $2::text = 'resolved' THEN $3 ELSE resolved_at END,
		    updated_at      = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + alertColumns

	a, err := scanAlert(r.pool.QueryRow(wctx, query, id, string(to), at, from))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition alert: %w", err)
	}

	current, err := r.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

// GetAlert retrieves an alert by ID
func (r *PostgresRepository) GetAlert(ctx context.Context, id string) (*models.AlertCandidate, error) {
	if !validID(id) {
		return nil, ErrAlertNotFound
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + alertColumns + ` FROM alert_candidates WHERE id = $1`

	a, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlerts retrieves a filtered, paginated list of alerts, most recently detected first.
func (r *PostgresRepository) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.AlertCandidate, int, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	conditions := []string{"1=1"}
	args := []any{}
	argPos := 1

	add := func(column string, value any) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if req.Severity != "" {
		add("severity", string(req.Severity))
	}
	if req.TenantID != nil {
		add("tenant_id", *req.TenantID)
	}
	if req.RuleID != "" {
		if !validID(req.RuleID) {
			return []*models.AlertCandidate{}, 0, nil
		}
		add("rule_id", req.RuleID)
	}
	if req.Scope != "" {
		add("scope", string(req.Scope))
	}
	if req.Status != "" {
		add("status", string(req.Status))
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM alert_candidates " + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	offset := (req.Page - 1) * req.Limit
	args = append(args, req.Limit, offset)

	query := fmt.Sprintf(`SELECT %s
		FROM alert_candidates
		%s
		ORDER BY last_detected_at DESC, id
		LIMIT $%d OFFSET $%d
	`, alertColumns, whereClause, argPos, argPos+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.AlertCandidate{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return alerts, total, nil
}
