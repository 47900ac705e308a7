package repository

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-anomaly/internal/database"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

// ListEnabledRules returns all enabled detection rules ordered by name.
func (r *PostgresRepository) ListEnabledRules(ctx context.Context) ([]*models.DetectionRule, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT id, name, enabled, scope, event_type, threshold_count, comparison,
		       threshold_window_minutes, severity, metadata_filters, created_at, updated_at
		FROM detection_rules
		WHERE enabled = TRUE
		ORDER BY name, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.DetectionRule{}
	for rows.Next() {
		rule := &models.DetectionRule{}
		var filters []byte
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Enabled, &rule.Scope, &rule.EventType,
			&rule.ThresholdCount, &rule.Comparison, &rule.ThresholdWindowMinutes,
			&rule.Severity, &filters, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.MetadataFilters = filters
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return rules, nil
}

// CreateRule inserts a rule. Only the seeder and tests write rules; rule
// administration lives outside this service.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule *models.DetectionRule) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO detection_rules (id, name, enabled, scope, event_type, threshold_count,
		                             comparison, threshold_window_minutes, severity, metadata_filters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var filters any
	if len(rule.MetadataFilters) > 0 {
		filters = string(rule.MetadataFilters)
	}

	_, err := r.pool.Exec(ctx, query,
		rule.ID, rule.Name, rule.Enabled, rule.Scope, rule.EventType, rule.ThresholdCount,
		rule.Comparison, rule.ThresholdWindowMinutes, rule.Severity, filters, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}
