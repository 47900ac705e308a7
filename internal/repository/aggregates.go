package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/telhawk-systems/telhawk-anomaly/internal/database"
	"github.com/telhawk-systems/telhawk-anomaly/internal/models"
)

type seriesTable struct {
	table   string
	subject string
}

var seriesTables = map[models.Series]seriesTable{
	models.SeriesTenant:   {table: "event_aggregates", subject: "tenant_id"},
	models.SeriesAsset:    {table: "asset_event_aggregates", subject: "asset_id"},
	models.SeriesDownload: {table: "download_event_aggregates", subject: "download_id"},
}

// FetchAggregates returns the rows of one series for an event type whose
// bucket starts within [q.From, q.To].
func (r *PostgresRepository) FetchAggregates(ctx context.Context, q models.AggregateQuery) ([]*models.Aggregate, error) {
	st, ok := seriesTables[q.Series]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeries, q.Series)
	}

	subjectFilter := fmt.Sprintf("%s IS NOT NULL", st.subject)
	if q.Series == models.SeriesTenant && !q.WithSubject {
		subjectFilter = fmt.Sprintf("%s IS NULL", st.subject)
	}

	query := fmt.Sprintf(`
		SELECT %[2]s::text, bucket_start_at, count, metadata
		FROM %[1]s
		WHERE event_type = $1
		  AND bucket_start_at BETWEEN $2 AND $3
		  AND %[3]s
		ORDER BY bucket_start_at, id
	`, st.table, st.subject, subjectFilter)

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, q.EventType, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s aggregates: %w", q.Series, err)
	}
	defer rows.Close()

	aggregates := []*models.Aggregate{}
	for rows.Next() {
		a := &models.Aggregate{Series: q.Series, EventType: q.EventType}
		if err := rows.Scan(&a.SubjectID, &a.BucketStartAt, &a.Count, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggregates = append(aggregates, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return aggregates, nil
}

// InsertAggregates bulk-loads rows with COPY. The rollup job owns these
// tables in production; the seeder and integration tests use this.
func (r *PostgresRepository) InsertAggregates(ctx context.Context, aggregates []*models.Aggregate) (int64, error) {
	bySeries := make(map[models.Series][][]any)
	for _, a := range aggregates {
		if _, ok := seriesTables[a.Series]; !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownSeries, a.Series)
		}

		subject, err := subjectValue(a)
		if err != nil {
			return 0, err
		}
		metadata := a.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		bySeries[a.Series] = append(bySeries[a.Series],
			[]any{a.EventType, subject, a.BucketStartAt, a.Count, metadata})
	}

	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	var total int64
	for series, rows := range bySeries {
		st := seriesTables[series]
		n, err := r.pool.CopyFrom(ctx,
			pgx.Identifier{st.table},
			[]string{"event_type", st.subject, "bucket_start_at", "count", "metadata"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return total, fmt.Errorf("failed to copy %s aggregates: %w", series, err)
		}
		total += n
	}

	return total, nil
}

func subjectValue(a *models.Aggregate) (any, error) {
	if a.SubjectID == nil {
		if a.Series != models.SeriesTenant {
			return nil, fmt.Errorf("%s aggregate requires a subject", a.Series)
		}
		return nil, nil
	}
	if a.Series != models.SeriesTenant {
		return *a.SubjectID, nil
	}
	tenantID, err := strconv.ParseInt(*a.SubjectID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", *a.SubjectID, err)
	}
	return tenantID, nil
}
