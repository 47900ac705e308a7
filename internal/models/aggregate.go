package models

import "time"

// Series identifies one of the physically distinct aggregate collections.
type Series string

const (
	// SeriesTenant holds global rows (no tenant) and tenant-keyed rows.
	SeriesTenant   Series = "tenant"
	SeriesAsset    Series = "asset"
	SeriesDownload Series = "download"
)

// SeriesForScope maps a rule scope to the series it reads.
func SeriesForScope(scope Scope) (Series, bool) {
	switch scope {
	case ScopeGlobal, ScopeTenant:
		return SeriesTenant, true
	case ScopeAsset:
		return SeriesAsset, true
	case ScopeDownload:
		return SeriesDownload, true
	}
	return "", false
}

// Aggregate is a precomputed event count for one bucket, produced by the rollup job.
type Aggregate struct {
	Series        Series         `json:"series"`
	EventType     string         `json:"event_type"`
	SubjectID     *string        `json:"subject_id,omitempty"` // tenant_id, asset_id or download_id
	BucketStartAt time.Time      `json:"bucket_start_at"`
	Count         int64          `json:"count"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AggregateQuery selects rows of one series.
type AggregateQuery struct {
	Series    Series
	EventType string
	From      time.Time // inclusive
	To        time.Time // inclusive
	// WithSubject restricts the tenant series to tenant rows (true) or global
	// rows (false). Asset and download rows always carry a subject.
	WithSubject bool
}
