package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidComparison = errors.New("invalid comparison operator")
	ErrMalformedFilters  = errors.New("malformed metadata filters")
)

// Scope is the dimension a rule is evaluated per.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeTenant   Scope = "tenant"
	ScopeAsset    Scope = "asset"
	ScopeDownload Scope = "download"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeTenant, ScopeAsset, ScopeDownload:
		return true
	}
	return false
}

// Comparison is the threshold operator of a rule.
type Comparison string

const (
	ComparisonGreaterThan        Comparison = "greater_than"
	ComparisonGreaterThanOrEqual Comparison = "greater_than_or_equal"
)

// Matches compares an observed count against a threshold.
// Operators other than the two known ones return ErrInvalidComparison.
func (c Comparison) Matches(observed, threshold int64) (bool, error) {
	switch c {
	case ComparisonGreaterThan:
		return observed > threshold, nil
	case ComparisonGreaterThanOrEqual:
		return observed >= threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidComparison, string(c))
	}
}

// Severity is an ordered alert severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// Rank returns the ordinal of the severity, 0 when unknown.
func (s Severity) Rank() int {
	return severityRank[s]
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// DetectionRule is a declarative threshold rule. The engine never writes rules.
type DetectionRule struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Enabled                bool            `json:"enabled"`
	Scope                  Scope           `json:"scope"`
	EventType              string          `json:"event_type"`
	ThresholdCount         int64           `json:"threshold_count"`
	Comparison             Comparison      `json:"comparison"`
	ThresholdWindowMinutes int             `json:"threshold_window_minutes"`
	Severity               Severity        `json:"severity"`
	MetadataFilters        json.RawMessage `json:"metadata_filters,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              *time.Time      `json:"updated_at,omitempty"`
}

// Window returns the evaluation window of the rule.
func (r *DetectionRule) Window() time.Duration {
	return time.Duration(r.ThresholdWindowMinutes) * time.Minute
}

// Filters decodes the metadata filters. An absent or null value yields nil.
// Anything that is not a JSON object is reported as ErrMalformedFilters.
func (r *DetectionRule) Filters() (map[string]any, error) {
	if len(r.MetadataFilters) == 0 || string(r.MetadataFilters) == "null" {
		return nil, nil
	}

	var filters map[string]any
	if err := json.Unmarshal(r.MetadataFilters, &filters); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFilters, err)
	}
	return filters, nil
}
