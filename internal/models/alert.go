package models

import (
	"strconv"
	"time"
)

// AlertStatus is the lifecycle state of an alert candidate.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "open"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// CanTransition reports whether from→to is an allowed lifecycle move.
// Resolved is terminal; recurrence after resolution is a new alert, not a transition.
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case StatusOpen:
		return to == StatusAcknowledged || to == StatusResolved
	case StatusAcknowledged:
		return to == StatusResolved
	}
	return false
}

// SourcesFor returns the statuses from which to is reachable.
func SourcesFor(to AlertStatus) []AlertStatus {
	var sources []AlertStatus
	for _, from := range []AlertStatus{StatusOpen, StatusAcknowledged, StatusResolved} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// DedupKey identifies "the same ongoing incident". A nil subject (global
// scope) is its own value: HasSubject=false, SubjectID="".
type DedupKey struct {
	RuleID     string
	Scope      Scope
	SubjectID  string
	HasSubject bool
}

// NewDedupKey builds a key from a nullable subject.
func NewDedupKey(ruleID string, scope Scope, subjectID *string) DedupKey {
	k := DedupKey{RuleID: ruleID, Scope: scope}
	if subjectID != nil {
		k.SubjectID = *subjectID
		k.HasSubject = true
	}
	return k
}

// Subject returns the nullable subject of the key.
func (k DedupKey) Subject() *string {
	if !k.HasSubject {
		return nil
	}
	s := k.SubjectID
	return &s
}

// RuleMatch is an ephemeral detection result, prior to persistence.
type RuleMatch struct {
	RuleID          string         `json:"rule_id"`
	RuleName        string         `json:"rule_name"`
	Scope           Scope          `json:"scope"`
	SubjectID       *string        `json:"subject_id"`
	Severity        Severity       `json:"severity"`
	ObservedCount   int64          `json:"observed_count"`
	ThresholdCount  int64          `json:"threshold_count"`
	WindowMinutes   int            `json:"window_minutes"`
	MetadataSummary map[string]any `json:"metadata_summary"`
}

func (m *RuleMatch) Key() DedupKey {
	return NewDedupKey(m.RuleID, m.Scope, m.SubjectID)
}

// TenantID derives the owning tenant. Only tenant-scope matches carry one;
// asset and download ownership is not resolved here.
func (m *RuleMatch) TenantID() *int64 {
	if m.Scope != ScopeTenant || m.SubjectID == nil {
		return nil
	}
	id, err := strconv.ParseInt(*m.SubjectID, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// AlertCandidate is the persisted record of an incident.
type AlertCandidate struct {
	ID              string         `json:"id"`
	RuleID          string         `json:"rule_id"`
	Scope           Scope          `json:"scope"`
	SubjectID       *string        `json:"subject_id"`
	TenantID        *int64         `json:"tenant_id,omitempty"`
	Severity        Severity       `json:"severity"`
	ObservedCount   int64          `json:"observed_count"`
	ThresholdCount  int64          `json:"threshold_count"`
	WindowMinutes   int            `json:"window_minutes"`
	Status          AlertStatus    `json:"status"`
	FirstDetectedAt time.Time      `json:"first_detected_at"`
	LastDetectedAt  time.Time      `json:"last_detected_at"`
	DetectionCount  int            `json:"detection_count"`
	Context         map[string]any `json:"context,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (a *AlertCandidate) Key() DedupKey {
	return NewDedupKey(a.RuleID, a.Scope, a.SubjectID)
}

// DetectionUpdate carries the fields refreshed when an open alert is re-observed.
// Threshold, severity and window keep the values from when the incident opened.
type DetectionUpdate struct {
	ObservedCount int64
	DetectedAt    time.Time
	Context       map[string]any
	TenantID      *int64 // applied only when the alert has none
}

// ListAlertsRequest filters the review listing.
type ListAlertsRequest struct {
	Page     int
	Limit    int
	Severity Severity
	TenantID *int64
	RuleID   string
	Scope    Scope
	Status   AlertStatus
}

// ListAlertsResponse is a page of alert candidates.
type ListAlertsResponse struct {
	Alerts     []*AlertCandidate `json:"alerts"`
	Pagination Pagination        `json:"pagination"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
