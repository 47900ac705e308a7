package logging

import "log/slog"

// Field names shared by the evaluator, dedup engine and API.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldCycleID   = "cycle_id"
	FieldRuleID    = "rule_id"
	FieldRuleName  = "rule_name"
	FieldAlertID   = "alert_id"
	FieldScope     = "scope"
	FieldSubjectID = "subject_id"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

func RuleName(name string) slog.Attr {
	return slog.String(FieldRuleName, name)
}

func AlertID(id string) slog.Attr {
	return slog.String(FieldAlertID, id)
}

func Scope(scope string) slog.Attr {
	return slog.String(FieldScope, scope)
}

// SubjectID logs a nullable subject; global-scope keys log as null.
func SubjectID(id *string) slog.Attr {
	if id == nil {
		return slog.Any(FieldSubjectID, nil)
	}
	return slog.String(FieldSubjectID, *id)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}
