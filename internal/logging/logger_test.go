package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-anomaly/internal/middleware"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := New(slog.LevelInfo, format)
		require.NotNil(t, logger)
		require.NotNil(t, logger.Logger)
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		cycleID   string
	}{
		{
			name:      "request id",
			ctx:       middleware.WithRequestID(context.Background(), "req-1"),
			requestID: "req-1",
		},
		{
			name:    "cycle id",
			ctx:     WithCycleID(context.Background(), "cycle-9"),
			cycleID: "cycle-9",
		},
		{
			name: "neither",
			ctx:  context.Background(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, slog.LevelInfo, "json")

			logger.InfoContext(tt.ctx, "evaluated", RuleID("rule-1"))
			entry := decodeLine(t, &buf)

			assert.Equal(t, "evaluated", entry["msg"])
			assert.Equal(t, "rule-1", entry[FieldRuleID])
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, entry[FieldRequestID])
			} else {
				assert.NotContains(t, entry, FieldRequestID)
			}
			if tt.cycleID != "" {
				assert.Equal(t, tt.cycleID, entry[FieldCycleID])
			} else {
				assert.NotContains(t, entry, FieldCycleID)
			}
		})
	}
}

func TestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	subject := "7"
	logger.WarnContext(context.Background(), "skipped",
		SubjectID(&subject),
		Scope("tenant"),
		Error(errors.New("boom")),
	)
	entry := decodeLine(t, &buf)
	assert.Equal(t, "7", entry[FieldSubjectID])
	assert.Equal(t, "tenant", entry[FieldScope])
	assert.Equal(t, "boom", entry[FieldError])

	buf.Reset()
	logger.InfoContext(context.Background(), "global", SubjectID(nil))
	entry = decodeLine(t, &buf)
	assert.Contains(t, entry, FieldSubjectID)
	assert.Nil(t, entry[FieldSubjectID])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "text")
	logger.InfoContext(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
	logger.WarnContext(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}
