package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummaryBuilder(t *testing.T) {
	b := newSummaryBuilder()
	b.Add(map[string]any{
		"error_codes": map[string]any{"TIMEOUT": float64(5), "OTHER": float64(1)},
		"pipeline":    "ingest",
		"tags":        []any{"video", "large"},
	})
	b.Add(map[string]any{
		"error_codes": map[string]any{"TIMEOUT": 2},
		"pipeline":    "ingest",
		"tags":        []any{"large", "hdr"},
	})
	b.Add(map[string]any{
		"pipeline": "export",
	})
	b.Add(nil)

	summary := b.Build()

	assert.Equal(t, map[string]any{"TIMEOUT": float64(7), "OTHER": float64(1)}, summary["error_codes"])
	assert.Equal(t, []any{"ingest", "export"}, summary["pipeline"])
	assert.Equal(t, []any{"video", "large", "hdr"}, summary["tags"])
}

func TestSummaryBuilder_NonNumericInnerValues(t *testing.T) {
	b := newSummaryBuilder()
	b.Add(map[string]any{"owner": map[string]any{"primary": "alice", "count": 1}})
	b.Add(map[string]any{"owner": map[string]any{"primary": "bob", "count": 2}})
	b.Add(map[string]any{"owner": map[string]any{"primary": "alice"}})

	owner, ok := b.Build()["owner"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, []any{"alice", "bob"}, owner["primary"])
	assert.Equal(t, float64(3), owner["count"])
}

func TestSummaryBuilder_MixedShapes(t *testing.T) {
	b := newSummaryBuilder()
	b.Add(map[string]any{"region": map[string]any{"eu": 1}})
	b.Add(map[string]any{"region": "us"})

	region, ok := b.Build()["region"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, float64(1), region["eu"])
	assert.Equal(t, []any{"us"}, region["_values"])
}

func TestSummaryBuilder_Empty(t *testing.T) {
	assert.Empty(t, newSummaryBuilder().Build())
}
