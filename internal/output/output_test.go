package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID      string         `json:"id"`
	Count   int64          `json:"count"`
	Summary map[string]any `json:"summary,omitempty"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yaml", want: FormatYAML},
		{input: "csv", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sample{ID: "a1", Count: 3}))

	assert.JSONEq(t, `{"id":"a1","count":3}`, buf.String())
	assert.Contains(t, buf.String(), "\n  \"id\"")
}

func TestYAML_UsesJSONTags(t *testing.T) {
	var buf bytes.Buffer
	err := YAML(&buf, []sample{{ID: "a1", Count: 3, Summary: map[string]any{"pipeline": "ingest"}}})
	require.NoError(t, err)

	assert.Equal(t, "- count: 3\n  id: a1\n  summary:\n    pipeline: ingest\n", buf.String())
}

func TestTable_Render(t *testing.T) {
	table := NewTable("ID", "SEVERITY", "COUNT")
	table.AddRow("a1", "critical", "12")
	table.AddRow("b22", "low")
	table.AddRow("c3", "high", "1", "ignored")

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	assert.Equal(t, 3, table.Len())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "ID   SEVERITY  COUNT", lines[0])
	assert.Equal(t, "---  --------  -----", lines[1])
	assert.Equal(t, "a1   critical  12", lines[2])
	assert.Equal(t, "b22  low       ", lines[3])
	assert.Equal(t, "c3   high      1", lines[4])
}

func TestTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTable("ID").Render(&buf))
	assert.Equal(t, "ID\n--\n", buf.String())
}
