package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutContexts(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(context.Context) (context.Context, context.CancelFunc)
		timeout time.Duration
	}{
		{name: "query", fn: QueryContext, timeout: ReadTimeout},
		{name: "write", fn: WriteContext, timeout: WriteTimeout},
		{name: "bulk", fn: BulkContext, timeout: CopyTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			ctx, cancel := tt.fn(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, start.Add(tt.timeout), deadline, time.Second)
		})
	}
}

func TestTimeoutContexts_KeepEarlierParentDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	parentDeadline, _ := parent.Deadline()

	ctx, cancelQuery := QueryContext(parent)
	defer cancelQuery()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, parentDeadline, deadline)
}
