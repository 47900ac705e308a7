package database

import (
	"context"
	"time"
)

// Statement timeouts the repositories apply on top of the caller's context.
const (
	ReadTimeout  = 5 * time.Second
	WriteTimeout = 10 * time.Second
	CopyTimeout  = time.Minute
)

// QueryContext bounds an aggregate window read, a rule listing or an alert lookup.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ReadTimeout)
}

// WriteContext bounds a single alert upsert, lifecycle transition or rule insert.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, WriteTimeout)
}

// BulkContext bounds a COPY of seeded aggregates.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, CopyTimeout)
}
