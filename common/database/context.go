package database

import (
	"context"
	"time"
)

// Default deadlines applied by the storage backends when the caller's
// context carries none of its own.
const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// QueryContext bounds a read by DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return bounded(parent, DefaultQueryTimeout)
}

// WriteContext bounds a conditional write by DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return bounded(parent, DefaultWriteTimeout)
}

// bounded keeps an earlier parent deadline instead of extending it.
func bounded(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := parent.Deadline(); ok && time.Until(dl) < d {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
