// Package ratelimit provides fixed-window admission counters keyed by
// caller-chosen strings. Windows reset when their age exceeds the configured
// width; within a window at most maxRequests admissions succeed.
package ratelimit

import (
	"context"
	"time"
)

// Logger is the logging surface this package depends on.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Decision reports the outcome of one admission attempt.
type Decision struct {
	Allowed    bool  `json:"allowed"`
	Current    int64 `json:"current"`
	Limit      int64 `json:"limit"`
	RetryAfter int64 `json:"retry_after_ms"`
}

// Store is the admission counter contract. Implementations are safe for
// concurrent use; per-key state is guarded inside the store.
type Store interface {
	// Allow attempts one admission for key in a fixed window of window width
	// admitting at most max requests.
	Allow(ctx context.Context, key string, window time.Duration, max int64) (*Decision, error)
	// Current returns the live count for key, zero when the window lapsed.
	Current(ctx context.Context, key string) (int64, error)
	// Reset clears the window for key.
	Reset(ctx context.Context, key string) error
}
