package domain

import (
	"context"
	"time"
)

// CounterStore holds the transient per-conversation counters. Every method is
// atomic per key on all backends.
type CounterStore interface {
	// WindowAdd records an event at the given instant, drops entries older than
	// at-window, refreshes the key TTL to window and returns the remaining count.
	WindowAdd(ctx context.Context, key string, at time.Time, window time.Duration) (int64, error)
	// Incr increments the counter and refreshes its TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the counter value, 0 when absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
