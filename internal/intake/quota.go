package intake

import (
	"context"
	"fmt"
	"time"

	"relaybot/internal/domain"
)

const (
	defaultQuotaThreshold = 10
	defaultQuotaTTL       = time.Hour
)

// Quota is a snapshot of a conversation's idle-message budget.
type Quota struct {
	Count    int64
	HasQuota bool
}

// QuotaTrackerConfig configures the idle quota.
type QuotaTrackerConfig struct {
	Store     domain.CounterStore
	Threshold int64
	TTL       time.Duration
}

// QuotaTracker counts messages the bot did not respond to. A triggering
// message resets the count.
type QuotaTracker struct {
	store     domain.CounterStore
	threshold int64
	ttl       time.Duration
}

func NewQuotaTracker(cfg QuotaTrackerConfig) *QuotaTracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultQuotaThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultQuotaTTL
	}
	return &QuotaTracker{store: cfg.Store, threshold: cfg.Threshold, ttl: cfg.TTL}
}

func key(conversation string) string {
	return "quota:" + conversation
}

// Increment counts one idle message and returns the updated snapshot.
func (q *QuotaTracker) Increment(ctx context.Context, conversation string) (Quota, error) {
	n, err := q.store.Incr(ctx, key(conversation), q.ttl)
	if err != nil {
		return Quota{}, fmt.Errorf("quota incr: %w", err)
	}
	return q.snapshot(n), nil
}

// Reset clears the count.
func (q *QuotaTracker) Reset(ctx context.Context, conversation string) error {
	if err := q.store.Del(ctx, key(conversation)); err != nil {
		return fmt.Errorf("quota reset: %w", err)
	}
	return nil
}

// Check reads the current snapshot without changing it.
func (q *QuotaTracker) Check(ctx context.Context, conversation string) (Quota, error) {
	n, err := q.store.Get(ctx, key(conversation))
	if err != nil {
		return Quota{}, fmt.Errorf("quota get: %w", err)
	}
	return q.snapshot(n), nil
}

func (q *QuotaTracker) snapshot(n int64) Quota {
	return Quota{Count: n, HasQuota: n < q.threshold}
}
