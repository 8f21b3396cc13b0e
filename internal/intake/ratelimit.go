package intake

import (
	"context"
	"fmt"
	"time"

	"relaybot/internal/domain"
)

const (
	defaultRateWindow = 30 * time.Second
	defaultRateMax    = 7
)

// RateLimiterConfig configures the per-conversation sliding window.
type RateLimiterConfig struct {
	Store  domain.CounterStore
	Window time.Duration
	Max    int64
	Clock  func() time.Time
}

// RateLimiter admits at most Max messages per conversation in any trailing
// Window. Every call records an event, admitted or not.
type RateLimiter struct {
	store  domain.CounterStore
	window time.Duration
	max    int64
	now    func() time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = defaultRateWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultRateMax
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RateLimiter{
		store:  cfg.Store,
		window: cfg.Window,
		max:    cfg.Max,
		now:    cfg.Clock,
	}
}

// Admit records the message and reports whether it fits in the window.
func (r *RateLimiter) Admit(ctx context.Context, conversation string) (bool, error) {
	n, err := r.store.WindowAdd(ctx, "rate:"+conversation, r.now(), r.window)
	if err != nil {
		return false, fmt.Errorf("rate window: %w", err)
	}
	return n <= r.max, nil
}
