package agent

import (
	"context"
	"sync"
	"time"
)

// Throttle is a token bucket shared by every run so bursts of triggers do not
// exceed the oracle's request budget.
type Throttle struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

func NewThrottle(maxBurst int, ratePerMinute float64) *Throttle {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	return &Throttle{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		wait, ok := t.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the current whole-token balance.
func (t *Throttle) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refill()
	return int(t.tokens)
}

func (t *Throttle) take() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refill()
	if t.tokens >= 1.0 {
		t.tokens -= 1.0
		return 0, true
	}
	waitSec := (1.0 - t.tokens) / t.rate
	return time.Duration(waitSec * float64(time.Second)), false
}

func (t *Throttle) refill() {
	now := t.now()
	t.tokens += now.Sub(t.lastTime).Seconds() * t.rate
	if t.tokens > t.max {
		t.tokens = t.max
	}
	t.lastTime = now
}
