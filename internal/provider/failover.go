package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const defaultCooldown = 30 * time.Second

// member is one provider in a failover chain. A member that just failed is
// benched until coolUntil and only tried when no rested member is left.
type member struct {
	domain.Provider
	coolUntil time.Time
}

// FailoverProvider tries its members in order and hands the request to the
// next one when a member fails. Each member answers with its own model, so the
// request model is cleared first.
type FailoverProvider struct {
	logger   *slog.Logger
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	members []*member
}

// NewFailoverProvider builds a chain over providers, in priority order.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	fp := &FailoverProvider{
		logger:   logger,
		cooldown: defaultCooldown,
		now:      time.Now,
	}
	for _, p := range providers {
		fp.members = append(fp.members, &member{Provider: p})
	}
	return fp
}

// SetCooldown changes how long a failed member is skipped. Zero disables it.
func (fp *FailoverProvider) SetCooldown(d time.Duration) {
	fp.mu.Lock()
	fp.cooldown = d
	fp.mu.Unlock()
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.members))
	for i, m := range fp.members {
		names[i] = m.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]struct{})
	for _, m := range fp.members {
		for _, model := range m.Models() {
			if _, dup := seen[model]; dup {
				continue
			}
			seen[model] = struct{}{}
			all = append(all, model)
		}
	}
	return all
}

// Healthy reports nil as soon as one member is healthy.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []string
	for _, m := range fp.members {
		err := m.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, m.Name()+": "+err.Error())
	}
	return fmt.Errorf("no healthy provider in failover chain: %s", strings.Join(errs, "; "))
}

// order lists rested members first, then benched ones, keeping priority
// within each group.
func (fp *FailoverProvider) order() []*member {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	rested := make([]*member, 0, len(fp.members))
	var benched []*member
	for _, m := range fp.members {
		if now.Before(m.coolUntil) {
			benched = append(benched, m)
			continue
		}
		rested = append(rested, m)
	}
	return append(rested, benched...)
}

func (fp *FailoverProvider) mark(m *member, failed bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if failed {
		m.coolUntil = fp.now().Add(fp.cooldown)
		return
	}
	m.coolUntil = time.Time{}
}

// Chat returns the first successful member response. A cancelled context
// stops the chain without benching the member that saw it.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.members) == 0 {
		return nil, fmt.Errorf("failover chain is empty")
	}
	req.Model = ""

	var lastErr error
	for i, m := range fp.order() {
		resp, err := m.Chat(ctx, req)
		if err == nil {
			fp.mark(m, false)
			if i > 0 {
				fp.logger.Info("failover: answered by fallback", "provider", m.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fp.mark(m, true)
		fp.logger.Warn("failover: provider failed", "provider", m.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
