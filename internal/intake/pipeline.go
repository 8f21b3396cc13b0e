// Package intake decides, for every inbound workspace event, whether the bot
// responds: ingress filtering, rate limiting, access gating, trigger
// classification and idle quotas.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"relaybot/internal/directory"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/security"
)

const defaultConcurrency = 8

// Responder runs the agent for a triggered message.
type Responder interface {
	Respond(ctx context.Context, turn *domain.Turn) error
}

// PipelineConfig holds all dependencies of the intake pipeline.
type PipelineConfig struct {
	Bus          domain.EventBus
	Workspace    domain.Workspace
	Directory    *directory.Directory
	Gate         *security.AccessGate
	Limiter      *RateLimiter
	Quota        *QuotaTracker
	Classifier   *Classifier
	Responder    Responder
	BotUserID    string
	NotifyDenied bool // post the opt-in notice to triggering users outside the gate
	Concurrency  int  // max messages processed in parallel (default 8)
	Logger       *slog.Logger
}

// Pipeline is the per-message decision flow.
type Pipeline struct {
	bus          domain.EventBus
	ws           domain.Workspace
	dir          *directory.Directory
	gate         *security.AccessGate
	limiter      *RateLimiter
	quota        *QuotaTracker
	classifier   *Classifier
	responder    Responder
	botUserID    string
	notifyDenied bool
	concurrency  int
	logger       *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Pipeline{
		bus:          cfg.Bus,
		ws:           cfg.Workspace,
		dir:          cfg.Directory,
		gate:         cfg.Gate,
		limiter:      cfg.Limiter,
		quota:        cfg.Quota,
		classifier:   cfg.Classifier,
		responder:    cfg.Responder,
		botUserID:    cfg.BotUserID,
		notifyDenied: cfg.NotifyDenied,
		concurrency:  cfg.Concurrency,
		logger:       cfg.Logger,
	}
}

// Run consumes inbound events and processes them with bounded concurrency.
// It returns once the context is done or the bus closes, after every handler
// already started has finished.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("intake pipeline started", "concurrency", p.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, p.concurrency)
	inbound := p.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("intake pipeline stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				p.logger.Info("inbound channel closed, intake pipeline stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(ev domain.InboundEvent) {
				defer wg.Done()
				defer func() { <-sem }()
				p.Handle(ctx, ev)
			}(ev)
		}
	}
}

// Handle processes one event. Errors and panics stop here; they are logged
// with the conversation and never retried.
func (p *Pipeline) Handle(ctx context.Context, ev domain.InboundEvent) {
	switch e := ev.(type) {
	case domain.MemberJoinedEvent, domain.MemberLeftEvent:
		if p.gate.Apply(e) {
			metrics.AllowedUsers.Set(int64(p.gate.Size()))
		}
	case domain.MessageEvent:
		logger := p.logger.With("conversation", e.ConversationKey())
		defer func() {
			if r := recover(); r != nil {
				metrics.AgentErrors.Inc()
				logger.Error("panic while handling message", "panic", r)
			}
		}()
		if err := p.handleMessage(ctx, e, logger); err != nil {
			metrics.AgentErrors.Inc()
			logger.Error("message handling failed", "err", err)
		}
	}
}

func (p *Pipeline) handleMessage(ctx context.Context, m domain.MessageEvent, logger *slog.Logger) error {
	if !m.Processable(p.botUserID) {
		return nil
	}
	metrics.MessagesTotal.Inc()
	conv := m.ConversationKey()

	admitted, err := p.limiter.Admit(ctx, conv)
	if err != nil {
		return err
	}
	if !admitted {
		metrics.RateLimited.Inc()
		logger.Debug("rate limited", "user", m.User)
		return nil
	}

	allowed := p.gate.IsAllowed(m.User)
	trigger := p.classifier.Classify(ctx, m)

	if !trigger.Fired() {
		if !allowed {
			return nil
		}
		q, err := p.quota.Increment(ctx, conv)
		if err != nil {
			return err
		}
		if !q.HasQuota {
			metrics.QuotaExhausted.Inc()
			logger.Debug("idle quota exhausted", "count", q.Count)
		}
		return nil
	}

	author := p.dir.Name(ctx, m.User)

	if !allowed {
		metrics.AccessDenied.Inc()
		logger.Info("trigger from user outside opt-in channel", "author", author, "user", m.User, "trigger", trigger.Kind)
		if !p.notifyDenied {
			return nil
		}
		if _, err := p.ws.PostMessage(ctx, domain.OutgoingMessage{
			Channel:  m.Channel,
			ThreadTS: m.ReplyThread(),
			Text:     p.gate.Notice(m.User),
		}); err != nil {
			return fmt.Errorf("post opt-in notice: %w", err)
		}
		return nil
	}

	if err := p.quota.Reset(ctx, conv); err != nil {
		logger.Warn("quota reset failed", "err", err)
	}

	metrics.Triggered.Inc()
	logger.Info("responding", "author", author, "user", m.User, "trigger", trigger.Kind)

	turn := &domain.Turn{
		Message:      m,
		Conversation: conv,
		BotUserID:    p.botUserID,
		AuthorName:   author,
		Trigger:      trigger,
	}
	if err := p.responder.Respond(ctx, turn); err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	return nil
}
