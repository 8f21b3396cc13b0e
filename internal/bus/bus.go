// Package bus carries decoded workspace events from the transport to the
// pipeline workers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based event bus for in-process delivery.
type InMemoryBus struct {
	inbound chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.EventBus = (*InMemoryBus)(nil)

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundEvent, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to publishTimeout if the bus is full, then drops the event.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}
	metrics.EventsReceived.Inc()

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting...", "event", describe(ev))
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "event", describe(ev))
		case <-timer.C:
			metrics.EventsDropped.Inc()
			b.logger.Error("event dropped: bus full", "event", describe(ev), "waited", b.timeout)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// Len reports the number of queued events.
func (b *InMemoryBus) Len() int {
	return len(b.inbound)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

func describe(ev domain.InboundEvent) string {
	switch e := ev.(type) {
	case domain.MessageEvent:
		return "message:" + e.ConversationKey()
	case domain.MemberJoinedEvent:
		return "member_joined:" + e.Channel
	case domain.MemberLeftEvent:
		return "member_left:" + e.Channel
	}
	return "unknown"
}
