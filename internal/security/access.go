package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"relaybot/internal/domain"
)

const defaultMemberPageSize = 200

// MembershipSource lists channel members page by page.
type MembershipSource interface {
	ChannelMembers(ctx context.Context, channelID, cursor string, limit int) ([]string, string, error)
}

// AccessConfig configures the opt-in access gate.
type AccessConfig struct {
	Channel  string // opt-in channel id; empty disables gating
	Source   MembershipSource
	PageSize int
	Logger   *slog.Logger
}

// AccessGate allows only members of one opt-in channel to talk to the bot.
// The member set is loaded once by Init and kept current by Apply.
type AccessGate struct {
	channel  string
	source   MembershipSource
	pageSize int
	logger   *slog.Logger

	members sync.Map // userID -> struct{}
	size    atomic.Int64
}

func NewAccessGate(cfg AccessConfig) *AccessGate {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultMemberPageSize
	}
	return &AccessGate{
		channel:  cfg.Channel,
		source:   cfg.Source,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
	}
}

// Enabled reports whether an opt-in channel is configured.
func (g *AccessGate) Enabled() bool {
	return g.channel != ""
}

// Channel returns the opt-in channel id.
func (g *AccessGate) Channel() string {
	return g.channel
}

// Init performs the full paginated membership scan. Callers treat an error
// as fatal: without the scan the gate would reject everyone.
func (g *AccessGate) Init(ctx context.Context) error {
	if !g.Enabled() {
		g.logger.Info("access gate disabled, all users allowed")
		return nil
	}

	cursor := ""
	pages := 0
	for {
		ids, next, err := g.source.ChannelMembers(ctx, g.channel, cursor, g.pageSize)
		if err != nil {
			return fmt.Errorf("list members of %s: %w", g.channel, err)
		}
		for _, id := range ids {
			g.add(id)
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	g.logger.Info("access gate loaded", "channel", g.channel, "members", g.Size(), "pages", pages)
	return nil
}

// Apply folds a membership event into the allow-list. Events for other
// channels are ignored. It reports whether the event changed the set.
func (g *AccessGate) Apply(ev domain.InboundEvent) bool {
	if !g.Enabled() {
		return false
	}
	switch e := ev.(type) {
	case domain.MemberJoinedEvent:
		if e.Channel != g.channel {
			return false
		}
		if g.add(e.User) {
			g.logger.Info("user opted in", "user", e.User)
			return true
		}
	case domain.MemberLeftEvent:
		if e.Channel != g.channel {
			return false
		}
		if _, loaded := g.members.LoadAndDelete(e.User); loaded {
			g.size.Add(-1)
			g.logger.Info("user opted out", "user", e.User)
			return true
		}
	}
	return false
}

// IsAllowed reports whether the user may interact with the bot.
func (g *AccessGate) IsAllowed(userID string) bool {
	if !g.Enabled() {
		return true
	}
	_, ok := g.members.Load(userID)
	return ok
}

// Size returns the number of allowed users.
func (g *AccessGate) Size() int {
	return int(g.size.Load())
}

// Notice is the message shown to a user who talked to the bot without opting in.
func (g *AccessGate) Notice(userID string) string {
	return fmt.Sprintf("Hey there <@%s>! For security and privacy reasons, you must be in <#%s> to talk to me. When you're ready, ping me again and we can talk!", userID, g.channel)
}

func (g *AccessGate) add(userID string) bool {
	if userID == "" {
		return false
	}
	if _, loaded := g.members.LoadOrStore(userID, struct{}{}); loaded {
		return false
	}
	g.size.Add(1)
	return true
}
