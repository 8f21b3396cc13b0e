// Package directory resolves workspace user ids to display names.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"relaybot/internal/domain"
)

// Directory caches user display names. Safe for concurrent use.
type Directory struct {
	ws     domain.Workspace
	names  sync.Map // userID -> string
	logger *slog.Logger
}

func New(ws domain.Workspace, logger *slog.Logger) *Directory {
	return &Directory{ws: ws, logger: logger}
}

// Name returns the cached display name, resolving it on first use.
// Lookup failures fall back to the raw id and are not cached.
func (d *Directory) Name(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	if v, ok := d.names.Load(userID); ok {
		return v.(string)
	}
	p, err := d.Profile(ctx, userID)
	if err != nil {
		d.logger.Debug("user lookup failed", "user", userID, "err", err)
		return userID
	}
	return p.BestName()
}

// Profile fetches a fresh profile and refreshes the cached name.
func (d *Directory) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p, err := d.ws.UserInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info %s: %w", userID, err)
	}
	d.Prime(userID, p.BestName())
	return p, nil
}

// Prime seeds the cache.
func (d *Directory) Prime(userID, name string) {
	if userID == "" || name == "" {
		return
	}
	d.names.Store(userID, name)
}

// NormalizeUserID accepts "U123", "<@U123>" or "<@U123|name>" and returns "U123".
func NormalizeUserID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimPrefix(s, "@")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// MentionOf renders a user mention token.
func MentionOf(userID string) string {
	return "<@" + userID + ">"
}
