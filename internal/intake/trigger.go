package intake

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Classifier decides whether a message warrants a response. Rules are
// evaluated in order and the first match wins.
type Classifier struct {
	ws        domain.Workspace
	dir       *directory.Directory
	botUserID string
	logger    *slog.Logger

	now     func() time.Time
	lookups singleflight.Group

	mu       sync.Mutex
	botName  string
	failedAt time.Time // last failed profile lookup
}

// botNameRetry is how long a failed profile lookup is remembered.
const botNameRetry = time.Minute

func NewClassifier(ws domain.Workspace, dir *directory.Directory, botUserID string, logger *slog.Logger) *Classifier {
	return &Classifier{ws: ws, dir: dir, botUserID: botUserID, logger: logger, now: time.Now}
}

func (c *Classifier) Classify(ctx context.Context, m domain.MessageEvent) domain.Trigger {
	none := domain.Trigger{Kind: domain.TriggerNone}

	if !m.Processable(c.botUserID) || m.Text == "" {
		return none
	}

	mention := directory.MentionOf(c.botUserID)
	if strings.Contains(m.Text, mention) {
		return domain.Trigger{Kind: domain.TriggerMention, BotName: c.resolveBotName(ctx)}
	}

	if m.IsDM() {
		return domain.Trigger{Kind: domain.TriggerDM, UserID: m.User}
	}

	if m.ThreadTS != "" {
		root, err := c.ws.History(ctx, domain.HistoryQuery{
			Channel:  m.Channel,
			ThreadTS: m.ThreadTS,
			Limit:    1,
		})
		if err != nil {
			c.logger.Warn("thread root lookup failed", "channel", m.Channel, "thread", m.ThreadTS, "err", err)
			return none
		}
		if len(root) > 0 && strings.Contains(root[0].Text, mention) {
			return domain.Trigger{Kind: domain.TriggerThread, UserID: m.User}
		}
	}

	return none
}

// resolveBotName prefers the display name, then the username, then the raw id.
// The lookup runs outside the lock and concurrent callers share it. A
// successful result is cached and primed into the directory; a failure falls
// back to the raw id for botNameRetry.
func (c *Classifier) resolveBotName(ctx context.Context) string {
	c.mu.Lock()
	name, failedAt := c.botName, c.failedAt
	c.mu.Unlock()
	if name != "" {
		return name
	}
	if !failedAt.IsZero() && c.now().Sub(failedAt) < botNameRetry {
		return c.botUserID
	}

	v, _, _ := c.lookups.Do(c.botUserID, func() (any, error) {
		p, err := c.ws.UserInfo(ctx, c.botUserID)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.logger.Debug("bot profile lookup failed", "err", err)
			c.failedAt = c.now()
			return c.botUserID, nil
		}
		name := p.DisplayName
		if name == "" {
			name = p.Username
		}
		if name == "" {
			name = c.botUserID
		}
		c.botName = name
		c.failedAt = time.Time{}
		c.dir.Prime(c.botUserID, name)
		return name, nil
	})
	return v.(string)
}
