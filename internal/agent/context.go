package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"relaybot/internal/directory"
	"relaybot/internal/domain"
)

const (
	defaultHistoryLimit = 50
	nameLookupLimit     = 8
	hintTimeLayout      = "Monday, January 2, 2006 at 3:04 PM MST"
)

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Hints describe where the bot is and what it looks like right now.
type Hints struct {
	Time      string
	Workspace string
	Channel   string
	Joined    string
	Status    string
	Activity  string
	BotName   string
}

// TurnContext is everything the oracle sees about the conversation.
type TurnContext struct {
	History []domain.Message
	Current domain.Message
	Hints   Hints
}

// ContextConfig configures a ContextBuilder.
type ContextConfig struct {
	Workspace    domain.Workspace
	Directory    *directory.Directory
	BotUserID    string
	HistoryLimit int
	Location     *time.Location
	Clock        func() time.Time
	Logger       *slog.Logger
}

// ContextBuilder turns a trigger into oracle messages and prompt hints.
type ContextBuilder struct {
	ws        domain.Workspace
	dir       *directory.Directory
	botUserID string
	limit     int
	loc       *time.Location
	clock     func() time.Time
	logger    *slog.Logger
}

func NewContextBuilder(cfg ContextConfig) *ContextBuilder {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &ContextBuilder{
		ws:        cfg.Workspace,
		dir:       cfg.Directory,
		botUserID: cfg.BotUserID,
		limit:     cfg.HistoryLimit,
		loc:       cfg.Location,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Build gathers history, hints and the current message concurrently. Each
// part has a fallback, so only a missing channel or timestamp is an error.
func (b *ContextBuilder) Build(ctx context.Context, turn *domain.Turn) (*TurnContext, error) {
	m := turn.Message
	if m.Channel == "" || m.TS == "" {
		return nil, errors.New("message missing channel or timestamp")
	}

	tc := &TurnContext{
		Hints: Hints{
			Time:    b.clock().In(b.loc).Format(hintTimeLayout),
			BotName: turn.Trigger.BotName,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tc.History = b.transcript(gctx, domain.HistoryQuery{
			Channel:  m.Channel,
			ThreadTS: m.ThreadTS,
			Latest:   m.TS,
			Limit:    b.limit,
		})
		return nil
	})
	g.Go(func() error {
		tc.Hints.Channel = b.channelName(gctx, m)
		return nil
	})
	g.Go(func() error {
		tc.Hints.Workspace = b.workspaceName(gctx)
		return nil
	})
	g.Go(func() error {
		tc.Hints.Joined, tc.Hints.Status, tc.Hints.Activity = b.botDetails(gctx)
		if tc.Hints.BotName == "" {
			tc.Hints.BotName = b.dir.Name(gctx, b.botUserID)
		}
		return nil
	})
	g.Go(func() error {
		tc.Current = domain.Message{
			Role:    "user",
			Content: fmt.Sprintf("You are replying to the following message from %s (%s): %s", turn.AuthorName, m.User, m.Text),
			Images:  b.images(gctx, m.Files),
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tc, nil
}

// ThreadTranscript returns up to limit messages of a thread in oracle form.
func (b *ContextBuilder) ThreadTranscript(ctx context.Context, channel, threadTS string, limit int) ([]domain.Message, error) {
	raw, err := b.ws.History(ctx, domain.HistoryQuery{Channel: channel, ThreadTS: threadTS, Limit: limit})
	if err != nil {
		return nil, err
	}
	return b.convert(ctx, raw, ""), nil
}

// transcript fetches history and converts it, returning nothing on failure.
func (b *ContextBuilder) transcript(ctx context.Context, q domain.HistoryQuery) []domain.Message {
	raw, err := b.ws.History(ctx, q)
	if err != nil {
		b.logger.Error("failed to fetch conversation history", "channel", q.Channel, "thread", q.ThreadTS, "err", err)
		return nil
	}
	return b.convert(ctx, raw, q.Latest)
}

func (b *ContextBuilder) convert(ctx context.Context, raw []domain.HistoryMessage, latest string) []domain.Message {
	latestTS := tsFloat(latest)
	kept := make([]domain.HistoryMessage, 0, len(raw))
	for _, h := range raw {
		if latest != "" && (h.TS == "" || tsFloat(h.TS) >= latestTS) {
			continue
		}
		if h.SubType != "" && h.SubType != "file_share" {
			continue
		}
		kept = append(kept, h)
	}
	sort.SliceStable(kept, func(i, j int) bool { return tsFloat(kept[i].TS) < tsFloat(kept[j].TS) })

	names := b.names(ctx, kept)
	mention := ""
	if b.botUserID != "" {
		mention = directory.MentionOf(b.botUserID)
	}

	out := make([]domain.Message, len(kept))
	var wg sync.WaitGroup
	for i, h := range kept {
		text := h.Text
		if mention != "" {
			if cleaned := strings.TrimSpace(strings.ReplaceAll(text, mention, "")); cleaned != "" {
				text = cleaned
			}
		}

		author, id := h.User, h.User
		if author == "" {
			author, id = h.BotID, h.BotID
			if author == "" {
				author = "unknown"
			}
		} else if n, ok := names[h.User]; ok {
			author = n
		}
		content := fmt.Sprintf("%s (%s): %s", author, id, text)

		if h.User == b.botUserID || h.BotID != "" {
			out[i] = domain.Message{Role: "assistant", Content: content}
			continue
		}
		out[i] = domain.Message{Role: "user", Content: content}
		if len(h.Files) > 0 {
			wg.Add(1)
			go func(i int, files []domain.File) {
				defer wg.Done()
				out[i].Images = b.images(ctx, files)
			}(i, h.Files)
		}
	}
	wg.Wait()
	return out
}

// names resolves every distinct author with bounded concurrency.
func (b *ContextBuilder) names(ctx context.Context, msgs []domain.HistoryMessage) map[string]string {
	var mu sync.Mutex
	names := make(map[string]string)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nameLookupLimit)
	for _, h := range msgs {
		if h.User == "" {
			continue
		}
		mu.Lock()
		_, seen := names[h.User]
		if !seen {
			names[h.User] = h.User
		}
		mu.Unlock()
		if seen {
			continue
		}
		id := h.User
		g.Go(func() error {
			n := b.dir.Name(gctx, id)
			mu.Lock()
			names[id] = n
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return names
}

// images downloads supported attachments and inlines them as data URLs.
// Attachments that cannot be fetched are skipped.
func (b *ContextBuilder) images(ctx context.Context, files []domain.File) []domain.ImagePart {
	var parts []domain.ImagePart
	for _, f := range files {
		if !supportedImageTypes[f.MimeType] {
			continue
		}
		if f.URLPrivate == "" {
			b.logger.Warn("no private URL available for file", "file", f.ID)
			continue
		}
		data, err := b.ws.DownloadFile(ctx, f.URLPrivate)
		if err != nil {
			b.logger.Error("failed to fetch image", "file", f.ID, "err", err)
			continue
		}
		parts = append(parts, domain.ImagePart{
			MimeType: f.MimeType,
			DataURL:  "data:" + f.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		})
	}
	return parts
}

func (b *ContextBuilder) channelName(ctx context.Context, m domain.MessageEvent) string {
	info, err := b.ws.ChannelInfo(ctx, m.Channel)
	if err != nil || info == nil {
		if m.IsDM() {
			return "Direct Message"
		}
		return m.Channel
	}
	switch {
	case info.IsIM:
		return "Direct Message"
	case info.NameNormalized != "":
		return info.NameNormalized
	case info.Name != "":
		return info.Name
	}
	return m.Channel
}

func (b *ContextBuilder) workspaceName(ctx context.Context) string {
	name, err := b.ws.TeamName(ctx)
	if err != nil || name == "" {
		return "Slack Workspace"
	}
	return name
}

// botDetails returns the bot's join date, status and activity.
func (b *ContextBuilder) botDetails(ctx context.Context) (joined, status, activity string) {
	joinedAt := b.clock()
	status, activity = "active", "none"
	if b.botUserID == "" {
		return joinedAt.In(b.loc).Format("January 2, 2006"), status, activity
	}
	p, err := b.dir.Profile(ctx, b.botUserID)
	if err == nil && p != nil {
		if !p.Updated.IsZero() {
			joinedAt = p.Updated
		}
		if s := strings.TrimSpace(p.StatusText); s != "" {
			status, activity = s, s
		} else if e := strings.TrimSpace(p.StatusEmoji); e != "" {
			status = e
		}
	}
	return joinedAt.In(b.loc).Format("January 2, 2006"), status, activity
}

func tsFloat(ts string) float64 {
	f, _ := strconv.ParseFloat(ts, 64)
	return f
}
