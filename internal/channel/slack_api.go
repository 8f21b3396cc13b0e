package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"relaybot/internal/domain"

	"github.com/slack-go/slack"
)

const (
	slackMaxMsgLen   = 4000
	maxDownloadBytes = 20 << 20
)

// SlackWorkspace implements domain.Workspace over the Slack Web API.
type SlackWorkspace struct {
	client   *slack.Client
	botToken string
	apiURL   string
	http     *http.Client
	logger   *slog.Logger
}

var _ domain.Workspace = (*SlackWorkspace)(nil)

// SlackConfig configures the Slack Web API client.
type SlackConfig struct {
	BotToken   string
	AppToken   string
	APIURL     string       // optional; defaults to slack.APIURL
	HTTPClient *http.Client // optional
	Logger     *slog.Logger
}

// Identity is the bot's own account as reported by auth.test.
type Identity struct {
	UserID string
	User   string
	TeamID string
	Team   string
}

func NewSlackWorkspace(cfg SlackConfig) *SlackWorkspace {
	if cfg.APIURL == "" {
		cfg.APIURL = slack.APIURL
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	opts := []slack.Option{
		slack.OptionAPIURL(cfg.APIURL),
		slack.OptionHTTPClient(cfg.HTTPClient),
	}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	return &SlackWorkspace{
		client:   slack.New(cfg.BotToken, opts...),
		botToken: cfg.BotToken,
		apiURL:   cfg.APIURL,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

// Client exposes the underlying Web API client for Socket Mode.
func (w *SlackWorkspace) Client() *slack.Client { return w.client }

// AuthTest resolves the bot's own identity. Failure is fatal at startup.
func (w *SlackWorkspace) AuthTest(ctx context.Context) (*Identity, error) {
	resp, err := w.client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	return &Identity{UserID: resp.UserID, User: resp.User, TeamID: resp.TeamID, Team: resp.Team}, nil
}

func (w *SlackWorkspace) UserInfo(ctx context.Context, userID string) (*domain.UserProfile, error) {
	u, err := w.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info %s: %w", userID, err)
	}
	return &domain.UserProfile{
		ID:          u.ID,
		TeamID:      u.TeamID,
		Username:    u.Name,
		DisplayName: u.Profile.DisplayName,
		RealName:    u.Profile.RealName,
		StatusText:  u.Profile.StatusText,
		StatusEmoji: u.Profile.StatusEmoji,
		Title:       u.Profile.Title,
		TZ:          u.TZ,
		IsBot:       u.IsBot,
		Updated:     u.Updated.Time(),
	}, nil
}

func (w *SlackWorkspace) ChannelInfo(ctx context.Context, channelID string) (*domain.ChannelInfo, error) {
	ch, err := w.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return nil, fmt.Errorf("conversations.info %s: %w", channelID, err)
	}
	return &domain.ChannelInfo{
		ID:             ch.ID,
		Name:           ch.Name,
		NameNormalized: ch.NameNormalized,
		IsIM:           ch.IsIM,
	}, nil
}

func (w *SlackWorkspace) TeamName(ctx context.Context) (string, error) {
	team, err := w.client.GetTeamInfoContext(ctx)
	if err != nil {
		return "", fmt.Errorf("team.info: %w", err)
	}
	return team.Name, nil
}

func (w *SlackWorkspace) History(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryMessage, error) {
	var msgs []slack.Message
	if q.ThreadTS != "" {
		replies, _, _, err := w.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: q.Channel,
			Timestamp: q.ThreadTS,
			Latest:    q.Latest,
			Inclusive: q.Inclusive,
			Limit:     q.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("conversations.replies %s/%s: %w", q.Channel, q.ThreadTS, err)
		}
		msgs = replies
	} else {
		resp, err := w.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: q.Channel,
			Latest:    q.Latest,
			Inclusive: q.Inclusive,
			Limit:     q.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("conversations.history %s: %w", q.Channel, err)
		}
		msgs = resp.Messages
	}

	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.HistoryMessage{
			TS:       m.Timestamp,
			ThreadTS: m.ThreadTimestamp,
			User:     m.User,
			BotID:    m.BotID,
			SubType:  m.SubType,
			Text:     m.Text,
			Files:    convertFiles(m.Files),
		})
	}
	return out, nil
}

func (w *SlackWorkspace) ChannelMembers(ctx context.Context, channelID, cursor string, limit int) ([]string, string, error) {
	ids, next, err := w.client.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
		ChannelID: channelID,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return nil, "", fmt.Errorf("conversations.members %s: %w", channelID, err)
	}
	return ids, next, nil
}

// PostMessage sends text, split into chunks Slack accepts. The returned ts is
// that of the first chunk.
func (w *SlackWorkspace) PostMessage(ctx context.Context, msg domain.OutgoingMessage) (string, error) {
	var first string
	for _, chunk := range splitSlackMessage(msg.Text, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if msg.ThreadTS != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
		}
		_, ts, err := w.client.PostMessageContext(ctx, msg.Channel, opts...)
		if err != nil {
			return first, fmt.Errorf("chat.postMessage %s: %w", msg.Channel, err)
		}
		if first == "" {
			first = ts
		}
	}
	return first, nil
}

func (w *SlackWorkspace) ScheduleMessage(ctx context.Context, msg domain.OutgoingMessage, at time.Time) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
	}
	postAt := strconv.FormatInt(at.Unix(), 10)
	_, id, err := w.client.ScheduleMessageContext(ctx, msg.Channel, postAt, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.scheduleMessage %s: %w", msg.Channel, err)
	}
	return id, nil
}

func (w *SlackWorkspace) AddReaction(ctx context.Context, channelID, ts, name string) error {
	name = strings.Trim(name, ":")
	if err := w.client.AddReactionContext(ctx, name, slack.NewRefToMessage(channelID, ts)); err != nil {
		return fmt.Errorf("reactions.add %s: %w", name, err)
	}
	return nil
}

func (w *SlackWorkspace) LeaveChannel(ctx context.Context, channelID string) error {
	if _, err := w.client.LeaveConversationContext(ctx, channelID); err != nil {
		return fmt.Errorf("conversations.leave %s: %w", channelID, err)
	}
	return nil
}

func (w *SlackWorkspace) OpenDM(ctx context.Context, userID string) (string, error) {
	ch, _, _, err := w.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return "", fmt.Errorf("conversations.open %s: %w", userID, err)
	}
	return ch.ID, nil
}

// UploadFile runs the external upload flow: reserve an upload URL, send the
// bytes, then complete the upload into the channel or thread.
func (w *SlackWorkspace) UploadFile(ctx context.Context, f domain.FileUpload) error {
	reserved, err := w.client.GetUploadURLExternalContext(ctx, slack.GetUploadURLExternalParameters{
		FileName: f.Filename,
		FileSize: len(f.Content),
	})
	if err != nil {
		return fmt.Errorf("files.getUploadURLExternal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reserved.UploadURL, bytes.NewReader(f.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", f.Filename, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload %s: HTTP %d", f.Filename, resp.StatusCode)
	}

	title := f.Title
	if title == "" {
		title = f.Filename
	}
	_, err = w.client.CompleteUploadExternalContext(ctx, slack.CompleteUploadExternalParameters{
		Files:           []slack.FileSummary{{ID: reserved.FileID, Title: title}},
		Channel:         f.Channel,
		ThreadTimestamp: f.ThreadTS,
	})
	if err != nil {
		return fmt.Errorf("files.completeUploadExternal: %w", err)
	}
	return nil
}

type searchContextResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Results *struct {
		Messages []struct {
			ChannelID string `json:"channel_id"`
			UserID    string `json:"author_user_id"`
			TS        string `json:"message_ts"`
			Content   string `json:"content"`
			Permalink string `json:"permalink"`
		} `json:"messages"`
	} `json:"results"`
}

// SearchContext calls assistant.search.context, which slack-go does not wrap.
func (w *SlackWorkspace) SearchContext(ctx context.Context, query, actionToken string) ([]domain.SearchHit, error) {
	body, err := json.Marshal(map[string]string{"query": query, "action_token": actionToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL+"assistant.search.context", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant.search.context: %w", err)
	}
	defer resp.Body.Close()

	var parsed searchContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("assistant.search.context: decode: %w", err)
	}
	if !parsed.OK || parsed.Results == nil || parsed.Results.Messages == nil {
		w.logger.Error("workspace search failed", "error", parsed.Error, "status", resp.StatusCode)
		if parsed.Error == "" {
			parsed.Error = "no results"
		}
		return nil, fmt.Errorf("%s", parsed.Error)
	}

	hits := make([]domain.SearchHit, 0, len(parsed.Results.Messages))
	for _, m := range parsed.Results.Messages {
		hits = append(hits, domain.SearchHit{
			Channel:   m.ChannelID,
			User:      m.UserID,
			TS:        m.TS,
			Text:      m.Content,
			Permalink: m.Permalink,
		})
	}
	return hits, nil
}

// DownloadFile fetches a private file URL with the bot token.
func (w *SlackWorkspace) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, n: maxDownloadBytes}
	if err := w.client.GetFileContext(ctx, url, lw); err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	return buf.Bytes(), nil
}

type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.n {
		return 0, fmt.Errorf("file exceeds %d bytes", maxDownloadBytes)
	}
	l.n -= int64(len(p))
	return l.w.Write(p)
}

func convertFiles(files []slack.File) []domain.File {
	if len(files) == 0 {
		return nil
	}
	out := make([]domain.File, 0, len(files))
	for _, f := range files {
		out = append(out, domain.File{
			ID:         f.ID,
			Name:       f.Name,
			MimeType:   f.Mimetype,
			URLPrivate: f.URLPrivate,
		})
	}
	return out
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			// never split a multibyte rune
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
