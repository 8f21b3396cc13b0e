package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"relaybot/internal/directory"
	"relaybot/internal/domain"
)

var errNoMessage = errors.New("missing Slack channel or timestamp")

// ReplyTool posts one to four lines into the conversation.
type ReplyTool struct {
	ws     domain.Workspace
	logger *slog.Logger
}

func NewReplyTool(ws domain.Workspace, logger *slog.Logger) *ReplyTool {
	return &ReplyTool{ws: ws, logger: logger}
}

func (t *ReplyTool) Name() string   { return "reply" }
func (t *ReplyTool) Terminal() bool { return true }
func (t *ReplyTool) Description() string {
	return `Send messages to the Slack channel. Use type "reply" to respond in a thread or "message" for the main channel.`
}

func (t *ReplyTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"offset": {
				Type:        "integer",
				Description: "Number of messages to go back from the triggering message. 0 or omitted replies to the message you were triggered by. In a thread a non-zero offset targets a different thread, so change it only when sure.",
				Min:         bound(0),
			},
			"content": {
				Type:        "array",
				Description: "Lines of text to send, one message per line. Send at most 4 lines.",
				MinItems:    1,
				MaxItems:    4,
				Items:       &Param{Type: "string"},
			},
			"type": {
				Type:        "string",
				Description: "Reply in a thread or post directly in the channel.",
				Enum:        []string{"reply", "message"},
				Default:     "reply",
			},
		},
		[]string{"content"},
	)
}

func (t *ReplyTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	m := turn.Message
	if m.Channel == "" || m.TS == "" {
		return domain.ToolResult{}, errNoMessage
	}
	offset := ArgsInt(args, "offset", 0)
	kind := ArgsString(args, "type")
	if kind == "" {
		kind = "reply"
	}
	lines := ArgsStrings(args, "content")

	var threadTS string
	if kind == "reply" {
		anchor, err := t.anchor(ctx, m, offset)
		if err != nil {
			return domain.ToolResult{}, fmt.Errorf("resolve reply target: %w", err)
		}
		threadTS = anchor.ThreadTS
		if threadTS == "" {
			threadTS = anchor.TS
		}
	}

	for _, line := range lines {
		if _, err := t.ws.PostMessage(ctx, domain.OutgoingMessage{
			Channel:  m.Channel,
			Text:     line,
			ThreadTS: threadTS,
		}); err != nil {
			return domain.ToolResult{}, fmt.Errorf("post message: %w", err)
		}
	}

	t.logger.Info("sent reply",
		"conversation", turn.Conversation,
		"author", turn.AuthorName,
		"offset", offset,
		"type", kind,
		"lines", len(lines),
	)
	return domain.Text("Sent reply to Slack channel"), nil
}

// anchor picks the message the reply attaches to. Offset 0 is the trigger;
// offset N is the Nth message before it, falling back to the trigger when the
// history is too short.
func (t *ReplyTool) anchor(ctx context.Context, m domain.MessageEvent, offset int) (domain.HistoryMessage, error) {
	trigger := domain.HistoryMessage{TS: m.TS, ThreadTS: m.ThreadTS}
	if offset <= 0 {
		return trigger, nil
	}

	history, err := t.ws.History(ctx, domain.HistoryQuery{
		Channel: m.Channel,
		Latest:  m.TS,
		Limit:   offset,
	})
	if err != nil {
		return domain.HistoryMessage{}, err
	}

	msgs := make([]domain.HistoryMessage, 0, len(history))
	for _, h := range history {
		if h.TS != "" {
			msgs = append(msgs, h)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return tsValue(msgs[i].TS) > tsValue(msgs[j].TS) })

	if offset-1 < len(msgs) {
		return msgs[offset-1], nil
	}
	return domain.HistoryMessage{TS: m.TS}, nil
}

func tsValue(ts string) float64 {
	f, _ := strconv.ParseFloat(ts, 64)
	return f
}

// SkipTool ends the run without replying.
type SkipTool struct {
	dir    *directory.Directory
	logger *slog.Logger
}

func NewSkipTool(dir *directory.Directory, logger *slog.Logger) *SkipTool {
	return &SkipTool{dir: dir, logger: logger}
}

func (t *SkipTool) Name() string        { return "skip" }
func (t *SkipTool) Terminal() bool      { return true }
func (t *SkipTool) Description() string { return "End without replying to the provided message." }

func (t *SkipTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"reason": {Type: "string", Description: "Optional short reason for skipping"},
		},
		nil,
	)
}

func (t *SkipTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	if reason := ArgsString(args, "reason"); reason != "" {
		author := turn.AuthorName
		if author == "" && t.dir != nil {
			author = t.dir.Name(ctx, turn.Message.User)
		}
		t.logger.Info("skipping reply",
			"conversation", turn.Conversation,
			"reason", reason,
			"message", author+": "+turn.Message.Text,
		)
	}
	return domain.ToolResult{Success: true}, nil
}

// ReactTool adds emoji reactions to the triggering message.
type ReactTool struct {
	ws     domain.Workspace
	logger *slog.Logger
}

func NewReactTool(ws domain.Workspace, logger *slog.Logger) *ReactTool {
	return &ReactTool{ws: ws, logger: logger}
}

func (t *ReactTool) Name() string { return "react" }
func (t *ReactTool) Description() string {
	return "Add emoji reactions to the current Slack message. Provide emoji names without surrounding colons."
}

func (t *ReactTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"emojis": {
				Type:        "array",
				Description: "Emoji names to react with (unicode or custom names).",
				MinItems:    1,
				Items:       &Param{Type: "string", MinLength: 1},
			},
		},
		[]string{"emojis"},
	)
}

// Execute adds reactions one at a time. Reactions added before a failure stay.
func (t *ReactTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	m := turn.Message
	if m.Channel == "" || m.TS == "" {
		return domain.ToolResult{}, errNoMessage
	}
	emojis := ArgsStrings(args, "emojis")
	for _, e := range emojis {
		name := strings.ReplaceAll(e, ":", "")
		if err := t.ws.AddReaction(ctx, m.Channel, m.TS, name); err != nil {
			return domain.ToolResult{}, fmt.Errorf("add reaction %q: %w", name, err)
		}
	}
	t.logger.Info("added reactions", "conversation", turn.Conversation, "emojis", emojis)
	return domain.Text("Added reactions: " + strings.Join(emojis, ", ")), nil
}

// LeaveChannelTool removes the bot from the current channel.
type LeaveChannelTool struct {
	ws     domain.Workspace
	logger *slog.Logger
}

func NewLeaveChannelTool(ws domain.Workspace, logger *slog.Logger) *LeaveChannelTool {
	return &LeaveChannelTool{ws: ws, logger: logger}
}

func (t *LeaveChannelTool) Name() string   { return "leaveChannel" }
func (t *LeaveChannelTool) Terminal() bool { return true }
func (t *LeaveChannelTool) Description() string {
	return "Leave the channel you are currently in. Use this carefully and only if the user asks. If the user asks you to leave a channel, you MUST run this tool."
}

func (t *LeaveChannelTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"reason": {Type: "string", Description: "Optional short reason for leaving"},
		},
		nil,
	)
}

func (t *LeaveChannelTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	t.logger.Info("leaving channel",
		"conversation", turn.Conversation,
		"channel", turn.Message.Channel,
		"author", turn.Message.User,
		"reason", ArgsString(args, "reason"),
	)
	if err := t.ws.LeaveChannel(ctx, turn.Message.Channel); err != nil {
		return domain.ToolResult{}, fmt.Errorf("leave channel: %w", err)
	}
	return domain.ToolResult{Success: true}, nil
}
