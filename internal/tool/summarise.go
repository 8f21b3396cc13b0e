package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

const summariseLimit = 1000

// ThreadReader turns a thread into oracle-ready messages.
type ThreadReader interface {
	ThreadTranscript(ctx context.Context, channel, threadTS string, limit int) ([]domain.Message, error)
}

// SummariserConfig selects the model used for thread summaries.
type SummariserConfig struct {
	Provider    domain.Provider
	Model       string
	Temperature float64
	MaxTokens   int
}

// SummariseThreadTool summarises the thread the trigger was posted in.
type SummariseThreadTool struct {
	reader ThreadReader
	cfg    SummariserConfig
	logger *slog.Logger
}

func NewSummariseThreadTool(reader ThreadReader, cfg SummariserConfig, logger *slog.Logger) *SummariseThreadTool {
	return &SummariseThreadTool{reader: reader, cfg: cfg, logger: logger}
}

func (t *SummariseThreadTool) Name() string        { return "summariseThread" }
func (t *SummariseThreadTool) Description() string { return "Returns a summary of the current Slack thread." }

func (t *SummariseThreadTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"instructions": {Type: "string", Description: "Optional instructions to provide to the summariser agent"},
		},
		nil,
	)
}

func summarisePrompt(instructions string) string {
	var b strings.Builder
	b.WriteString("You summarise Slack threads. Read the conversation and write a short summary that covers ")
	b.WriteString("the main topic, the decisions made, open questions and any action items with their owners. ")
	b.WriteString("Refer to people by name. Use Slack mrkdwn and keep it under 200 words.")
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		b.WriteString("\n\nAdditional instructions from the requester:\n")
		b.WriteString(instructions)
	}
	return b.String()
}

func (t *SummariseThreadTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	m := turn.Message
	if m.Channel == "" {
		return domain.ToolResult{}, errors.New("could not determine channel ID")
	}
	if m.ThreadTS == "" {
		return domain.Failed("This message is not in a thread. Thread summarisation only works within threads."), nil
	}
	if t.cfg.Provider == nil {
		return domain.ToolResult{}, errors.New("no summariser model configured")
	}

	msgs, err := t.reader.ThreadTranscript(ctx, m.Channel, m.ThreadTS, summariseLimit)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("read thread: %w", err)
	}
	if len(msgs) == 0 {
		return domain.Failed("No messages found in the thread"), nil
	}

	req := domain.ChatRequest{
		Messages:    append([]domain.Message{{Role: "system", Content: summarisePrompt(ArgsString(args, "instructions"))}}, msgs...),
		Model:       t.cfg.Model,
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	}
	resp, err := t.cfg.Provider.Chat(ctx, req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("summarise: %w", err)
	}

	t.logger.Debug("thread summarised", "conversation", turn.Conversation, "messages", len(msgs))
	return domain.OK(map[string]any{
		"summary":      resp.Content,
		"messageCount": len(msgs),
	}), nil
}
