package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

const (
	defaultMaxHistoryTokens = 12000
	// Keep at least this many recent messages verbatim when compacting.
	minRecentMessages = 8
	// 1 token ~ 0.75 words for English.
	wordsPerToken = 0.75
	// Rough per-image cost charged against the budget.
	imageTokens = 800
)

// Compactor keeps conversation history inside a token budget. When the budget
// is exceeded the oldest messages are summarised into a single user message;
// if summarising fails they are dropped instead.
type Compactor struct {
	provider   domain.Provider
	model      string
	maxTokens  int
	keepRecent int
	logger     *slog.Logger
}

// CompactorConfig configures the history compactor.
type CompactorConfig struct {
	Provider  domain.Provider // nil disables summarising; old messages are dropped
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

func NewCompactor(cfg CompactorConfig) *Compactor {
	max := cfg.MaxTokens
	if max <= 0 {
		max = defaultMaxHistoryTokens
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &Compactor{
		provider:   cfg.Provider,
		model:      cfg.Model,
		maxTokens:  max,
		keepRecent: minRecentMessages,
		logger:     lgr,
	}
}

// EstimateTokens returns a rough token count for a message slice.
func EstimateTokens(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateStringTokens(m.Content)
		total += len(m.Images) * imageTokens
		for _, tc := range m.ToolCalls {
			for _, v := range tc.Arguments {
				total += estimateStringTokens(fmt.Sprintf("%v", v))
			}
		}
	}
	return total
}

func estimateStringTokens(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	tokens := int(float64(words) / wordsPerToken)
	if tokens == 0 && words > 0 {
		tokens = 1
	}
	return tokens
}

// Compact returns history unchanged when it fits the budget. Otherwise the
// messages before the recent tail are replaced by a summary. The tail keeps
// its order and roles.
func (c *Compactor) Compact(ctx context.Context, history []domain.Message) []domain.Message {
	if len(history) <= c.keepRecent {
		return history
	}
	total := EstimateTokens(history)
	if total <= c.maxTokens {
		return history
	}

	split := len(history) - c.keepRecent
	old, recent := history[:split], history[split:]

	c.logger.Info("history compaction triggered",
		"total_tokens", total,
		"max_tokens", c.maxTokens,
		"message_count", len(history),
	)

	summary, err := c.summarize(ctx, old)
	if err != nil {
		c.logger.Warn("history summary failed, dropping older messages", "err", err, "dropped", len(old))
		return recent
	}

	compacted := make([]domain.Message, 0, 1+len(recent))
	compacted = append(compacted, domain.Message{
		Role:    "user",
		Content: "[Summary of earlier conversation]\n" + summary,
	})
	compacted = append(compacted, recent...)

	c.logger.Info("history compacted",
		"old_tokens", total,
		"new_tokens", EstimateTokens(compacted),
		"summarized_messages", len(old),
	)
	return compacted
}

func (c *Compactor) summarize(ctx context.Context, messages []domain.Message) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("no summariser configured")
	}

	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
		if len(m.Images) > 0 {
			fmt.Fprintf(&sb, " [%d image(s)]", len(m.Images))
		}
		sb.WriteString("\n")
	}

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{
				Role: "system",
				Content: "Summarize this chat transcript in under 200 words. " +
					"Keep names, user IDs, decisions and open questions.",
			},
			{Role: "user", Content: sb.String()},
		},
		Model:       c.model,
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}
