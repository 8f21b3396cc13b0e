package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// ResponderConfig wires the pieces of one agent run together.
type ResponderConfig struct {
	Context   *ContextBuilder
	Prompts   *PromptBuilder
	Compactor *Compactor // optional
	Loop      *Loop
	Logger    *slog.Logger
}

// Responder answers a triggered message: it builds the context and prompt,
// then hands them to the loop.
type Responder struct {
	context   *ContextBuilder
	prompts   *PromptBuilder
	compactor *Compactor
	loop      *Loop
	logger    *slog.Logger
}

func NewResponder(cfg ResponderConfig) *Responder {
	return &Responder{
		context:   cfg.Context,
		prompts:   cfg.Prompts,
		compactor: cfg.Compactor,
		loop:      cfg.Loop,
		logger:    cfg.Logger,
	}
}

func (r *Responder) Respond(ctx context.Context, turn *domain.Turn) error {
	tc, err := r.context.Build(ctx, turn)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	system, err := r.prompts.Build(tc.Hints)
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	history := tc.History
	if r.compactor != nil {
		history = r.compactor.Compact(ctx, history)
	}

	out, err := r.loop.Run(ctx, Run{
		Turn:    turn,
		System:  system,
		History: history,
		Current: tc.Current,
	})
	if err != nil {
		return fmt.Errorf("agent run: %w", err)
	}

	r.logger.Info("turn complete",
		"conversation", turn.Conversation,
		"author", turn.AuthorName,
		"trigger", turn.Trigger.Kind,
		"tools", strings.Join(out.ToolNames(), ","),
		"stop", out.Stop,
		"steps", len(out.Steps),
		"tokens", out.Usage.TotalTokens,
		"run_id", out.RunID,
	)
	return nil
}
