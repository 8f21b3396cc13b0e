// Package agent drives the oracle through a bounded sequence of tool calls
// and assembles the context and prompt it sees.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/tool"
)

const (
	MinimalMaxSteps  = 10
	ExtendedMaxSteps = 25

	defaultLLMMaxTokens = 4096
	defaultTemperature  = 1.1
	defaultRateBurst    = 10
	defaultRatePerMin   = 60.0

	noToolCallCorrection = "You must respond by calling one of the available tools. Call reply to answer, or skip to stay silent."
)

// StopReason names the predicate that ended a run.
type StopReason string

const (
	StopStepLimit StopReason = "stepLimit"
	StopTerminal  StopReason = "terminalTool"
)

// Step is one processed tool call.
type Step struct {
	Name     string
	Input    map[string]any
	Result   domain.ToolResult
	Duration time.Duration
}

// Outcome is the record of a finished run.
type Outcome struct {
	RunID string
	Steps []Step
	Stop  StopReason
	Usage domain.Usage
}

// ToolNames lists the executed tools in order.
func (o *Outcome) ToolNames() []string {
	names := make([]string, len(o.Steps))
	for i, s := range o.Steps {
		names[i] = s.Name
	}
	return names
}

// Run is the input of a single agent run.
type Run struct {
	Turn    *domain.Turn
	System  string
	History []domain.Message
	Current domain.Message
}

// stopPredicate inspects the steps taken so far. Predicates are pure and are
// evaluated in order after every step.
type stopPredicate struct {
	reason StopReason
	match  func(steps []Step) bool
}

func stopPredicates(maxSteps int, terminal func(name string) bool) []stopPredicate {
	return []stopPredicate{
		{StopStepLimit, func(steps []Step) bool { return len(steps) >= maxSteps }},
		{StopTerminal, func(steps []Step) bool {
			last := steps[len(steps)-1]
			return last.Result.Success && terminal(last.Name)
		}},
	}
}

func evaluate(preds []stopPredicate, steps []Step) (StopReason, bool) {
	if len(steps) == 0 {
		return "", false
	}
	for _, p := range preds {
		if p.match(steps) {
			return p.reason, true
		}
	}
	return "", false
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider    domain.Provider
	Tools       *tool.Registry
	Toolset     tool.Toolset
	Filter      *ToolFilter
	MaxSteps    int // 0 picks the toolset default
	Model       string
	MaxTokens   int
	Temperature float64
	Throttle    *Throttle
	Logger      *slog.Logger
}

// Loop is the sequential tool-calling state machine.
type Loop struct {
	provider    domain.Provider
	tools       *tool.Registry
	toolset     tool.Toolset
	filter      *ToolFilter
	maxSteps    int
	model       string
	maxTokens   int
	temperature float64
	throttle    *Throttle
	preds       []stopPredicate
	logger      *slog.Logger
}

// DefaultMaxSteps is the step cap for a toolset.
func DefaultMaxSteps(set tool.Toolset) int {
	if set == tool.ToolsetExtended {
		return ExtendedMaxSteps
	}
	return MinimalMaxSteps
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Toolset == "" {
		cfg.Toolset = tool.ToolsetMinimal
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps(cfg.Toolset)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Throttle == nil {
		cfg.Throttle = NewThrottle(defaultRateBurst, defaultRatePerMin)
	}
	if !cfg.Filter.IsEmpty() {
		if unknown := cfg.Filter.Unknown(cfg.Tools.Names()); len(unknown) > 0 {
			cfg.Logger.Warn("tool filter names unregistered tools", "tools", unknown)
		}
	}
	return &Loop{
		provider:    cfg.Provider,
		tools:       cfg.Tools,
		toolset:     cfg.Toolset,
		filter:      cfg.Filter,
		maxSteps:    cfg.MaxSteps,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		throttle:    cfg.Throttle,
		preds:       stopPredicates(cfg.MaxSteps, cfg.Tools.IsTerminal),
		logger:      cfg.Logger,
	}
}

type loopState int

const (
	stateAsk loopState = iota
	stateExecute
	stateDone
)

// Run asks the oracle for tool calls and executes them one at a time until a
// stop predicate matches. An oracle failure aborts the run; the steps taken so
// far are still returned.
func (l *Loop) Run(ctx context.Context, run Run) (*Outcome, error) {
	out := &Outcome{RunID: uuid.NewString()}
	logger := l.logger.With("run_id", out.RunID)
	if run.Turn != nil {
		logger = logger.With("conversation", run.Turn.Conversation)
	}

	logger.Debug("agent run started", "max_steps", l.maxSteps, "toolset", l.toolset, "throttle_tokens", l.throttle.Available())
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()
	defer func() { metrics.RunSteps.Observe(float64(len(out.Steps))) }()

	messages := make([]domain.Message, 0, len(run.History)+4)
	if run.System != "" {
		messages = append(messages, domain.Message{Role: "system", Content: run.System})
	}
	messages = append(messages, run.History...)
	messages = append(messages, run.Current)

	defs := l.filter.FilterDefinitions(l.tools.Definitions(l.toolset))
	var pending []domain.ToolCall
	state := stateAsk

	for state != stateDone {
		switch state {
		case stateAsk:
			resp, err := l.ask(ctx, messages, defs)
			if err != nil {
				return out, err
			}
			out.Usage.PromptTokens += resp.Usage.PromptTokens
			out.Usage.CompletionTokens += resp.Usage.CompletionTokens
			out.Usage.TotalTokens += resp.Usage.TotalTokens

			if !resp.HasToolCalls() && resp.Content != "" {
				if extracted := extractToolCallsFromContent(resp.Content); len(extracted) > 0 {
					resp.ToolCalls = extracted
					resp.Content = ""
					logger.Info("extracted tool calls from content text", "count", len(extracted))
				}
			}

			if !resp.HasToolCalls() {
				logger.Warn("oracle answered without a tool call", "step", len(out.Steps)+1)
				out.Steps = append(out.Steps, Step{Name: "", Input: map[string]any{}, Result: domain.Failed("no tool call")})
				if resp.Content != "" {
					messages = append(messages, domain.Message{Role: "assistant", Content: resp.Content})
				}
				messages = append(messages, domain.Message{Role: "user", Content: noToolCallCorrection})
				if reason, stop := evaluate(l.preds, out.Steps); stop {
					out.Stop = reason
					state = stateDone
				}
				continue
			}

			for i := range resp.ToolCalls {
				if resp.ToolCalls[i].ID == "" {
					resp.ToolCalls[i].ID = "call_" + uuid.NewString()
				}
			}
			messages = append(messages, domain.Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			pending = resp.ToolCalls
			state = stateExecute

		case stateExecute:
			if len(pending) == 0 {
				state = stateAsk
				continue
			}
			call := pending[0]
			pending = pending[1:]

			if logger.Enabled(ctx, slog.LevelDebug) {
				if argsJSON, err := json.Marshal(call.Arguments); err == nil {
					logger.Debug("tool arguments", "tool", call.Name, "args", string(argsJSON))
				}
			}

			inv := l.execute(ctx, run.Turn, call)
			out.Steps = append(out.Steps, Step{
				Name:     inv.Name,
				Input:    inv.Input,
				Result:   inv.Result,
				Duration: inv.Duration,
			})
			logger.Info("step",
				"step", len(out.Steps),
				"tool", inv.Name,
				"success", inv.Result.Success,
				"duration_ms", inv.Duration.Milliseconds(),
			)

			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    inv.Result.String(),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})

			if reason, stop := evaluate(l.preds, out.Steps); stop {
				if len(pending) > 0 {
					logger.Debug("dropping remaining tool calls", "count", len(pending))
				}
				out.Stop = reason
				state = stateDone
			}
		}
	}

	logger.Info("run finished", "stop", out.Stop, "steps", len(out.Steps), "tools", out.ToolNames())
	return out, nil
}

// execute runs one call. Tools outside the toolset or the filter are refused
// without reaching the registry.
func (l *Loop) execute(ctx context.Context, turn *domain.Turn, call domain.ToolCall) tool.Invocation {
	if !tool.InToolset(call.Name, l.toolset) || !l.filter.IsAllowed(call.Name) {
		return tool.Invocation{
			Name:   call.Name,
			Input:  call.Arguments,
			Result: domain.Failed(fmt.Sprintf("tool %q is not available", call.Name)),
		}
	}
	return l.tools.Execute(ctx, turn, call)
}

func (l *Loop) ask(ctx context.Context, messages []domain.Message, defs []domain.ToolDefinition) (*domain.ChatResponse, error) {
	if err := l.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("oracle throttle: %w", err)
	}
	start := time.Now()
	metrics.LLMRequestsTotal.Inc()
	resp, err := l.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Tools:       defs,
		ToolChoice:  domain.ToolChoiceRequired,
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("oracle returned no response")
	}
	return resp, nil
}
