// Package tool holds the catalogue of actions the agent may take and the
// registry that validates and executes them.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const DefaultTimeout = 30 * time.Second

// Toolset selects which tools are offered to the oracle.
type Toolset string

const (
	ToolsetMinimal  Toolset = "minimal"
	ToolsetExtended Toolset = "extended"
)

// extendedOnly lists tools that are only offered in the extended toolset.
var extendedOnly = map[string]bool{
	"startDM":       true,
	"diagramRender": true,
}

// InToolset reports whether a tool belongs to the given toolset.
func InToolset(name string, set Toolset) bool {
	if set == ToolsetExtended {
		return true
	}
	return !extendedOnly[name]
}

// Invocation is one validated and executed tool call.
type Invocation struct {
	Name     string
	Input    map[string]any
	Result   domain.ToolResult
	Duration time.Duration
}

type entry struct {
	tool   domain.Tool
	schema *jsonschema.Schema
}

// Registry holds all available tools and executes them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	timeout time.Duration
	logger  *slog.Logger
}

func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		tools:   make(map[string]entry),
		timeout: timeout,
		logger:  logger,
	}
}

// Register compiles the tool's parameter schema and adds it to the catalogue.
// A later registration under the same name replaces the earlier one.
func (r *Registry) Register(t domain.Tool) error {
	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s: encode schema: %w", t.Name(), err)
	}
	schema, err := jsonschema.CompileString("mem://tools/"+t.Name()+".json", string(raw))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = entry{tool: t, schema: schema}
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].tool
}

// IsTerminal reports whether a successful call to the named tool ends a run.
func (r *Registry) IsTerminal(name string) bool {
	t, ok := r.Get(name).(domain.Terminal)
	return ok && t.Terminal()
}

// Execute validates the call arguments and runs the tool under the registry
// timeout. It never returns an error: unknown tools, invalid arguments, tool
// errors and panics all come back as a failed result.
func (r *Registry) Execute(ctx context.Context, turn *domain.Turn, call domain.ToolCall) Invocation {
	start := time.Now()
	inv := Invocation{Name: call.Name, Input: call.Arguments}
	if inv.Input == nil {
		inv.Input = map[string]any{}
	}

	logger := r.logger.With("tool", call.Name)
	if turn != nil {
		logger = logger.With("conversation", turn.Conversation)
	}

	inv.Result = r.execute(ctx, turn, call.Name, inv.Input, logger)
	inv.Duration = time.Since(start)

	metrics.ToolExecutions.Inc()
	metrics.ToolLatency.Observe(inv.Duration.Seconds())
	if !inv.Result.Success {
		metrics.ToolFailures.Inc()
		logger.Warn("tool failed", "error", inv.Result.Error, "duration_ms", inv.Duration.Milliseconds())
	} else {
		logger.Debug("tool executed", "duration_ms", inv.Duration.Milliseconds())
	}
	return inv
}

func (r *Registry) execute(ctx context.Context, turn *domain.Turn, name string, args map[string]any, logger *slog.Logger) (res domain.ToolResult) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.Failed(fmt.Sprintf("unknown tool: %s (available: %s)", name, strings.Join(r.Names(), ", ")))
	}

	if err := validate(e.schema, args); err != nil {
		return domain.Failed("invalid arguments: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panic", "panic", p)
			res = domain.Failed(fmt.Sprintf("tool %s crashed", name))
		}
	}()

	out, err := e.tool.Execute(ctx, turn, args)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return domain.Failed(fmt.Sprintf("tool %s timed out after %s", name, r.timeout))
		}
		return domain.Failed(err.Error())
	}
	return out
}

// validate round-trips the arguments through JSON so the validator sees the
// same value shapes the oracle sent.
func validate(schema *jsonschema.Schema, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%s", flatten(ve))
		}
		return err
	}
	return nil
}

// flatten reduces a validation error tree to its leaf messages.
func flatten(ve *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(leaves, "; ")
}

// Definitions returns tool definitions in OpenAI-compatible format for the
// given toolset, sorted by name.
func (r *Registry) Definitions(set Toolset) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for name, e := range r.tools {
		if !InToolset(name, set) {
			continue
		}
		defs = append(defs, domain.ToolDefinition{
			Name:        name,
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
