package tool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"relaybot/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name     string
	params   map[string]any
	result   domain.ToolResult
	err      error
	block    bool
	panics   bool
	terminal bool
	calls    int
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub: " + s.name }
func (s *stubTool) Terminal() bool      { return s.terminal }
func (s *stubTool) Parameters() map[string]any {
	if s.params != nil {
		return s.params
	}
	return ToolParameters(map[string]Param{"query": {Type: "string"}}, []string{"query"})
}

func (s *stubTool) Execute(ctx context.Context, _ *domain.Turn, _ map[string]any) (domain.ToolResult, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	if s.block {
		<-ctx.Done()
		return domain.ToolResult{}, ctx.Err()
	}
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func call(name string, args map[string]any) domain.ToolCall {
	return domain.ToolCall{ID: "c1", Name: name, Arguments: args}
}

func mustRegister(t *testing.T, reg *Registry, tools ...domain.Tool) {
	t.Helper()
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("register %s: %v", tl.Name(), err)
		}
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, &stubTool{name: "test_tool"})

	if got := reg.Get("test_tool"); got == nil || got.Name() != "test_tool" {
		t.Fatalf("expected registered tool, got %v", got)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_RejectsInvalidSchema(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	bad := &stubTool{name: "bad", params: map[string]any{"type": 42}}
	if err := reg.Register(bad); err == nil {
		t.Fatal("expected schema compile error")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, &stubTool{name: "echo", result: domain.Text("hello")})

	inv := reg.Execute(context.Background(), &domain.Turn{}, call("echo", map[string]any{"query": "x"}))
	if !inv.Result.Success || inv.Result.Content != "hello" {
		t.Fatalf("unexpected result %+v", inv.Result)
	}
	if inv.Name != "echo" || inv.Input["query"] != "x" {
		t.Fatalf("invocation not recorded: %+v", inv)
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	inv := reg.Execute(context.Background(), &domain.Turn{}, call("missing", nil))
	if inv.Result.Success || !strings.Contains(inv.Result.Error, "unknown tool") {
		t.Fatalf("expected unknown tool failure, got %+v", inv.Result)
	}
}

func TestRegistry_ValidationFailureSkipsExecution(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	st := &stubTool{name: "search", result: domain.Text("ok")}
	mustRegister(t, reg, st)

	inv := reg.Execute(context.Background(), &domain.Turn{}, call("search", map[string]any{}))
	if inv.Result.Success || !strings.HasPrefix(inv.Result.Error, "invalid arguments") {
		t.Fatalf("expected validation failure, got %+v", inv.Result)
	}
	if st.calls != 0 {
		t.Fatal("tool must not run when validation fails")
	}

	inv = reg.Execute(context.Background(), &domain.Turn{}, call("search", map[string]any{"query": 5.0}))
	if inv.Result.Success {
		t.Fatal("wrong argument type should fail validation")
	}
}

func TestRegistry_ReplySchema(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, NewReplyTool(&fakeWorkspace{}, testLogger()))
	turn := &domain.Turn{Message: domain.MessageEvent{Channel: "C1", TS: "1.0"}}

	cases := map[string]map[string]any{
		"no content":    {},
		"empty content": {"content": []any{}},
		"five lines":    {"content": []any{"a", "b", "c", "d", "e"}},
		"bad type":      {"content": []any{"a"}, "type": "shout"},
		"neg offset":    {"content": []any{"a"}, "offset": -1},
		"frac offset":   {"content": []any{"a"}, "offset": 1.5},
	}
	for name, args := range cases {
		if inv := reg.Execute(context.Background(), turn, call("reply", args)); inv.Result.Success {
			t.Errorf("%s: expected validation failure", name)
		}
	}

	inv := reg.Execute(context.Background(), turn, call("reply", map[string]any{"content": []string{"hi"}, "offset": 0.0}))
	if !inv.Result.Success {
		t.Fatalf("valid reply rejected: %+v", inv.Result)
	}
}

func TestRegistry_ErrorBecomesFailedResult(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, &stubTool{name: "broken", err: errors.New("upstream 500")})

	inv := reg.Execute(context.Background(), &domain.Turn{}, call("broken", map[string]any{"query": "x"}))
	if inv.Result.Success || inv.Result.Error != "upstream 500" {
		t.Fatalf("expected converted error, got %+v", inv.Result)
	}
}

func TestRegistry_PanicBecomesFailedResult(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, &stubTool{name: "crash", panics: true})

	inv := reg.Execute(context.Background(), &domain.Turn{}, call("crash", map[string]any{"query": "x"}))
	if inv.Result.Success {
		t.Fatal("panic should produce failed result")
	}
}

func TestRegistry_Timeout(t *testing.T) {
	reg := NewRegistry(20*time.Millisecond, testLogger())
	mustRegister(t, reg, &stubTool{name: "slow", block: true})

	start := time.Now()
	inv := reg.Execute(context.Background(), &domain.Turn{}, call("slow", map[string]any{"query": "x"}))
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
	if inv.Result.Success || !strings.Contains(inv.Result.Error, "timed out") {
		t.Fatalf("expected timeout failure, got %+v", inv.Result)
	}
}

func TestRegistry_DefinitionsByToolset(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, &stubTool{name: "reply"}, &stubTool{name: "startDM"}, &stubTool{name: "diagramRender"}, &stubTool{name: "react"})

	minimal := reg.Definitions(ToolsetMinimal)
	if len(minimal) != 2 || minimal[0].Name != "react" || minimal[1].Name != "reply" {
		t.Fatalf("unexpected minimal set: %+v", minimal)
	}
	if got := len(reg.Definitions(ToolsetExtended)); got != 4 {
		t.Fatalf("expected 4 extended definitions, got %d", got)
	}
}

func TestRegistry_IsTerminal(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	mustRegister(t, reg, &stubTool{name: "end", terminal: true}, &stubTool{name: "go"})
	if !reg.IsTerminal("end") || reg.IsTerminal("go") || reg.IsTerminal("nope") {
		t.Fatal("terminal flags wrong")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	ws := &fakeWorkspace{}
	err := RegisterBuiltins(reg, Deps{
		Workspace: ws,
		Directory: newTestDirectory(ws),
		Renderer:  &fakeRenderer{img: []byte("png")},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"diagramRender", "getUserInfo", "leaveChannel", "react", "reply", "scheduleMessage",
		"searchWeb", "searchWorkspace", "skip", "startDM", "summariseThread",
	}
	got := reg.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("builtins = %v", got)
	}
	for _, name := range []string{"reply", "skip", "leaveChannel"} {
		if !reg.IsTerminal(name) {
			t.Errorf("%s should be terminal", name)
		}
	}
	if len(reg.Definitions(ToolsetMinimal)) != 9 {
		t.Fatalf("minimal toolset should have 9 tools")
	}
}

// --- args ---

func TestArgsString(t *testing.T) {
	args := map[string]any{"key": "value", "num": 42.0}
	if got := ArgsString(args, "key"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
	if got := ArgsString(args, "missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := ArgsString(nil, "key"); got != "" {
		t.Fatalf("expected empty for nil args, got %q", got)
	}
	if got := ArgsString(args, "num"); got != "42" {
		t.Fatalf("expected encoded number, got %q", got)
	}
}

func TestArgsInt(t *testing.T) {
	args := map[string]any{"f": 3.0, "s": "7", "bad": "x"}
	if ArgsInt(args, "f", 0) != 3 || ArgsInt(args, "s", 0) != 7 || ArgsInt(args, "bad", 9) != 9 || ArgsInt(args, "none", 1) != 1 {
		t.Fatal("ArgsInt conversions wrong")
	}
}

func TestArgsStrings(t *testing.T) {
	got := ArgsStrings(map[string]any{"a": []any{"x", 1.0, "y"}}, "a")
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected %v", got)
	}
}
