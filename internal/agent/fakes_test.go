package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/domain"
	"relaybot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// scriptedProvider replays responses in order and records every request.
// Once the script runs out the last response repeats.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	resp := *p.responses[i]
	resp.ToolCalls = append([]domain.ToolCall(nil), resp.ToolCalls...)
	return &resp, nil
}
func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Models() []string              { return []string{"m"} }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func calls(names ...string) *domain.ChatResponse {
	resp := &domain.ChatResponse{FinishReason: "tool_calls"}
	for _, n := range names {
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{Name: n, Arguments: map[string]any{}})
	}
	return resp
}

// recordingTool counts executions and returns a fixed outcome.
type recordingTool struct {
	name     string
	terminal bool
	fail     bool

	mu   sync.Mutex
	runs int
}

func (t *recordingTool) Name() string        { return t.name }
func (t *recordingTool) Description() string { return t.name + " test tool" }
func (t *recordingTool) Terminal() bool      { return t.terminal }
func (t *recordingTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *recordingTool) Execute(context.Context, *domain.Turn, map[string]any) (domain.ToolResult, error) {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()
	if t.fail {
		return domain.ToolResult{}, errors.New("boom")
	}
	return domain.Text(t.name + " done"), nil
}

func (t *recordingTool) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func newTestRegistry(t *testing.T, tools ...domain.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(time.Second, testLogger())
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("register %s: %v", tl.Name(), err)
		}
	}
	return reg
}

// fakeWorkspace serves canned profiles, channels and history.
type fakeWorkspace struct {
	domain.Workspace

	mu        sync.Mutex
	profiles  map[string]*domain.UserProfile
	channels  map[string]*domain.ChannelInfo
	team      string
	history   []domain.HistoryMessage
	histErr   error
	files     map[string][]byte
	queries   []domain.HistoryQuery
	downloads []string
}

func (f *fakeWorkspace) UserInfo(_ context.Context, id string) (*domain.UserProfile, error) {
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, errors.New("user_not_found")
}

func (f *fakeWorkspace) ChannelInfo(_ context.Context, id string) (*domain.ChannelInfo, error) {
	if c, ok := f.channels[id]; ok {
		return c, nil
	}
	return nil, errors.New("channel_not_found")
}

func (f *fakeWorkspace) TeamName(context.Context) (string, error) {
	if f.team == "" {
		return "", errors.New("team_not_found")
	}
	return f.team, nil
}

func (f *fakeWorkspace) History(_ context.Context, q domain.HistoryQuery) ([]domain.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.history, nil
}

func (f *fakeWorkspace) DownloadFile(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, url)
	if b, ok := f.files[url]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

func newTestContextBuilder(ws *fakeWorkspace, now time.Time) *ContextBuilder {
	return NewContextBuilder(ContextConfig{
		Workspace: ws,
		Directory: directory.New(ws, testLogger()),
		BotUserID: "UBOT",
		Clock:     func() time.Time { return now },
		Logger:    testLogger(),
	})
}
