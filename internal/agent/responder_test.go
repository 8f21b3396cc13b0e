package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"relaybot/internal/domain"
	"relaybot/internal/tool"
)

func newTestResponder(t *testing.T, ws *fakeWorkspace, p *scriptedProvider, tools ...domain.Tool) *Responder {
	t.Helper()
	pb, err := NewPromptBuilder(&PromptPack{Core: "You are {{.BotName}} in {{.Channel}}."})
	if err != nil {
		t.Fatal(err)
	}
	return NewResponder(ResponderConfig{
		Context:   newTestContextBuilder(ws, fixedNow),
		Prompts:   pb,
		Compactor: NewCompactor(CompactorConfig{Logger: testLogger()}),
		Loop: NewLoop(LoopConfig{
			Provider: p,
			Tools:    newTestRegistry(t, tools...),
			Toolset:  tool.ToolsetMinimal,
			Throttle: NewThrottle(100, 6000),
			Logger:   testLogger(),
		}),
		Logger: testLogger(),
	})
}

func TestResponder_RunsLoopWithPrompt(t *testing.T) {
	ws := contextWorkspace()
	ws.history = []domain.HistoryMessage{{TS: "1.0", User: "U2", Text: "earlier"}}
	p := &scriptedProvider{responses: []*domain.ChatResponse{calls("reply")}}
	reply := &recordingTool{name: "reply", terminal: true}
	r := newTestResponder(t, ws, p, reply)

	err := r.Respond(context.Background(), triggerTurn(domain.MessageEvent{Channel: "C1", User: "U1", TS: "5.0", Text: "<@UBOT> hi"}))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply.count() != 1 {
		t.Fatalf("expected reply to run once, got %d", reply.count())
	}
	msgs := p.requests[0].Messages
	if msgs[0].Role != "system" || !strings.HasPrefix(msgs[0].Content, "You are Relay in general.") {
		t.Fatalf("unexpected system prompt %+v", msgs[0])
	}
	if msgs[1].Content != "grace (U2): earlier" {
		t.Fatalf("history should follow the system prompt, got %+v", msgs[1])
	}
}

func TestResponder_OracleErrorSurfaces(t *testing.T) {
	p := &scriptedProvider{err: errors.New("down")}
	r := newTestResponder(t, contextWorkspace(), p, &recordingTool{name: "reply", terminal: true})

	err := r.Respond(context.Background(), triggerTurn(domain.MessageEvent{Channel: "C1", User: "U1", TS: "5.0"}))
	if err == nil {
		t.Fatal("expected the oracle error to surface")
	}
}
