package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/directory"
	"relaybot/internal/domain"
	"relaybot/internal/kv"
	"relaybot/internal/security"
)

type pipelineHarness struct {
	p         *Pipeline
	ws        *fakeWorkspace
	responder *recordingResponder
	store     *kv.MemoryStore
	gate      *security.AccessGate
	clock     *fakeClock
}

func newHarness(t *testing.T, optIn string, members ...string) *pipelineHarness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ws := botWorkspace()
	ws.profiles["U1"] = &domain.UserProfile{ID: "U1", DisplayName: "ada"}
	ws.members = members
	store := kv.NewMemoryStore(clock.Now)
	dir := directory.New(ws, testLogger())
	gate := security.NewAccessGate(security.AccessConfig{Channel: optIn, Source: ws, Logger: testLogger()})
	if err := gate.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	responder := &recordingResponder{}
	p := NewPipeline(PipelineConfig{
		Workspace:    ws,
		Directory:    dir,
		Gate:         gate,
		Limiter:      NewRateLimiter(RateLimiterConfig{Store: store, Clock: clock.Now}),
		Quota:        NewQuotaTracker(QuotaTrackerConfig{Store: store}),
		Classifier:   NewClassifier(ws, dir, "UBOT", testLogger()),
		Responder:    responder,
		BotUserID:    "UBOT",
		NotifyDenied: true,
		Logger:       testLogger(),
	})
	return &pipelineHarness{p: p, ws: ws, responder: responder, store: store, gate: gate, clock: clock}
}

func mention(ts string) domain.MessageEvent {
	return domain.MessageEvent{Channel: "C1", ChannelType: "channel", User: "U1", Text: "<@UBOT> hi", TS: ts}
}

func idle(ts string) domain.MessageEvent {
	return domain.MessageEvent{Channel: "C1", ChannelType: "channel", User: "U1", Text: "chatter", TS: ts}
}

func TestPipeline_TriggeredMessageResponds(t *testing.T) {
	h := newHarness(t, "")
	h.p.Handle(context.Background(), mention("1.0"))

	if h.responder.count() != 1 {
		t.Fatalf("expected one response, got %d", h.responder.count())
	}
	turn := h.responder.turns[0]
	if turn.Conversation != "C1" || turn.AuthorName != "ada" || turn.Trigger.Kind != domain.TriggerMention {
		t.Fatalf("unexpected turn: %+v", turn)
	}
}

func TestPipeline_IdleMessagesCountQuota(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.p.Handle(ctx, idle("1.0"))
		h.clock.Advance(10 * time.Second)
	}
	if h.responder.count() != 0 {
		t.Fatal("idle messages must not trigger a response")
	}
	if n, _ := h.store.Get(ctx, "quota:C1"); n != 3 {
		t.Fatalf("expected quota count 3, got %d", n)
	}

	h.p.Handle(ctx, mention("2.0"))
	if n, _ := h.store.Get(ctx, "quota:C1"); n != 0 {
		t.Fatalf("trigger should reset quota, got %d", n)
	}
}

func TestPipeline_RateLimitDropsBeforeClassification(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		h.p.Handle(ctx, idle("1.0"))
	}
	h.p.Handle(ctx, mention("2.0"))
	if h.responder.count() != 0 {
		t.Fatal("8th message in the window must be dropped even if it mentions the bot")
	}
}

func TestPipeline_DeniedUserGetsNotice(t *testing.T) {
	h := newHarness(t, "COPT", "U_OTHER")
	h.p.Handle(context.Background(), mention("5.0"))

	if h.responder.count() != 0 {
		t.Fatal("user outside opt-in channel must not get a response")
	}
	if len(h.ws.posted) != 1 {
		t.Fatalf("expected opt-in notice, got %d posts", len(h.ws.posted))
	}
	if got := h.ws.posted[0]; got.ThreadTS != "5.0" || got.Channel != "C1" {
		t.Fatalf("notice should thread under the trigger, got %+v", got)
	}
}

func TestPipeline_DeniedIdleMessageIgnored(t *testing.T) {
	h := newHarness(t, "COPT")
	ctx := context.Background()
	h.p.Handle(ctx, idle("1.0"))
	if len(h.ws.posted) != 0 {
		t.Fatal("idle message from denied user must be silent")
	}
	if n, _ := h.store.Get(ctx, "quota:C1"); n != 0 {
		t.Fatalf("denied idle message should not touch quota, got %d", n)
	}
}

func TestPipeline_MembershipEventsUpdateGate(t *testing.T) {
	h := newHarness(t, "COPT")
	ctx := context.Background()

	h.p.Handle(ctx, domain.MemberJoinedEvent{Channel: "COPT", User: "U1"})
	h.p.Handle(ctx, mention("1.0"))
	if h.responder.count() != 1 {
		t.Fatal("joined user should be answered")
	}

	h.p.Handle(ctx, domain.MemberLeftEvent{Channel: "COPT", User: "U1"})
	h.p.Handle(ctx, mention("2.0"))
	if h.responder.count() != 1 {
		t.Fatal("departed user should not be answered")
	}
}

func TestPipeline_ResponderErrorIsContained(t *testing.T) {
	h := newHarness(t, "")
	h.responder.err = errors.New("oracle down")
	h.p.Handle(context.Background(), mention("1.0"))
	if h.responder.count() != 1 {
		t.Fatal("responder should have been invoked")
	}
}

type panickingResponder struct{}

func (panickingResponder) Respond(context.Context, *domain.Turn) error { panic("boom") }

func TestPipeline_PanicIsContained(t *testing.T) {
	h := newHarness(t, "")
	h.p.responder = panickingResponder{}
	h.p.Handle(context.Background(), mention("1.0"))
}

func TestPipeline_DropsBotMessages(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.p.Handle(ctx, domain.MessageEvent{Channel: "C1", User: "U1", BotID: "B1", Text: "<@UBOT>", TS: "1.0"})
	h.p.Handle(ctx, domain.MessageEvent{Channel: "C1", User: "UBOT", Text: "<@UBOT>", TS: "1.0"})
	if h.responder.count() != 0 {
		t.Fatal("bot-authored messages must be dropped")
	}
	if n, _ := h.store.Get(ctx, "quota:C1"); n != 0 {
		t.Fatal("dropped messages must not count toward quota")
	}
}

func TestPipeline_RunWaitsForInFlightHandlers(t *testing.T) {
	h := newHarness(t, "")
	r := &blockingResponder{started: make(chan struct{}), release: make(chan struct{})}
	h.p.responder = r
	b := bus.New(4, testLogger())
	h.p.bus = b

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.p.Run(ctx)
		close(done)
	}()

	b.Publish(mention("1.0"))
	<-r.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a handler was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run should return once handlers finish")
	}
}
