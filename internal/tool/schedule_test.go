package tool

import (
	"context"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func TestScheduleMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ws := &fakeWorkspace{}
	tl := NewScheduleMessageTool(ws, func() time.Time { return now }, testLogger())

	res, err := tl.Execute(context.Background(), triggerTurn(domain.MessageEvent{Channel: "C1", User: "U5", TS: "1.0"}),
		map[string]any{"text": "stretch", "seconds": 3600.0})
	if err != nil || !res.Success {
		t.Fatalf("schedule failed: %v %+v", err, res)
	}
	if ws.scheduled[0].Channel != "U5" || ws.scheduled[0].Text != "stretch" {
		t.Fatalf("reminder should go to the author's DM, got %+v", ws.scheduled[0])
	}
	if !ws.scheduledAt[0].Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected post time %v", ws.scheduledAt[0])
	}
}

func TestScheduleMessage_Limits(t *testing.T) {
	reg := NewRegistry(0, testLogger())
	ws := &fakeWorkspace{}
	mustRegister(t, reg, NewScheduleMessageTool(ws, nil, testLogger()))
	turn := triggerTurn(domain.MessageEvent{Channel: "C1", User: "U5", TS: "1.0"})

	tooFar := (121 * 24 * time.Hour).Seconds()
	if inv := reg.Execute(context.Background(), turn, call("scheduleMessage", map[string]any{"text": "x", "seconds": tooFar})); inv.Result.Success {
		t.Fatal("more than 120 days ahead must be rejected")
	}
	if len(ws.scheduled) != 0 {
		t.Fatal("rejected schedule must not reach the workspace")
	}

	anon := &domain.Turn{Message: domain.MessageEvent{Channel: "C1"}}
	if inv := reg.Execute(context.Background(), anon, call("scheduleMessage", map[string]any{"text": "x", "seconds": 60.0})); inv.Result.Success {
		t.Fatal("unknown author must fail")
	}
}
