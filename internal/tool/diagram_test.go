package tool

import (
	"context"
	"errors"
	"testing"

	"relaybot/internal/domain"
)

func TestDiagram_Uploads(t *testing.T) {
	ws := &fakeWorkspace{}
	tl := NewDiagramTool(ws, &fakeRenderer{img: []byte("png")}, testLogger())

	res, err := tl.Execute(context.Background(), triggerTurn(domain.MessageEvent{Channel: "C1", TS: "3.0"}), map[string]any{"code": "graph TD; A-->B"})
	if err != nil || !res.Success {
		t.Fatalf("diagram failed: %v", err)
	}
	up := ws.uploads[0]
	if up.Filename != "diagram.png" || up.Title != "Mermaid Diagram" || up.ThreadTS != "3.0" || string(up.Content) != "png" {
		t.Fatalf("unexpected upload %+v", up)
	}
}

func TestDiagram_RenderFailure(t *testing.T) {
	ws := &fakeWorkspace{}
	tl := NewDiagramTool(ws, &fakeRenderer{err: errors.New("syntax")}, testLogger())
	if _, err := tl.Execute(context.Background(), triggerTurn(domain.MessageEvent{Channel: "C1", TS: "3.0"}), map[string]any{"code": "x", "title": "t"}); err == nil {
		t.Fatal("expected render error")
	}
	if len(ws.uploads) != 0 {
		t.Fatal("nothing should be uploaded on failure")
	}
}
