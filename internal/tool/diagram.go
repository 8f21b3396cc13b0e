package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relaybot/internal/browser"
	"relaybot/internal/domain"
)

// DiagramTool renders mermaid source and uploads the image to the conversation.
type DiagramTool struct {
	ws       domain.Workspace
	renderer browser.Renderer
	logger   *slog.Logger
}

func NewDiagramTool(ws domain.Workspace, renderer browser.Renderer, logger *slog.Logger) *DiagramTool {
	return &DiagramTool{ws: ws, renderer: renderer, logger: logger}
}

func (t *DiagramTool) Name() string { return "diagramRender" }
func (t *DiagramTool) Description() string {
	return "Generate a Mermaid diagram and share it as an image in Slack. Use for visualizing workflows, architectures, sequences, or relationships."
}

func (t *DiagramTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"code":  {Type: "string", Description: "Valid Mermaid diagram code (flowchart, sequence, classDiagram, etc.)", MinLength: 1},
			"title": {Type: "string", Description: "Optional title/alt text for the diagram"},
		},
		[]string{"code"},
	)
}

func (t *DiagramTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	m := turn.Message
	if m.Channel == "" {
		return domain.ToolResult{}, errors.New("missing Slack channel")
	}
	img, err := t.renderer.Render(ctx, ArgsString(args, "code"))
	if err != nil {
		return domain.ToolResult{}, err
	}

	title := ArgsString(args, "title")
	if title == "" {
		title = "Mermaid Diagram"
	}
	if err := t.ws.UploadFile(ctx, domain.FileUpload{
		Channel:  m.Channel,
		ThreadTS: m.ReplyThread(),
		Filename: "diagram.png",
		Title:    title,
		Content:  img,
	}); err != nil {
		return domain.ToolResult{}, fmt.Errorf("upload diagram: %w", err)
	}

	t.logger.Info("uploaded diagram", "conversation", turn.Conversation, "title", title, "renderer", t.renderer.Name())
	return domain.Text("Mermaid diagram uploaded to Slack and sent"), nil
}
