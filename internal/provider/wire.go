package provider

import (
	"encoding/json"
	"log/slog"

	"relaybot/internal/domain"
)

// Chat completion wire format shared by OpenAI and the proxies that mimic it.

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// Content is a plain string, or a list of parts once images are attached.
type wireMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type wirePart struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL *wireURL `json:"image_url,omitempty"`
}

type wireURL struct {
	URL string `json:"url"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON text
	} `json:"function"`
}

type completion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []wireCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func encodeRequest(req domain.ChatRequest, model string) completionRequest {
	out := completionRequest{
		Model:     model,
		Messages:  make([]wireMessage, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	for i, m := range req.Messages {
		out.Messages[i] = encodeMessage(m)
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	for _, def := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = def.Name
		wt.Function.Description = def.Description
		wt.Function.Parameters = def.Parameters
		out.Tools = append(out.Tools, wt)
	}
	// tool_choice without tools is rejected by most backends.
	if len(out.Tools) > 0 {
		out.ToolChoice = req.ToolChoice
	}
	return out
}

func encodeMessage(m domain.Message) wireMessage {
	wm := wireMessage{Role: m.Role, Content: m.Content}
	if m.ToolCallID != "" {
		wm.ToolCallID, wm.Name = m.ToolCallID, m.ToolName
	}
	if len(m.Images) > 0 {
		parts := make([]wirePart, 0, len(m.Images)+1)
		parts = append(parts, wirePart{Type: "text", Text: m.Content})
		for _, img := range m.Images {
			parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireURL{URL: img.DataURL}})
		}
		wm.Content = parts
	}
	for _, tc := range m.ToolCalls {
		var wc wireCall
		wc.ID, wc.Type = tc.ID, "function"
		wc.Function.Name = tc.Name
		if raw, err := json.Marshal(tc.Arguments); err == nil {
			wc.Function.Arguments = string(raw)
		}
		wm.ToolCalls = append(wm.ToolCalls, wc)
	}
	return wm
}

// decodeCalls turns wire tool calls into domain calls. Unparseable arguments
// become an empty map so the registry can report the schema violation.
func decodeCalls(calls []wireCall, logger *slog.Logger) []domain.ToolCall {
	var out []domain.ToolCall
	for _, wc := range calls {
		args := map[string]any{}
		if wc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wc.Function.Arguments), &args); err != nil || args == nil {
				logger.Warn("unparseable tool arguments", "tool", wc.Function.Name, "err", err)
				args = map[string]any{}
			}
		}
		out = append(out, domain.ToolCall{ID: wc.ID, Name: wc.Function.Name, Arguments: args})
	}
	return out
}
