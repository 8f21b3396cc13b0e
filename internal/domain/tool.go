package domain

import (
	"context"
	"encoding/json"
)

// Tool is the interface for agent capabilities (reply, react, search, etc).
//
// Execute receives arguments that already passed schema validation. A returned
// error is converted into a failed ToolResult by the registry, so tools never
// need to build failure results themselves.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, turn *Turn, args map[string]any) (ToolResult, error)
}

// Terminal tools end an agent run when they report success.
type Terminal interface {
	Terminal() bool
}

// ToolResult is the uniform shape every tool invocation resolves to.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps structured data in a successful result.
func OK(data any) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// Text wraps a plain message in a successful result.
func Text(content string) ToolResult {
	return ToolResult{Success: true, Content: content}
}

// Failed builds a failed result.
func Failed(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}

// String renders the result as the JSON handed back to the oracle.
func (r ToolResult) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(b)
}
