package tool

import (
	"log/slog"
	"time"

	"relaybot/internal/browser"
	"relaybot/internal/directory"
	"relaybot/internal/domain"
)

// Deps are the collaborators the built-in tools are constructed from.
type Deps struct {
	Workspace  domain.Workspace
	Directory  *directory.Directory
	Gate       AccessChecker
	Threads    ThreadReader
	Summariser SummariserConfig
	ExaAPIKey  string
	ExaURL     string
	Renderer   browser.Renderer
	Clock      func() time.Time
	Logger     *slog.Logger
}

// RegisterBuiltins registers every built-in tool. Tools whose backing service
// is not configured are still registered and fail at call time.
func RegisterBuiltins(reg *Registry, d Deps) error {
	logger := d.Logger
	tools := []domain.Tool{
		NewWorkspaceSearchTool(d.Workspace, logger),
		NewWebSearchTool(d.ExaAPIKey, d.ExaURL, logger),
		NewUserInfoTool(d.Directory, logger),
		NewLeaveChannelTool(d.Workspace, logger),
		NewScheduleMessageTool(d.Workspace, d.Clock, logger),
		NewSummariseThreadTool(d.Threads, d.Summariser, logger),
		NewReactTool(d.Workspace, logger),
		NewReplyTool(d.Workspace, logger),
		NewSkipTool(d.Directory, logger),
		NewStartDMTool(d.Workspace, d.Directory, d.Gate, logger),
	}
	if d.Renderer != nil {
		tools = append(tools, NewDiagramTool(d.Workspace, d.Renderer, logger))
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
