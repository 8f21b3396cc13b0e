package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/directory"
	"relaybot/internal/domain"
)

// AccessChecker is the part of the access gate the DM tool needs.
type AccessChecker interface {
	IsAllowed(userID string) bool
	Channel() string
}

// UserInfoTool looks up a workspace user's public profile.
type UserInfoTool struct {
	dir    *directory.Directory
	logger *slog.Logger
}

func NewUserInfoTool(dir *directory.Directory, logger *slog.Logger) *UserInfoTool {
	return &UserInfoTool{dir: dir, logger: logger}
}

func (t *UserInfoTool) Name() string        { return "getUserInfo" }
func (t *UserInfoTool) Description() string { return "Get details about a Slack user by ID." }

func (t *UserInfoTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"userId": {Type: "string", Description: "The Slack user ID (e.g. U123) of the user.", MinLength: 1},
		},
		[]string{"userId"},
	)
}

type userInfo struct {
	*domain.UserProfile
	IDResolved string `json:"idResolved"`
}

func (t *UserInfoTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	id := directory.NormalizeUserID(ArgsString(args, "userId"))
	if id == "" {
		return domain.Failed("User not found. Use their Slack ID."), nil
	}
	p, err := t.dir.Profile(ctx, id)
	if err != nil {
		t.logger.Warn("user lookup failed", "conversation", turn.Conversation, "user", id, "err", err)
		return domain.Failed("User not found. Use their Slack ID."), nil
	}
	return domain.OK(userInfo{UserProfile: p, IDResolved: id}), nil
}

// StartDMTool opens a direct message with an opted-in user and sends one message.
type StartDMTool struct {
	ws     domain.Workspace
	dir    *directory.Directory
	gate   AccessChecker
	logger *slog.Logger
}

func NewStartDMTool(ws domain.Workspace, dir *directory.Directory, gate AccessChecker, logger *slog.Logger) *StartDMTool {
	return &StartDMTool{ws: ws, dir: dir, gate: gate, logger: logger}
}

func (t *StartDMTool) Name() string        { return "startDM" }
func (t *StartDMTool) Description() string { return "Start a DM with a Slack user and send them a message." }

func (t *StartDMTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"userId":  {Type: "string", Description: "Slack user ID (e.g. U123).", MinLength: 1},
			"content": {Type: "string", Description: "Message content to send in the DM.", MinLength: 1},
		},
		[]string{"userId", "content"},
	)
}

func (t *StartDMTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	target := directory.NormalizeUserID(ArgsString(args, "userId"))
	content := ArgsString(args, "content")

	if !strings.HasPrefix(target, "U") {
		return domain.Failed("User not found. Provide a Slack user ID."), nil
	}
	if t.gate != nil && !t.gate.IsAllowed(target) {
		return domain.Failed(fmt.Sprintf(
			"This user is not allowed to communicate with you. They need to join <#%s> to allow you.",
			t.gate.Channel())), nil
	}

	ch, err := t.ws.OpenDM(ctx, target)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("open dm: %w", err)
	}
	if ch == "" {
		return domain.ToolResult{}, errors.New("failed to open direct message with user")
	}
	if _, err := t.ws.PostMessage(ctx, domain.OutgoingMessage{Channel: ch, Text: content}); err != nil {
		return domain.ToolResult{}, fmt.Errorf("send dm: %w", err)
	}

	targetName := t.dir.Name(ctx, target)
	t.logger.Info("sent dm", "conversation", turn.Conversation, "author", turn.AuthorName, "target", target)
	return domain.ToolResult{
		Success: true,
		Content: "Sent DM to " + targetName,
		Data:    map[string]string{"userId": target, "messageContent": content},
	}, nil
}
