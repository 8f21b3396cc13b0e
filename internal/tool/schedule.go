package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
)

const maxScheduleAhead = 120 * 24 * time.Hour

// ScheduleMessageTool schedules a reminder in the author's DM.
type ScheduleMessageTool struct {
	ws     domain.Workspace
	clock  func() time.Time
	logger *slog.Logger
}

func NewScheduleMessageTool(ws domain.Workspace, clock func() time.Time, logger *slog.Logger) *ScheduleMessageTool {
	if clock == nil {
		clock = time.Now
	}
	return &ScheduleMessageTool{ws: ws, clock: clock, logger: logger}
}

func (t *ScheduleMessageTool) Name() string { return "scheduleMessage" }
func (t *ScheduleMessageTool) Description() string {
	return "Schedule a reminder to be sent to the user who sent the last message in the conversation."
}

func (t *ScheduleMessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"text": {
				Type:        "string",
				Description: "The reminder text sent to the user, e.g. 'Hi! An hour ago you asked me to remind you to update your computer.'",
			},
			"seconds": {
				Type:        "number",
				Description: "Seconds from now until the reminder is sent.",
				Min:         bound(1),
				Max:         bound(maxScheduleAhead.Seconds()),
			},
		},
		[]string{"text", "seconds"},
	)
}

func (t *ScheduleMessageTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	user := turn.Message.User
	if user == "" {
		return domain.ToolResult{}, errors.New("could not identify who to remind")
	}
	seconds := ArgsInt(args, "seconds", 0)
	at := t.clock().Add(time.Duration(seconds) * time.Second)

	if _, err := t.ws.ScheduleMessage(ctx, domain.OutgoingMessage{
		Channel: user,
		Text:    ArgsString(args, "text"),
	}, at); err != nil {
		return domain.ToolResult{}, fmt.Errorf("schedule message: %w", err)
	}

	t.logger.Info("scheduled reminder", "conversation", turn.Conversation, "user", user, "at", at.UTC().Format(time.RFC3339))
	return domain.Text(fmt.Sprintf("Scheduled reminder for %s successfully", user)), nil
}
