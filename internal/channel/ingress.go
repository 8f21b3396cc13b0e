package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
)

// callbackEnvelope is the outer event_callback payload shared by the Events
// API and Socket Mode.
type callbackEnvelope struct {
	Type    string          `json:"type"`
	TeamID  string          `json:"team_id"`
	EventID string          `json:"event_id"`
	Event   json.RawMessage `json:"event"`
}

type rawFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mimetype   string `json:"mimetype"`
	URLPrivate string `json:"url_private"`
}

type rawEvent struct {
	Type            string    `json:"type"`
	Team            string    `json:"team"`
	Channel         string    `json:"channel"`
	ChannelType     string    `json:"channel_type"`
	User            string    `json:"user"`
	Text            string    `json:"text"`
	TS              string    `json:"ts"`
	ThreadTS        string    `json:"thread_ts"`
	SubType         string    `json:"subtype"`
	BotID           string    `json:"bot_id"`
	Files           []rawFile `json:"files"`
	AssistantThread *struct {
		ActionToken string `json:"action_token"`
	} `json:"assistant_thread"`
}

// Ingress decodes callback payloads into inbound events and publishes the
// ones the pipeline accepts.
type Ingress struct {
	bus       domain.EventBus
	botUserID string
	logger    *slog.Logger
	now       func() time.Time
}

func NewIngress(bus domain.EventBus, botUserID string, logger *slog.Logger) *Ingress {
	return &Ingress{bus: bus, botUserID: botUserID, logger: logger, now: time.Now}
}

// Handle decodes one event_callback payload. Dropped events are not errors.
func (in *Ingress) Handle(payload []byte) error {
	ev, err := Decode(payload, in.botUserID, in.now())
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	in.bus.Publish(ev)
	return nil
}

// Decode turns an event_callback payload into a domain event. It returns nil
// for payloads the bot ignores: other event types, bot messages, its own
// messages and unsupported message subtypes.
func Decode(payload []byte, botUserID string, receivedAt time.Time) (domain.InboundEvent, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	if env.Type != "event_callback" || len(env.Event) == 0 {
		return nil, nil
	}

	var raw rawEvent
	if err := json.Unmarshal(env.Event, &raw); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.EventID, err)
	}

	switch raw.Type {
	case "member_joined_channel":
		if raw.Channel == "" || raw.User == "" {
			return nil, nil
		}
		return domain.MemberJoinedEvent{Channel: raw.Channel, User: raw.User}, nil
	case "member_left_channel":
		if raw.Channel == "" || raw.User == "" {
			return nil, nil
		}
		return domain.MemberLeftEvent{Channel: raw.Channel, User: raw.User}, nil
	}
	if raw.Type != "message" {
		return nil, nil
	}

	m := domain.MessageEvent{
		TeamID:      env.TeamID,
		Channel:     raw.Channel,
		ChannelType: raw.ChannelType,
		User:        raw.User,
		Text:        raw.Text,
		TS:          raw.TS,
		ThreadTS:    raw.ThreadTS,
		SubType:     raw.SubType,
		BotID:       raw.BotID,
		ReceivedAt:  receivedAt,
	}
	if m.TeamID == "" {
		m.TeamID = raw.Team
	}
	if raw.AssistantThread != nil {
		m.ActionToken = raw.AssistantThread.ActionToken
	}
	for _, f := range raw.Files {
		m.Files = append(m.Files, domain.File{
			ID:         f.ID,
			Name:       f.Name,
			MimeType:   f.Mimetype,
			URLPrivate: f.URLPrivate,
		})
	}
	if m.Channel == "" || m.TS == "" || !m.Processable(botUserID) {
		return nil, nil
	}
	return m, nil
}
