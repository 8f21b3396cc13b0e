package domain

// TriggerKind says why the bot decided to respond.
type TriggerKind string

const (
	TriggerNone    TriggerKind = "none"
	TriggerMention TriggerKind = "mention"
	TriggerDM      TriggerKind = "dm"
	TriggerThread  TriggerKind = "threadContinuation"
)

// Trigger is the classifier verdict for one message.
type Trigger struct {
	Kind    TriggerKind
	BotName string // resolved bot name, set for mentions
	UserID  string // author, set for dm and thread continuations
}

// Fired reports whether the message warrants a response.
func (t Trigger) Fired() bool {
	return t.Kind != "" && t.Kind != TriggerNone
}
