package domain

import "time"

// InboundEvent is the closed set of workspace events the pipeline accepts.
// Payloads are decoded into one of these variants once, at ingress.
type InboundEvent interface {
	isInbound()
}

// File is an attachment on a workspace message.
type File struct {
	ID         string
	Name       string
	MimeType   string
	URLPrivate string
}

// MessageEvent is a posted message.
type MessageEvent struct {
	TeamID      string
	Channel     string
	ChannelType string // channel | group | im | mpim
	User        string
	Text        string
	TS          string
	ThreadTS    string
	SubType     string
	BotID       string
	Files       []File
	ActionToken string // assistant search token, present on some events
	ReceivedAt  time.Time
}

// MemberJoinedEvent reports a user joining a channel.
type MemberJoinedEvent struct {
	Channel string
	User    string
}

// MemberLeftEvent reports a user leaving a channel.
type MemberLeftEvent struct {
	Channel string
	User    string
}

func (MessageEvent) isInbound()      {}
func (MemberJoinedEvent) isInbound() {}
func (MemberLeftEvent) isInbound()   {}

// IsDM reports whether the message was sent in a direct message.
func (m MessageEvent) IsDM() bool {
	return m.ChannelType == "im"
}

// ConversationKey identifies the conversation for rate and quota accounting.
func (m MessageEvent) ConversationKey() string {
	if m.IsDM() {
		return "dm:" + m.User
	}
	return m.Channel
}

// Processable applies the ingress drop rules: messages from bots or from the
// bot itself, and subtypes other than thread_broadcast and file_share.
func (m MessageEvent) Processable(botUserID string) bool {
	if m.BotID != "" {
		return false
	}
	if m.User == "" || (botUserID != "" && m.User == botUserID) {
		return false
	}
	switch m.SubType {
	case "", "thread_broadcast", "file_share":
		return true
	}
	return false
}

// ReplyThread is the thread a response to this message belongs in.
func (m MessageEvent) ReplyThread() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}

// Turn carries everything a tool may need about the message being answered.
type Turn struct {
	Message      MessageEvent
	Conversation string
	BotUserID    string
	AuthorName   string
	Trigger      Trigger
}
