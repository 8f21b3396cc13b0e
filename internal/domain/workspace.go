package domain

import (
	"context"
	"time"
)

// Workspace is the narrow slice of the chat platform API the bot depends on.
// The Slack implementation lives in internal/channel; tests use fakes.
type Workspace interface {
	UserInfo(ctx context.Context, userID string) (*UserProfile, error)
	ChannelInfo(ctx context.Context, channelID string) (*ChannelInfo, error)
	TeamName(ctx context.Context) (string, error)

	// History returns thread replies when ThreadTS is set, channel history otherwise.
	History(ctx context.Context, q HistoryQuery) ([]HistoryMessage, error)
	ChannelMembers(ctx context.Context, channelID, cursor string, limit int) ([]string, string, error)

	PostMessage(ctx context.Context, msg OutgoingMessage) (string, error)
	ScheduleMessage(ctx context.Context, msg OutgoingMessage, at time.Time) (string, error)
	AddReaction(ctx context.Context, channelID, ts, name string) error
	LeaveChannel(ctx context.Context, channelID string) error
	OpenDM(ctx context.Context, userID string) (string, error)
	UploadFile(ctx context.Context, f FileUpload) error

	SearchContext(ctx context.Context, query, actionToken string) ([]SearchHit, error)
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

type UserProfile struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"teamId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	RealName    string    `json:"realName"`
	StatusText  string    `json:"statusText"`
	StatusEmoji string    `json:"statusEmoji"`
	Title       string    `json:"title"`
	TZ          string    `json:"tz"`
	IsBot       bool      `json:"isBot"`
	Updated     time.Time `json:"updated"`
}

// BestName picks the most human-friendly name available.
func (p *UserProfile) BestName() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.RealName != "":
		return p.RealName
	case p.Username != "":
		return p.Username
	}
	return p.ID
}

type ChannelInfo struct {
	ID             string
	Name           string
	NameNormalized string
	IsIM           bool
}

type HistoryQuery struct {
	Channel   string
	ThreadTS  string
	Latest    string
	Inclusive bool
	Limit     int
}

type HistoryMessage struct {
	TS       string
	ThreadTS string
	User     string
	BotID    string
	SubType  string
	Text     string
	Files    []File
}

type OutgoingMessage struct {
	Channel  string
	Text     string
	ThreadTS string
}

type FileUpload struct {
	Channel  string
	ThreadTS string
	Filename string
	Title    string
	Content  []byte
}

type SearchHit struct {
	Channel   string `json:"channel,omitempty"`
	User      string `json:"user,omitempty"`
	TS        string `json:"ts,omitempty"`
	Text      string `json:"text"`
	Permalink string `json:"permalink,omitempty"`
}
