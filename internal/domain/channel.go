package domain

import (
	"context"
	"time"
)

// ChannelKind is the closed set of channel shapes the pipeline distinguishes.
type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindDirect
	KindGuildText
)

func (k ChannelKind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGuildText:
		return "guild_text"
	case KindOther:
		return "other"
	}
	return "unknown"
}

// CanSend reports whether unsolicited messages can be posted to the channel.
func (k ChannelKind) CanSend() bool {
	switch k {
	case KindDirect, KindGuildText:
		return true
	case KindOther:
		return false
	}
	return false
}

// Sent is the handle of a delivered message, enough to persist it.
type Sent struct {
	ID        string
	ChannelID string
	GuildID   string
	AuthorID  string
	Author    string
	CreatedAt time.Time
}

// Conversation delivers text back to the channel an inbound message came from.
type Conversation interface {
	Kind() ChannelKind
	Reply(ctx context.Context, text string) (Sent, error)
	Send(ctx context.Context, text string) (Sent, error)
	Typing(ctx context.Context) error
}

// User is a platform account as seen by the bot.
type User struct {
	ID       string
	Username string
}

// DirectMessenger opens direct-message conversations with users.
type DirectMessenger interface {
	LookupUser(ctx context.Context, userID string) (*User, error)
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
	SendDM(ctx context.Context, userID, text string) (Sent, error)
}

// BotIdentity is the bot account on a platform.
type BotIdentity struct {
	ID   string
	Name string
}

// Inbound is one message event handed from an adapter to the pipeline.
type Inbound struct {
	Platform     string
	Message      Message
	Conversation Conversation
	Bot          BotIdentity
	Mentioned    bool
	// Mentions maps user ids referenced in the content to display names.
	Mentions map[string]string
}
