package domain

import "time"

// Role is the speaker classification of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single persisted entry of channel memory.
// GuildID is empty for direct-message channels. BotID is set only when IsBot.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      string       `json:"author"`
	AuthorID    string       `json:"author_id"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	IsBot       bool         `json:"is_bot"`
	IsSystem    bool         `json:"is_system"`
	BotID       string       `json:"bot_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Role reports which speaker the message belongs to. System wins over bot.
func (m Message) Role() Role {
	switch {
	case m.IsSystem:
		return RoleSystem
	case m.IsBot || (m.BotID != "" && m.AuthorID == m.BotID):
		return RoleAssistant
	default:
		return RoleUser
	}
}

// SystemMessage is a system-role note appended to a channel's memory.
type SystemMessage struct {
	ChannelID string
	GuildID   string
	Content   string
	Timestamp time.Time
}

// ConversationContext is the chronological window of a channel's memory.
type ConversationContext struct {
	ChannelID string
	GuildID   string
	Messages  []Message
}
