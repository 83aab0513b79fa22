package domain

import "context"

// MemoryStore is the per-channel conversational memory.
// Messages come back in the order they were written.
type MemoryStore interface {
	GetChannelContext(ctx context.Context, channelID, guildID string) (*ConversationContext, error)
	AddMessage(ctx context.Context, msg Message) error
	AddSystemMessage(ctx context.Context, msg SystemMessage) error
	Close() error
}
