// Package bus carries inbound chat events from platform adapters to the
// dispatcher.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"moebot/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// InMemoryBus is a buffered Go channel shared by every adapter.
type InMemoryBus struct {
	inbound        chan domain.Inbound
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &InMemoryBus{
		inbound:        make(chan domain.Inbound, bufferSize),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish blocks up to the publish timeout when the buffer is full, then
// drops the event.
func (b *InMemoryBus) Publish(msg domain.Inbound) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "platform", msg.Platform)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "platform", msg.Platform, "channel", msg.Message.ChannelID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		b.logger.Info("message delivered after wait", "channel", msg.Message.ChannelID)
	case <-timer.C:
		b.logger.Error("message dropped: bus full",
			"platform", msg.Platform,
			"channel", msg.Message.ChannelID,
			"author", msg.Message.AuthorID,
		)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Inbound {
	return b.inbound
}

// Close stops accepting events. Buffered events can still be drained.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
