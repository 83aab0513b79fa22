package channel

import (
	"log/slog"
	"os"
	"sync"

	"moebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingBus struct {
	mu  sync.Mutex
	got []domain.Inbound
}

func (b *recordingBus) Publish(msg domain.Inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, msg)
}

func (b *recordingBus) Subscribe() <-chan domain.Inbound { return nil }
func (b *recordingBus) Close()                           {}

func (b *recordingBus) messages() []domain.Inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Inbound(nil), b.got...)
}
