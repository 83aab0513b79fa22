package channel

import (
	"context"
	"strings"
	"unicode/utf8"

	"moebot/internal/domain"
)

// Adapter connects one chat platform to the message bus. Start blocks until
// ctx is done or the connection fails.
type Adapter interface {
	Name() string
	Start(ctx context.Context, bus domain.MessageBus) error
}

// splitMessage splits msg into chunks of at most maxLen characters,
// preferring to cut after a newline in the second half of a chunk.
func splitMessage(msg string, maxLen int) []string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for msg != "" {
		if utf8.RuneCountInString(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Byte offset of the maxLen-th rune.
		limit := 0
		for i := 0; i < maxLen; i++ {
			_, size := utf8.DecodeRuneInString(msg[limit:])
			limit += size
		}

		cut := limit
		if idx := strings.LastIndex(msg[:limit], "\n"); idx >= 0 && utf8.RuneCountInString(msg[:idx]) > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
