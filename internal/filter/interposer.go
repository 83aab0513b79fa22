package filter

import (
	"fmt"
	"log/slog"
	"strings"

	"moebot/internal/domain"
	"moebot/internal/metrics"
)

// Placeholder is delivered when a reply is filtered and the filter offers
// no redacted variant.
const Placeholder = "[filtered]"

// Outcome is what the interposer decided for one piece of outbound text.
type Outcome struct {
	Content      string
	WasFiltered  bool
	MatchedWords []string
}

// Interposer sits between the model's text and the chat. A nil filter lets
// everything through.
type Interposer struct {
	filter domain.WordFilter
	logger *slog.Logger
}

func NewInterposer(filter domain.WordFilter, logger *slog.Logger) *Interposer {
	return &Interposer{filter: filter, logger: logger}
}

func (i *Interposer) Filter(content string) Outcome {
	if i == nil || i.filter == nil || content == "" {
		return Outcome{Content: content}
	}

	res := i.filter.CheckMessage(content)
	if !res.IsFiltered {
		return Outcome{Content: content}
	}

	metrics.FilteredResponses.Inc()
	i.logger.Info("response filtered", "matched", len(res.MatchedWords))

	delivered := res.FilteredContent
	if strings.TrimSpace(delivered) == "" {
		delivered = Placeholder
	}
	return Outcome{Content: delivered, WasFiltered: true, MatchedWords: res.MatchedWords}
}

// Note renders the system note persisted after a filtered reply.
func (o Outcome) Note() string {
	if len(o.MatchedWords) == 0 {
		return "[FILTER: Response was filtered.]"
	}
	return fmt.Sprintf("[FILTER: Response was filtered. Matched words: %s.]", strings.Join(o.MatchedWords, ", "))
}
