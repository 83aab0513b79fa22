// Package handler drives one conversational turn per inbound message:
// memory, model, function execution, filtered delivery and the single
// follow-up round.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"moebot/internal/domain"
	"moebot/internal/filter"
	"moebot/internal/metrics"
)

// ApologyReply is sent when a turn fails before a reply could be produced.
const ApologyReply = "sorry, i encountered an error while processing your message."

const (
	defaultTurnTimeout = 120 * time.Second
	apologyTimeout     = 10 * time.Second
)

// Responder is the model side of a turn.
type Responder interface {
	GenerateResponse(ctx context.Context, history []domain.Message) (*domain.Response, error)
	ExecuteFunctionCalls(ctx context.Context, calls []domain.FunctionCall, origin domain.Inbound) []string
	ReportMalformed(malformed []domain.MalformedCall) []string
}

// Config holds every collaborator of a Handler.
type Config struct {
	AI          Responder
	Memory      domain.MemoryStore
	Filter      *filter.Interposer // nil delivers text unfiltered
	Logger      *slog.Logger
	TurnTimeout time.Duration
}

type Handler struct {
	ai          Responder
	memory      domain.MemoryStore
	filter      *filter.Interposer
	logger      *slog.Logger
	turnTimeout time.Duration
	now         func() time.Time
}

func New(cfg Config) *Handler {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	return &Handler{
		ai:          cfg.AI,
		memory:      cfg.Memory,
		filter:      cfg.Filter,
		logger:      cfg.Logger,
		turnTimeout: cfg.TurnTimeout,
		now:         time.Now,
	}
}

// ShouldRespond reports whether an inbound message starts a turn: never for
// bot authors, always in direct messages, otherwise only when mentioned.
func ShouldRespond(in domain.Inbound) bool {
	if in.Message.IsBot || in.Conversation == nil {
		return false
	}
	if in.Conversation.Kind() == domain.KindDirect {
		return true
	}
	return in.Mentioned
}

// Handle runs one turn. Failures are logged and answered with ApologyReply;
// nothing escapes to the caller.
func (h *Handler) Handle(ctx context.Context, in domain.Inbound) {
	if !ShouldRespond(in) {
		return
	}

	metrics.MessagesTotal.Inc()
	metrics.TurnsInFlight.Inc()
	start := time.Now()
	defer func() {
		metrics.TurnsInFlight.Dec()
		metrics.TurnLatency.ObserveSince(start)
	}()

	ctx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()

	logger := h.logger.With("platform", in.Platform, "channel", in.Message.ChannelID, "message", in.Message.ID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("turn panicked", "panic", p, "stack", string(debug.Stack()))
			h.apologize(ctx, in, logger)
		}
	}()

	if err := h.run(ctx, in, logger); err != nil {
		logger.Error("error handling message", "err", err)
		h.apologize(ctx, in, logger)
	}
}

func (h *Handler) run(ctx context.Context, in domain.Inbound, logger *slog.Logger) error {
	h.startTyping(ctx, in, logger)
	logger.Debug("processing message")

	if err := h.storeInbound(ctx, in); err != nil {
		return err
	}

	history, err := h.memory.GetChannelContext(ctx, in.Message.ChannelID, in.Message.GuildID)
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}
	logger.Debug("messages in context", "count", len(history.Messages))

	resp, err := h.ai.GenerateResponse(ctx, history.Messages)
	if err != nil {
		return err
	}

	switch {
	case resp.HasFunctionCalls():
		return h.handleFunctionCalls(ctx, in, resp, logger)
	case strings.TrimSpace(resp.Content) != "":
		return h.handleSimpleResponse(ctx, in, resp.Content, logger)
	default:
		logger.Debug("model returned nothing to say")
		return nil
	}
}

func (h *Handler) storeInbound(ctx context.Context, in domain.Inbound) error {
	msg := in.Message
	msg.Attachments = ImageAttachments(msg.Attachments)
	msg.Content = FormatUserContent(msg.Content, in.Mentions, msg.Attachments)
	msg.IsBot = false
	msg.IsSystem = false
	msg.BotID = ""
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	if err := h.memory.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("store user message: %w", err)
	}
	return nil
}

func (h *Handler) handleSimpleResponse(ctx context.Context, in domain.Inbound, content string, logger *slog.Logger) error {
	out := h.filter.Filter(content)
	sent := h.reply(ctx, in, out.Content, logger)

	if err := h.storeBotMessage(ctx, in, sent, content); err != nil {
		return err
	}
	if out.WasFiltered {
		return h.storeSystemNote(ctx, in, out.Note())
	}
	return nil
}

func (h *Handler) handleFunctionCalls(ctx context.Context, in domain.Inbound, resp *domain.Response, logger *slog.Logger) error {
	logger.Info("executing function calls", "count", len(resp.FunctionCalls), "malformed", len(resp.Malformed))

	var (
		sent *domain.Sent
		out  filter.Outcome
	)
	if strings.TrimSpace(resp.Content) != "" {
		out = h.filter.Filter(resp.Content)
		sent = h.reply(ctx, in, out.Content, logger)
	}

	results := h.ai.ExecuteFunctionCalls(ctx, resp.FunctionCalls, in)

	if err := h.storeBotMessage(ctx, in, sent, resp.RawContent); err != nil {
		return err
	}
	if out.WasFiltered {
		if err := h.storeSystemNote(ctx, in, out.Note()); err != nil {
			return err
		}
	}
	for _, line := range results {
		if err := h.storeSystemNote(ctx, in, line); err != nil {
			return err
		}
	}
	for _, line := range h.ai.ReportMalformed(resp.Malformed) {
		if err := h.storeSystemNote(ctx, in, line); err != nil {
			return err
		}
	}

	return h.followUp(ctx, in, logger)
}

// followUp gives the model one chance to react to the function results.
// Calls it makes are not executed.
func (h *Handler) followUp(ctx context.Context, in domain.Inbound, logger *slog.Logger) error {
	history, err := h.memory.GetChannelContext(ctx, in.Message.ChannelID, in.Message.GuildID)
	if err != nil {
		return fmt.Errorf("reload context: %w", err)
	}

	resp, err := h.ai.GenerateResponse(ctx, history.Messages)
	if err != nil {
		return err
	}
	if resp.HasFunctionCalls() {
		logger.Warn("ignoring function calls in follow-up", "count", len(resp.FunctionCalls), "malformed", len(resp.Malformed))
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil
	}

	kind := in.Conversation.Kind()
	if !kind.CanSend() {
		logger.Error("cannot send follow-up message in this channel type", "kind", kind)
		return nil
	}

	out := h.filter.Filter(resp.Content)
	var sent *domain.Sent
	if s, err := in.Conversation.Send(ctx, out.Content); err != nil {
		h.deliveryFailed(in, err, logger)
	} else {
		metrics.RepliesTotal.Inc()
		sent = &s
	}

	// Memory keeps what the model wrote, ignored call blocks included.
	if err := h.storeBotMessage(ctx, in, sent, resp.RawContent); err != nil {
		return err
	}
	if out.WasFiltered {
		return h.storeSystemNote(ctx, in, out.Note())
	}
	return nil
}

// reply delivers text as a reply to the inbound message. A failed delivery
// is logged and reported as nil.
func (h *Handler) reply(ctx context.Context, in domain.Inbound, text string, logger *slog.Logger) *domain.Sent {
	sent, err := in.Conversation.Reply(ctx, text)
	if err != nil {
		h.deliveryFailed(in, err, logger)
		return nil
	}
	metrics.RepliesTotal.Inc()
	return &sent
}

func (h *Handler) deliveryFailed(in domain.Inbound, err error, logger *slog.Logger) {
	metrics.DeliveryFailures.Inc()
	derr := &domain.DeliveryError{ChannelID: in.Message.ChannelID, Err: err}
	logger.Error("failed to deliver message", "err", derr)
}

// storeBotMessage persists content under the delivered message's handle, or
// under a synthetic one when nothing was delivered.
func (h *Handler) storeBotMessage(ctx context.Context, in domain.Inbound, sent *domain.Sent, content string) error {
	handle := h.syntheticHandle(in)
	if sent != nil {
		handle = *sent
	}

	msg := domain.Message{
		ID:        handle.ID,
		ChannelID: orDefault(handle.ChannelID, in.Message.ChannelID),
		GuildID:   orDefault(handle.GuildID, in.Message.GuildID),
		Author:    orDefault(handle.Author, in.Bot.Name),
		AuthorID:  orDefault(handle.AuthorID, in.Bot.ID),
		Content:   content,
		Timestamp: handle.CreatedAt,
		IsBot:     true,
		BotID:     in.Bot.ID,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	if err := h.memory.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("store bot message: %w", err)
	}
	return nil
}

func (h *Handler) syntheticHandle(in domain.Inbound) domain.Sent {
	return domain.Sent{
		ID:        "synthetic-" + uuid.NewString(),
		ChannelID: in.Message.ChannelID,
		GuildID:   in.Message.GuildID,
		AuthorID:  in.Bot.ID,
		Author:    in.Bot.Name,
		CreatedAt: h.now(),
	}
}

func (h *Handler) storeSystemNote(ctx context.Context, in domain.Inbound, content string) error {
	err := h.memory.AddSystemMessage(ctx, domain.SystemMessage{
		ChannelID: in.Message.ChannelID,
		GuildID:   in.Message.GuildID,
		Content:   content,
		Timestamp: h.now(),
	})
	if err != nil {
		return fmt.Errorf("store system message: %w", err)
	}
	return nil
}

func (h *Handler) startTyping(ctx context.Context, in domain.Inbound, logger *slog.Logger) {
	if !in.Conversation.Kind().CanSend() {
		return
	}
	if err := in.Conversation.Typing(ctx); err != nil {
		logger.Debug("typing indicator failed", "err", err)
	}
}

func (h *Handler) apologize(ctx context.Context, in domain.Inbound, logger *slog.Logger) {
	// The turn context may be what failed; the apology gets its own budget.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()

	if _, err := in.Conversation.Reply(actx, ApologyReply); err != nil {
		logger.Error("failed to send error message", "err", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
