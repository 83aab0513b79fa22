// Package ai runs one model invocation per call: prompt assembly, the
// provider request and extraction of embedded function calls.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moebot/internal/domain"
	"moebot/internal/function"
	"moebot/internal/metrics"
	"moebot/internal/prompt"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.8
)

// Service glues the prompt builder, the provider and the function registry.
type Service struct {
	provider    domain.Provider
	prompt      *prompt.Builder
	functions   *function.Registry
	logger      *slog.Logger
	model       string
	maxTokens   int
	temperature float64
}

// ServiceConfig holds the dependencies and request tuning for a Service.
type ServiceConfig struct {
	Provider    domain.Provider
	Prompt      *prompt.Builder
	Functions   *function.Registry
	Logger      *slog.Logger
	Model       string // optional override of the provider's default model
	MaxTokens   int
	Temperature float64
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Service{
		provider:    cfg.Provider,
		prompt:      cfg.Prompt,
		functions:   cfg.Functions,
		logger:      cfg.Logger,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// ProviderName reports the name of the underlying provider.
func (s *Service) ProviderName() string { return s.provider.Name() }

// BotName reports the persona name replies are sent as.
func (s *Service) BotName() string { return s.prompt.BotName() }

// GenerateResponse asks the model for the next reply to history. Calls are
// parsed out of the raw text and removed from Content. A provider failure
// comes back as *domain.ProviderError and is not retried here.
func (s *Service) GenerateResponse(ctx context.Context, history []domain.Message) (*domain.Response, error) {
	req := domain.ChatRequest{
		SystemPrompt: s.prompt.BuildSystemPrompt(),
		Messages:     s.prompt.BuildMessages(history),
		Model:        s.model,
		MaxTokens:    s.maxTokens,
		Temperature:  s.temperature,
	}

	s.logger.Debug("generating response", "provider", s.provider.Name(), "messages", len(req.Messages))
	metrics.ModelRequests.Inc()
	start := time.Now()

	resp, err := s.provider.Chat(ctx, req)
	metrics.ModelLatency.ObserveSince(start)
	if err != nil {
		metrics.ModelFailures.Inc()
		s.logger.Error("model request failed", "provider", s.provider.Name(), "err", err)
		return nil, &domain.ProviderError{Provider: s.provider.Name(), Err: err}
	}

	if resp.Usage != nil {
		s.logger.Debug("tokens used",
			"prompt", resp.Usage.PromptTokens,
			"completion", resp.Usage.CompletionTokens,
		)
	}

	parsed := s.functions.Parse(resp.Content)
	if n := len(parsed.Calls); n > 0 {
		s.logger.Info("detected function calls in response", "count", n)
	}
	if n := len(parsed.Malformed); n > 0 {
		metrics.MalformedCalls.Add(int64(n))
		for _, m := range parsed.Malformed {
			s.logger.Warn("malformed function call in response", "function", m.Name, "reason", m.Reason)
		}
	}

	return &domain.Response{
		Content:       s.functions.RemoveFunctionCalls(resp.Content),
		RawContent:    resp.Content,
		FunctionCalls: parsed.Calls,
		Malformed:     parsed.Malformed,
		Usage:         resp.Usage,
	}, nil
}

// ExecuteFunctionCalls runs calls in order and returns one result line per
// call. Handlers only see identifiers taken from origin.
func (s *Service) ExecuteFunctionCalls(ctx context.Context, calls []domain.FunctionCall, origin domain.Inbound) []string {
	fctx := function.Context{
		Platform:   origin.Platform,
		ChannelID:  origin.Message.ChannelID,
		GuildID:    origin.Message.GuildID,
		MessageID:  origin.Message.ID,
		AuthorID:   origin.Message.AuthorID,
		AuthorName: origin.Message.Author,
		Bot:        origin.Bot,
	}

	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		res := s.functions.ExecuteFunction(ctx, call.Name, fctx, call.Args)
		lines = append(lines, FormatResult(call.Name, res))
	}
	return lines
}

// ReportMalformed renders rejected call blocks as failure lines so the model
// sees them on its next turn.
func (s *Service) ReportMalformed(malformed []domain.MalformedCall) []string {
	lines := make([]string, 0, len(malformed))
	for _, m := range malformed {
		name := m.Name
		if name == "" {
			name = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[FUNCTION: %s failed - malformed call: %s]", name, m.Reason))
	}
	return lines
}

// FormatResult renders a function result the way it is stored in memory.
func FormatResult(name string, res domain.FunctionResult) string {
	if res.Success {
		return fmt.Sprintf("[FUNCTION: %s - %s]", name, res.Message)
	}
	return fmt.Sprintf("[FUNCTION: %s failed - %s]", name, res.Message)
}
