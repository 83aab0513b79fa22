package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"moebot/internal/ai"
	"moebot/internal/bus"
	"moebot/internal/config"
	"moebot/internal/domain"
	"moebot/internal/filter"
	"moebot/internal/function"
	"moebot/internal/handler"
	"moebot/internal/memory"
	"moebot/internal/prompt"
	"moebot/internal/provider"
)

const busBufferSize = 100

// pipeline is everything between the platform adapters and the model.
type pipeline struct {
	bus        *bus.InMemoryBus
	store      *memory.SQLiteStore
	dispatcher *handler.Dispatcher
	botName    string
}

func (p *pipeline) close() {
	p.bus.Close()
	if err := p.store.Close(); err != nil {
		logger.Warn("close memory store", "err", err)
	}
}

// buildPipeline wires memory, functions, prompt, provider, filter and the
// dispatcher. messengers are the platforms send_dm can reach.
func buildPipeline(ctx context.Context, cfg *config.Config, messengers map[string]domain.DirectMessenger) (*pipeline, error) {
	store, err := memory.NewSQLiteStore(memory.StoreConfig{
		Path:        cfg.Memory.DBPath,
		MaxMessages: cfg.Memory.MaxMessages,
		MaxAge:      time.Duration(cfg.Memory.MaxAgeHours) * time.Hour,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	if days := cfg.Memory.RetentionDays; days > 0 {
		if _, err := store.Prune(ctx, time.Now().AddDate(0, 0, -days)); err != nil {
			logger.Warn("prune failed", "err", err)
		}
	}

	p, err := assemble(cfg, store, messengers)
	if err != nil {
		store.Close()
		return nil, err
	}
	return p, nil
}

func assemble(cfg *config.Config, store *memory.SQLiteStore, messengers map[string]domain.DirectMessenger) (*pipeline, error) {
	persona, err := resolvePersona(cfg.Bot)
	if err != nil {
		return nil, err
	}

	functions := function.NewRegistry(logger)
	if err := functions.RegisterAll(
		function.NewSendDM(messengers, store, logger),
		function.NewCurrentTime(nil),
	); err != nil {
		return nil, fmt.Errorf("function registry: %w", err)
	}

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.Build()
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	model, maxTokens, temperature := factory.Settings(cfg.General.DefaultProvider)

	service := ai.NewService(ai.ServiceConfig{
		Provider:    prov,
		Prompt:      prompt.NewBuilder(persona, functions),
		Functions:   functions,
		Logger:      logger,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	logger.Info("model ready",
		"bot", service.BotName(),
		"provider", service.ProviderName(),
		"model", model,
		"functions", functions.Names(),
	)

	interposer, err := buildFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	messageBus := bus.New(busBufferSize, logger)
	h := handler.New(handler.Config{
		AI:          service,
		Memory:      store,
		Filter:      interposer,
		Logger:      logger,
		TurnTimeout: time.Duration(cfg.General.TurnTimeoutSeconds) * time.Second,
	})
	d := handler.NewDispatcher(handler.DispatcherConfig{
		Bus:         messageBus,
		Handler:     h,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	return &pipeline{
		bus:        messageBus,
		store:      store,
		dispatcher: d,
		botName:    service.BotName(),
	}, nil
}

// resolvePersona layers the persona file over the built-in persona, then
// applies inline config fields that were changed from the built-in values.
func resolvePersona(bc config.BotConfig) (prompt.Persona, error) {
	base := config.Defaults().Bot.Persona
	if bc.PersonaFile == "" {
		return base.Overlay(bc.Persona), nil
	}
	file, err := prompt.LoadPersonaFile(bc.PersonaFile)
	if err != nil {
		return prompt.Persona{}, err
	}
	return base.Overlay(file).Overlay(changedFrom(base, bc.Persona)), nil
}

// changedFrom keeps only the fields of p that differ from base.
func changedFrom(base, p prompt.Persona) prompt.Persona {
	var out prompt.Persona
	if p.Name != base.Name {
		out.Name = p.Name
	}
	if p.Template != base.Template {
		out.Template = p.Template
	}
	if p.Description != base.Description {
		out.Description = p.Description
	}
	if p.Rules != base.Rules {
		out.Rules = p.Rules
	}
	if p.Examples != base.Examples {
		out.Examples = p.Examples
	}
	if p.Context != base.Context {
		out.Context = p.Context
	}
	out.Priming = p.Priming && !base.Priming
	out.Exchanges = p.Exchanges
	return out
}

// buildFilter returns nil when filtering is disabled.
func buildFilter(fc config.FilterConfig) (*filter.Interposer, error) {
	if !fc.Enabled {
		return nil, nil
	}
	words := append([]string(nil), fc.Words...)
	if fc.WordsFile != "" {
		more, err := filter.LoadWordsFile(fc.WordsFile)
		if err != nil {
			return nil, err
		}
		words = append(words, more...)
	}
	list, err := filter.NewWordList(words, filter.Mode(fc.Mode))
	if err != nil {
		return nil, fmt.Errorf("word filter: %w", err)
	}
	logger.Info("word filter enabled", "words", len(words), "mode", fc.Mode)
	return filter.NewInterposer(list, logger), nil
}

// setupLogger replaces the global logger with one at the configured level,
// teeing into the log file when one is set.
func setupLogger(gc config.GeneralConfig) (func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(gc.LogLevel)}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
