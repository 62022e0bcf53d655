package main

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/sam-ai/internal/chat"
	"github.com/RichardoC/sam-ai/internal/config"
	"github.com/RichardoC/sam-ai/internal/db"
	"github.com/RichardoC/sam-ai/internal/llm"
	"github.com/RichardoC/sam-ai/internal/logging"
	"github.com/RichardoC/sam-ai/internal/prompt"
)

// app holds what every subcommand needs: config, logger and the open store.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	database *db.Database
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Debug = true
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	database, err := db.New(ctx, cfg.DatabasePath,
		db.WithLogger(logger),
		db.WithTimeout(cfg.StoreTimeout),
		db.WithMaxTurnsPerSession(cfg.Retention.MaxTurns),
	)
	if err != nil {
		logger.Error("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DatabasePath))
		_ = logger.Sync()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, database: database}, nil
}

// relay wires the prompt builder and generator in front of the store. A model
// that cannot be constructed leaves the relay running in unavailable mode.
func (a *app) relay(ctx context.Context) (*chat.Relay, error) {
	persona, err := prompt.LoadPersona(a.cfg.Chat.PersonaPath)
	if err != nil {
		return nil, err
	}

	promptOpts := []prompt.Option{prompt.WithAssistantName(a.cfg.Chat.AssistantName)}
	if a.cfg.Chat.MaxPromptTokens > 0 {
		var counter prompt.TokenCounter = prompt.ApproxCounter{}
		tk, err := prompt.NewTiktokenCounter(prompt.DefaultEncoding)
		if err != nil {
			a.logger.Warn("tiktoken unavailable, approximating token counts", zap.Error(err))
		} else {
			counter = tk
		}
		promptOpts = append(promptOpts, prompt.WithTokenBudget(a.cfg.Chat.MaxPromptTokens, counter))
	}
	builder, err := prompt.NewBuilder(persona, promptOpts...)
	if err != nil {
		return nil, err
	}

	var generator chat.Generator
	service, err := llm.New(ctx, a.cfg.LLM.ServiceConfig(), a.logger.Named("llm"))
	if err != nil {
		a.logger.Error("failed to initialize LLM service",
			zap.Error(err),
			zap.String("provider", a.cfg.LLM.Provider),
			zap.String("model", a.cfg.LLM.Model))
		generator = llm.Unavailable{Err: err}
	} else {
		a.logger.Info("LLM service ready",
			zap.String("provider", a.cfg.LLM.Provider),
			zap.String("model", a.cfg.LLM.Model))
		generator = service
	}

	return chat.NewRelay(a.database, generator, builder, a.logger.Named("chat"), chat.Config{
		ContextTurns: a.cfg.Chat.ContextTurns,
		HistoryLimit: a.cfg.Chat.HistoryLimit,
		Provider:     a.cfg.Chat.Provider,
	})
}

func (a *app) Close() error {
	err := a.database.Close()
	// Sync fails on non-syncable stderr; that is not worth reporting.
	_ = a.logger.Sync()
	return err
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()
	return fn(a)
}
