package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/config"
	"github.com/capitalize-ai/lead-fleet/internal/ipc"
	"github.com/capitalize-ai/lead-fleet/internal/lead"
	"github.com/capitalize-ai/lead-fleet/internal/llm"
	"github.com/capitalize-ai/lead-fleet/internal/messaging"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/internal/worker"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// runWorker serves one bot. Stdout carries the IPC stream, so all logging
// goes to stderr.
func runWorker(ctx context.Context, cfg *config.Config) error {
	base, err := logger.NewWithOutput(cfg.LogLevel, "stderr")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer base.Sync()
	log := base.ForBot(os.Getenv("FLEET_BOT_ID")).With(zap.Int("pid", os.Getpid()))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	extractor, replier, err := newCapabilities(cfg, log)
	if err != nil {
		return err
	}

	ch := ipc.NewChannel(os.Stdin, os.Stdout, os.Stdout)
	defer ch.Close()

	w := worker.New(ch, worker.Deps{
		Network: func(bot model.BotConfig) (messaging.Network, error) {
			if bot.ChannelToken == "" {
				return nil, errors.New("bot has no channel token")
			}
			return messaging.NewTelegram(bot.ChannelToken, cfg.TelegramEndpoint, log), nil
		},
		Engine: func(bot model.BotConfig) (worker.Engine, error) {
			return lead.NewEngine(bot, st, extractor, replier, lead.Options{
				HistoryWindow: cfg.HistoryWindow,
				Timeout:       cfg.LLMTimeout,
			}, log), nil
		},
	}, log)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped", zap.Error(err))
		return err
	}
	log.Info("worker stopped")
	return nil
}

// newCapabilities builds the LLM-backed extractor and replier. Without an
// API key both are nil and the engine falls back to follow-up questions.
func newCapabilities(cfg *config.Config, log *logger.Logger) (lead.Extractor, lead.Replier, error) {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic {
		key = cfg.AnthropicAPIKey
	}

	client, err := llm.NewClient(llm.Options{
		Provider: provider,
		APIKey:   key,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.LLMModel,
	})
	if errors.Is(err, llm.ErrNotConfigured) {
		log.Warn("no LLM configured, extraction and contextual replies disabled", zap.String("provider", string(provider)))
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	log.Info("LLM configured", zap.String("provider", client.Name()))
	return lead.NewLLMExtractor(client), lead.NewLLMReplier(client), nil
}
