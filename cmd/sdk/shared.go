package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/config"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm/anthropic"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm/gemini"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm/openai"
	"github.com/stealth-studios/sdk-framework-basic/internal/mcp"
	"github.com/stealth-studios/sdk-framework-basic/internal/observability"
	"github.com/stealth-studios/sdk-framework-basic/internal/storage"
)

// SharedComponents holds all initialized subsystems the server requires.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Obs      *observability.Observability
	Provider llm.Provider
	Store    *storage.Handle
	Engine   *chat.Engine
	Bridge   *mcp.Bridge // nil = no MCP servers configured.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization: data directory,
// observability, model provider, storage, MCP bridge, and the engine.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Model provider.
	provider, err := newProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing model provider: %w", err)
	}
	sc.Provider = provider
	logger.Debug("model provider initialized", slog.String("provider", provider.Name()))

	// Storage.
	store, err := storage.Open(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	logger.Debug("storage initialized", slog.String("driver", cfg.StorageDriverName()))

	// MCP tool servers.
	var extraFuncs []character.Function
	if len(cfg.MCP) > 0 {
		bridge := mcp.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, mcpCfg := range cfg.MCP {
			funcs, mcpErr := bridge.ConnectAndDiscover(mcpCtx, mcpCfg)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			extraFuncs = append(extraFuncs, funcs...)
		}
		mcpCancel()
		sc.Bridge = bridge
		sc.addCleanup(bridge.Close)
		logger.Debug("mcp bridge initialized", slog.Int("functions", len(extraFuncs)))
	}

	// Engine.
	opts := []chat.Option{
		chat.WithMemorySize(cfg.Chat.WindowSize()),
		chat.WithMaxTokens(cfg.Chat.MaxTokens),
		chat.WithFinishGrace(cfg.Chat.FinishGrace()),
	}
	if len(extraFuncs) > 0 {
		opts = append(opts, chat.WithExtraFunctions(extraFuncs))
	}
	if obs != nil {
		if obs.Metrics != nil {
			opts = append(opts, chat.WithMetrics(obs.Metrics))
		}
		if tracer := obs.TracerOrNil(); tracer != nil {
			opts = append(opts, chat.WithTracer(tracer.Tracer()))
		}
	}
	sc.Engine = chat.NewEngine(store.Store, provider, logger, opts...)

	// Health checks.
	if obs != nil && obs.Health != nil && store.Ping != nil {
		obs.Health.AddCheck("store", store.Ping)
	}

	return sc, nil
}

// newProvider creates the model provider based on the configured default.
func newProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch cfg.Providers.Default {
	case "anthropic", "":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "gemini":
		var opts []gemini.Option
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(
			cfg.Providers.Gemini.APIKey,
			cfg.Providers.Gemini.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Providers.Default)
	}
}
