package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/stealth-studios/sdk-framework-basic/internal/config"
	"github.com/stealth-studios/sdk-framework-basic/internal/gateway"
	"github.com/stealth-studios/sdk-framework-basic/internal/gateway/httpapi"
	"github.com/stealth-studios/sdk-framework-basic/internal/gateway/ws"
	"github.com/stealth-studios/sdk-framework-basic/internal/ratelimit"
	"github.com/stealth-studios/sdk-framework-basic/internal/scheduler"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversation server (HTTP, WebSocket)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `sdk --config path` and `sdk serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts the conversation server.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SDK_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting conversation server", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Idle janitor (optional).
	if ttl := cfg.Chat.IdleTTL(); ttl > 0 {
		var janMetrics *scheduler.Metrics
		if sc.Obs != nil && sc.Obs.Metrics != nil {
			janMetrics = scheduler.NewMetrics(sc.Obs.Metrics.Registry)
		}
		janitor := scheduler.NewJanitor(sc.Engine, ttl, cfg.Chat.SweepSchedule(), janMetrics, logger)
		if err := janitor.Start(ctx); err != nil {
			return fmt.Errorf("starting idle janitor: %w", err)
		}
		defer janitor.Stop()
	}

	// Build enabled gateways.
	gateways := buildGateways(cfg, sc)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildGateways creates all enabled gateways from config.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gws []gateway.Gateway
	gwCfg := cfg.Gateways

	// Default to the HTTP gateway when no gateways section is configured.
	if gwCfg.HTTP == nil && gwCfg.WebSocket == nil {
		gwCfg.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		sc.Logger.Debug("gateway defaulted", slog.String("type", "http"))
	}

	// WebSocket chat server (mounted on the HTTP gateway, or standalone).
	var wsServer *ws.Server
	if gwCfg.WebSocket != nil && gwCfg.WebSocket.Enabled {
		wsServer = ws.NewServer(sc.Engine, gwCfg.WebSocket, sc.Logger)
	}

	// HTTP API gateway.
	var httpGW *httpapi.Gateway
	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: gwCfg.HTTP.RateLimit.RequestsPerMinute,
			BurstSize:         gwCfg.HTTP.RateLimit.BurstSize,
		})

		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIKey:         gwCfg.HTTP.APIKey,
			MaxRequestSize: gwCfg.HTTP.MaxRequestSize(),
		}
		if sc.Obs != nil {
			httpCfg.Metrics = sc.Obs.Metrics
			httpCfg.HealthChecker = sc.Obs.Health
			if sc.Obs.Metrics != nil {
				httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			}
			if sc.Obs.Tracer != nil {
				httpCfg.Tracer = sc.Obs.Tracer.Tracer()
			}
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		httpGW = httpapi.NewGateway(httpCfg, sc.Engine, limiter, sc.Logger)
		if sc.Bridge != nil {
			httpGW.WithToolExecutor(sc.Bridge)
		}
	}

	if wsServer != nil {
		wsPath := gwCfg.WebSocket.WSPath()
		if httpGW != nil {
			httpGW.WithHandler(wsPath, wsServer.Handler())
			sc.Logger.Debug("websocket chat endpoint mounted on http gateway",
				slog.String("path", wsPath),
			)
		} else {
			gws = append(gws, newStandaloneWSGateway(wsServer, ":8081", wsPath, sc.Logger))
			sc.Logger.Debug("gateway enabled",
				slog.String("type", "websocket"),
				slog.String("path", wsPath),
			)
		}
	}

	if httpGW != nil {
		gws = append(gws, httpGW)
		sc.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", gwCfg.HTTP.Addr()),
			slog.Bool("websocket", wsServer != nil),
		)
	}

	return gws
}

// standaloneWSGateway wraps a ws.Server as a gateway.Gateway for cases where
// the HTTP gateway is not enabled and the WebSocket endpoint needs its own
// HTTP listener.
type standaloneWSGateway struct {
	wsServer   *ws.Server
	addr       string
	path       string
	logger     *slog.Logger
	httpServer *http.Server
}

func newStandaloneWSGateway(wsServer *ws.Server, addr, path string, logger *slog.Logger) *standaloneWSGateway {
	return &standaloneWSGateway{
		wsServer: wsServer,
		addr:     addr,
		path:     path,
		logger:   logger,
	}
}

func (g *standaloneWSGateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.path, g.wsServer.Handler())

	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("standalone websocket gateway starting", slog.String("addr", g.addr))
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return nil
}

func (g *standaloneWSGateway) Stop(ctx context.Context) error {
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
