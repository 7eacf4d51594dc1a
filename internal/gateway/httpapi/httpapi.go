// Package httpapi exposes the conversation engine over HTTP.
//
// Security:
//   - Optional API key authentication (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/observability"
	"github.com/stealth-studios/sdk-framework-basic/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKey         string // Bearer key. Empty = authentication disabled.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry         // Custom Prometheus registry for /metrics.
	MetricsPath     string                       // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker // Health checker for /readyz endpoint.
	Metrics         *observability.Metrics       // Metrics recorder for HTTP middleware.
	Tracer          trace.Tracer                 // OTel tracer for HTTP middleware.
}

// ToolExecutor runs a namespaced tool call against its backing server.
// Satisfied by *mcp.Bridge.
type ToolExecutor interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	engine  *chat.Engine
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	tools   ToolExecutor // nil = no tool servers configured.

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket chat endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway over the conversation engine.
func NewGateway(cfg Config, engine *chat.Engine, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		engine:  engine,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithOpenAPIDocs enables the interactive OpenAPI documentation UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Character SDK",
			Version: "v0.0.1",
		},
	)
	return g
}

// WithToolExecutor enables the tool execution endpoint, letting API clients
// run the tool calls the model emits without their own server connections.
func (g *Gateway) WithToolExecutor(exec ToolExecutor) *Gateway {
	g.tools = exec
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Used to serve the WebSocket chat endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group with metrics/tracing middleware.
	g.group = g.okapi.Group("/v1",
		observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		g.authenticate,
	)

	// Character endpoints.
	g.group.Post("/characters", g.handleCharacterCreate,
		okapi.DocSummary("Register a character, returning its content hash"),
		okapi.DocTags("Characters"),
		okapi.DocRequestBody(CharacterRequest{}),
		okapi.DocResponse(http.StatusCreated, CharacterResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/characters/{hash}", g.handleCharacterGet,
		okapi.DocSummary("Fetch a character by content hash"),
		okapi.DocTags("Characters"),
		okapi.DocPathParam("hash", "string", "Character content hash"),
		okapi.DocResponse(CharacterRequest{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Conversation endpoints.
	g.group.Post("/conversations", g.handleConversationCreate,
		okapi.DocSummary("Open a conversation between a character and users"),
		okapi.DocTags("Conversations"),
		okapi.DocRequestBody(ConversationCreateRequest{}),
		okapi.DocResponse(http.StatusCreated, ConversationResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/conversations", g.handleConversationGet,
		okapi.DocSummary("Look up a conversation by id, secret, or persistence token"),
		okapi.DocTags("Conversations"),
		okapi.DocResponse(ConversationResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/conversations/{id}/send", g.handleSend,
		okapi.DocSummary("Send a user message to the conversation's character"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID"),
		okapi.DocRequestBody(SendRequest{}),
		okapi.DocResponse(chat.SendResult{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, BusyBody{}),
	)
	g.group.Post("/conversations/{id}/character", g.handleSetCharacter,
		okapi.DocSummary("Swap the conversation's character"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID"),
		okapi.DocRequestBody(SetCharacterRequest{}),
		okapi.DocResponse(ConversationResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, BusyBody{}),
	)
	g.group.Post("/conversations/{id}/users", g.handleSetUsers,
		okapi.DocSummary("Replace the conversation's participant set"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID"),
		okapi.DocRequestBody(SetUsersRequest{}),
		okapi.DocResponse(ConversationResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, BusyBody{}),
	)
	g.group.Post("/conversations/{id}/finish", g.handleFinish,
		okapi.DocSummary("Finish a conversation"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	// Tool execution endpoint, mounted only when an executor is wired.
	if g.tools != nil {
		g.group.Post("/tools/call", g.handleToolCall,
			okapi.DocSummary("Execute a discovered tool call server-side"),
			okapi.DocTags("Tools"),
			okapi.DocRequestBody(ToolCallRequest{}),
			okapi.DocResponse(ToolCallResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Extra handlers (e.g., WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Authentication ---

// authenticate validates the bearer API key. When no key is configured the
// gateway runs open (local development).
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIKey == "" {
			return next(c)
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.config.APIKey)) != 1 {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}

// allow consumes a rate limit token for the given bucket key.
func (g *Gateway) allow(c *okapi.Context, key string) error {
	if g.limiter == nil {
		return nil
	}
	if key == "" {
		key = "anonymous"
	}
	if err := g.limiter.Allow(key); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}
