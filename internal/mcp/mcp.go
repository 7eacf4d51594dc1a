// Package mcp provides an MCP (Model Context Protocol) client bridge that
// discovers tools from external MCP servers and adapts them into character
// function declarations. Tool calls the model emits against those functions
// can be executed back through the bridge.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/config"
)

// ErrUnknownTool is returned by Call for names no discovery produced.
var ErrUnknownTool = errors.New("unknown tool")

// toolCaller is the slice of the MCP client the bridge needs at call time.
type toolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// boundTool is a discovered tool and the client connection that serves it.
type boundTool struct {
	client       toolCaller
	serverName   string
	originalName string
}

// Bridge manages MCP client connections and exposes discovered tools as
// character functions. Function names are namespaced "mcp__<server>__<tool>"
// so two servers can expose the same tool name.
type Bridge struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients []mcpclient.MCPClient
	tools   map[string]boundTool
}

// NewBridge creates a bridge that will manage MCP server connections.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger: logger,
		tools:  make(map[string]boundTool),
	}
}

// ConnectAndDiscover connects to one MCP server, performs the initialization
// handshake, discovers tools, and returns function declarations ready to
// merge into a character definition.
func (b *Bridge) ConnectAndDiscover(ctx context.Context, cfg config.MCPServerConfig) ([]character.Function, error) {
	c, err := b.createClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}

	// Initialize handshake.
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "character-sdk",
		Version: "0.0.1",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}

	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()

	// Discover tools.
	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}

	funcs := make([]character.Function, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		name := fmt.Sprintf("mcp__%s__%s", cfg.Name, t.Name)
		params, ok := convertParameters(t.InputSchema)
		if !ok {
			// Function declarations carry flat primitive parameters only;
			// tools with nested or non-primitive schemas are skipped.
			b.logger.Warn("mcp tool schema not representable, skipping",
				slog.String("server", cfg.Name),
				slog.String("tool", t.Name),
			)
			continue
		}

		funcs = append(funcs, character.Function{
			Name:        name,
			Description: fmt.Sprintf("[MCP:%s] %s", cfg.Name, t.Description),
			Parameters:  params,
		})

		b.mu.Lock()
		b.tools[name] = boundTool{client: c, serverName: cfg.Name, originalName: t.Name}
		b.mu.Unlock()
	}

	b.logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(funcs)),
	)

	return funcs, nil
}

// Call executes a discovered tool by its namespaced function name and
// returns the tool output as text. Names no discovery produced return
// ErrUnknownTool.
func (b *Bridge) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	b.mu.RLock()
	bound, ok := b.tools[name]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	b.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", bound.serverName),
		slog.String("tool", bound.originalName),
	)

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = bound.originalName
	callReq.Params.Arguments = args

	callResult, err := bound.client.CallTool(ctx, callReq)
	if err != nil {
		return "", fmt.Errorf("MCP call to %s/%s failed: %w", bound.serverName, bound.originalName, err)
	}
	if callResult.IsError {
		return "", fmt.Errorf("MCP tool %s reported an error", name)
	}

	return formatContent(callResult.Content), nil
}

// Close shuts down all MCP client connections.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
	b.clients = nil
}

// createClient creates the appropriate MCP client based on transport type.
func (b *Bridge) createClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := expandEnvSlice(cfg.Env)
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnvMap(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnvMap(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// convertParameters flattens an MCP tool input schema into primitive
// parameter declarations. Returns false when the schema cannot be
// represented (nested objects, arrays, unions).
func convertParameters(schema mcp.ToolInputSchema) ([]character.Parameter, bool) {
	params := make([]character.Parameter, 0, len(schema.Properties))
	for name, raw := range schema.Properties {
		prop, ok := raw.(map[string]any)
		if !ok {
			return nil, false
		}

		typ, ok := primitiveType(prop["type"])
		if !ok {
			return nil, false
		}

		desc, _ := prop["description"].(string)
		params = append(params, character.Parameter{
			Name:        name,
			Description: desc,
			Type:        typ,
		})
	}
	return params, true
}

func primitiveType(v any) (character.ParameterType, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch s {
	case "string":
		return character.TypeString, true
	case "number", "integer":
		return character.TypeNumber, true
	case "boolean":
		return character.TypeBoolean, true
	default:
		return "", false
	}
}

// formatContent converts MCP content items to a single string.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		} else {
			// For non-text content (image, audio, resource), serialize as JSON.
			data, _ := json.Marshal(c)
			sb.WriteString(string(data))
		}
	}
	return sb.String()
}

// expandEnvSlice converts a map of key→value to a []string of "KEY=expanded_value".
func expandEnvSlice(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// expandEnvMap returns a new map with values expanded via os.ExpandEnv.
func expandEnvMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
