package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvertParameters_FlatPrimitives(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"city":   map[string]any{"type": "string", "description": "City name"},
			"days":   map[string]any{"type": "integer"},
			"lat":    map[string]any{"type": "number"},
			"metric": map[string]any{"type": "boolean"},
		},
	}

	params, ok := convertParameters(schema)
	if !ok {
		t.Fatal("flat primitive schema should be representable")
	}
	if len(params) != 4 {
		t.Fatalf("params = %d, want 4", len(params))
	}

	byName := make(map[string]character.Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	if byName["city"].Type != character.TypeString {
		t.Errorf("city type = %q, want string", byName["city"].Type)
	}
	if byName["city"].Description != "City name" {
		t.Errorf("city description = %q", byName["city"].Description)
	}
	// Integer folds into the number parameter type.
	if byName["days"].Type != character.TypeNumber {
		t.Errorf("days type = %q, want number", byName["days"].Type)
	}
	if byName["lat"].Type != character.TypeNumber {
		t.Errorf("lat type = %q, want number", byName["lat"].Type)
	}
	if byName["metric"].Type != character.TypeBoolean {
		t.Errorf("metric type = %q, want boolean", byName["metric"].Type)
	}
}

func TestConvertParameters_RejectsNonPrimitive(t *testing.T) {
	cases := []struct {
		name  string
		props map[string]any
	}{
		{"nested object", map[string]any{"cfg": map[string]any{"type": "object"}}},
		{"array", map[string]any{"items": map[string]any{"type": "array"}}},
		{"missing type", map[string]any{"x": map[string]any{"description": "no type"}}},
		{"non-map property", map[string]any{"x": "string"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := convertParameters(mcp.ToolInputSchema{Type: "object", Properties: tc.props})
			if ok {
				t.Error("schema should not be representable")
			}
		})
	}
}

func TestConvertParameters_NoProperties(t *testing.T) {
	params, ok := convertParameters(mcp.ToolInputSchema{Type: "object"})
	if !ok {
		t.Fatal("empty schema should be representable")
	}
	if len(params) != 0 {
		t.Errorf("params = %d, want 0", len(params))
	}
}

type fakeCaller struct {
	lastReq mcp.CallToolRequest
	result  *mcp.CallToolResult
	err     error
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func TestCall_ExecutesBoundTool(t *testing.T) {
	b := NewBridge(testLogger())
	fake := &fakeCaller{result: mcp.NewToolResultText("sunny, 21C")}
	b.tools["mcp__weather__getForecast"] = boundTool{
		client:       fake,
		serverName:   "weather",
		originalName: "getForecast",
	}

	out, err := b.Call(context.Background(), "mcp__weather__getForecast", map[string]any{"city": "Paris"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out != "sunny, 21C" {
		t.Errorf("output = %q, want sunny, 21C", out)
	}
	// The server sees the original tool name, not the namespaced one.
	if fake.lastReq.Params.Name != "getForecast" {
		t.Errorf("called tool = %q, want getForecast", fake.lastReq.Params.Name)
	}
}

func TestCall_UnknownTool(t *testing.T) {
	b := NewBridge(testLogger())

	_, err := b.Call(context.Background(), "mcp__none__missing", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}

func TestCall_ToolReportsError(t *testing.T) {
	b := NewBridge(testLogger())
	b.tools["mcp__weather__getForecast"] = boundTool{
		client:       &fakeCaller{result: mcp.NewToolResultError("upstream down")},
		serverName:   "weather",
		originalName: "getForecast",
	}

	if _, err := b.Call(context.Background(), "mcp__weather__getForecast", nil); err == nil {
		t.Error("expected error for IsError result")
	}
}

func TestCall_TransportFailure(t *testing.T) {
	b := NewBridge(testLogger())
	b.tools["mcp__weather__getForecast"] = boundTool{
		client:       &fakeCaller{err: errors.New("connection reset")},
		serverName:   "weather",
		originalName: "getForecast",
	}

	if _, err := b.Call(context.Background(), "mcp__weather__getForecast", nil); err == nil {
		t.Error("expected error for transport failure")
	}
}
