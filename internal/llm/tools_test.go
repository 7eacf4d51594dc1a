package llm

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToolDefinitions(t *testing.T) {
	defs := ToolDefinitions([]character.Function{{
		Name:        "getWeather",
		Description: "Look up the weather",
		Parameters: []character.Parameter{
			{Name: "city", Description: "City name", Type: character.TypeString},
			{Name: "celsius", Description: "Use metric units", Type: character.TypeBoolean},
		},
	}})

	if len(defs) != 1 {
		t.Fatalf("len(defs) = %d, want 1", len(defs))
	}
	def := defs[0]
	if def.Name != "getWeather" || def.Description != "Look up the weather" {
		t.Errorf("definition = %+v", def)
	}
	if def.InputSchema["type"] != "object" {
		t.Errorf("schema type = %v, want object", def.InputSchema["type"])
	}

	props, ok := def.InputSchema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties has type %T", def.InputSchema["properties"])
	}
	city, ok := props["city"].(map[string]any)
	if !ok {
		t.Fatalf("city property missing: %v", props)
	}
	if city["type"] != "string" || city["description"] != "City name" {
		t.Errorf("city property = %v", city)
	}
	if celsius := props["celsius"].(map[string]any); celsius["type"] != "boolean" {
		t.Errorf("celsius property = %v", celsius)
	}
}

func TestToolDefinitions_Empty(t *testing.T) {
	if defs := ToolDefinitions(nil); defs != nil {
		t.Errorf("ToolDefinitions(nil) = %v, want nil", defs)
	}
}

func TestNormalizeToolCalls(t *testing.T) {
	raw := []RawToolCall{
		{Name: "getWeather", Arguments: map[string]any{"city": "Paris"}},
		{Name: "setAlarm", ArgumentsJSON: `{"hour": 7}`},
		{Name: "noArgs"},
	}

	calls := NormalizeToolCalls(raw, testLogger())
	if len(calls) != 3 {
		t.Fatalf("len(calls) = %d, want 3", len(calls))
	}
	if calls[0].Name != "getWeather" || calls[0].Parameters["city"] != "Paris" {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].Parameters["hour"] != float64(7) {
		t.Errorf("calls[1] parameters = %v", calls[1].Parameters)
	}
	if calls[2].Parameters == nil || len(calls[2].Parameters) != 0 {
		t.Errorf("calls[2] parameters = %v, want empty map", calls[2].Parameters)
	}
}

func TestNormalizeToolCalls_DropsMalformed(t *testing.T) {
	raw := []RawToolCall{
		{Name: "bad", ArgumentsJSON: `{not json`},
		{Name: "good", ArgumentsJSON: `{"x": 1}`},
	}

	calls := NormalizeToolCalls(raw, testLogger())
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].Name != "good" {
		t.Errorf("surviving call = %+v", calls[0])
	}
}

func TestResponse_HasToolUse(t *testing.T) {
	if (&Response{}).HasToolUse() {
		t.Error("empty response should not report tool use")
	}
	r := &Response{ToolCalls: []RawToolCall{{Name: "x"}}}
	if !r.HasToolUse() {
		t.Error("response with calls should report tool use")
	}
}
