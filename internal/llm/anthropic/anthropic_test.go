package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request structure.
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected X-API-Key header, got %q", r.Header.Get("X-API-Key"))
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Error("expected Anthropic-Version header")
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}

		if req.Model != "claude-sonnet-4" {
			t.Errorf("expected model claude-sonnet-4, got %q", req.Model)
		}
		// System turns fold into the system field; only user/assistant remain.
		if !strings.Contains(req.System, "You are a character named Ada.") {
			t.Errorf("persona not folded into system field: %q", req.System)
		}
		if len(req.Messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "user" {
			t.Errorf("expected user role, got %q", req.Messages[0].Role)
		}

		resp := apiResponse{
			Content:    []apiContentBlock{{Type: "text", Text: "Hello!"}},
			StopReason: "end_turn",
			Usage:      apiUsage{InputTokens: 10, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a character named Ada."},
			{Role: llm.RoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content Hello!, got %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("expected stop reason end_turn, got %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestSendMessage_SystemFoldOrder(t *testing.T) {
	// Multiple system turns (persona, injected context) join in window order.
	var captured apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		resp := apiResponse{
			Content:    []apiContentBlock{{Type: "text", Text: "ok"}},
			StopReason: "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "persona"},
			{Role: llm.RoleUser, Content: "earlier turn"},
			{Role: llm.RoleSystem, Content: "Current context:\nusers: Sam"},
			{Role: llm.RoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.System != "persona\n\nCurrent context:\nusers: Sam" {
		t.Errorf("unexpected system field: %q", captured.System)
	}
	if len(captured.Messages) != 2 {
		t.Errorf("expected 2 non-system messages, got %d", len(captured.Messages))
	}
}

func TestSendMessage_ToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "getWeather" {
			t.Errorf("unexpected tools: %+v", req.Tools)
		}

		resp := apiResponse{
			Content: []apiContentBlock{
				{Type: "text", Text: "Checking."},
				{Type: "tool_use", ID: "toolu_1", Name: "getWeather", Input: map[string]any{"city": "Paris"}},
			},
			StopReason: "tool_use",
			Usage:      apiUsage{InputTokens: 20, OutputTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "weather in Paris?"}},
		Tools: []llm.ToolDefinition{{
			Name:        "getWeather",
			Description: "Look up the weather",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Checking." {
		t.Errorf("expected text content alongside tool use, got %q", resp.Content)
	}
	if !resp.HasToolUse() {
		t.Error("expected HasToolUse() to return true")
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.Name != "getWeather" || call.Arguments["city"] != "Paris" {
		t.Errorf("unexpected tool call: %+v", call)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
