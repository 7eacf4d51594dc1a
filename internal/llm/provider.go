// Package llm defines the provider-agnostic interface for model backends.
package llm

import "context"

// Provider is the abstraction over any model backend (Anthropic, OpenAI, etc.).
type Provider interface {
	// SendMessage sends an assembled conversation window to the model and
	// returns its normalized response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a full conversation window sent to the model.
//
// System-role messages may appear anywhere in Messages (the persona prompt
// leads, injected-context turns follow history); providers that keep system
// text out of the message list fold them into their native system field.
type Request struct {
	Messages  []Message
	MaxTokens int
	Tools     []ToolDefinition // nil = no tool use
}

// ToolDefinition describes a callable function the model may invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a normalized model request to invoke a declared function.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// RawToolCall is a provider-shaped tool invocation before normalization.
// Exactly one of Arguments (parsed) or ArgumentsJSON (serialized) is set,
// depending on what the provider's wire format carries.
type RawToolCall struct {
	Name          string
	Arguments     map[string]any
	ArgumentsJSON string
}

// Response is the normalized model reply.
type Response struct {
	Content    string // Concatenated text content.
	ToolCalls  []RawToolCall
	Usage      Usage
	StopReason string // "end_turn", "tool_use", "max_tokens"
}

// HasToolUse returns true if the model requested function execution.
func (r *Response) HasToolUse() bool {
	return len(r.ToolCalls) > 0
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
