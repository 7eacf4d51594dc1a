package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
)

// ToolDefinitions converts a character's declared functions into the
// provider tool schema: one definition per function, object-typed parameters
// keyed by parameter name with the declared primitive type.
func ToolDefinitions(functions []character.Function) []ToolDefinition {
	if len(functions) == 0 {
		return nil
	}

	defs := make([]ToolDefinition, 0, len(functions))
	for _, fn := range functions {
		properties := make(map[string]any, len(fn.Parameters))
		for _, p := range fn.Parameters {
			properties[p.Name] = map[string]any{
				"type":        string(p.Type),
				"description": p.Description,
			}
		}
		defs = append(defs, ToolDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": properties,
			},
		})
	}
	return defs
}

// NormalizeToolCalls converts provider-shaped tool invocations into the
// generic {name, parameters} form, parsing serialized argument payloads
// where needed.
//
// A call whose arguments fail to parse is dropped and logged; one malformed
// call never fails the batch.
func NormalizeToolCalls(raw []RawToolCall, logger *slog.Logger) []ToolCall {
	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		params, err := rc.parameters()
		if err != nil {
			logger.Warn("dropping malformed tool call",
				slog.String("function", rc.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		calls = append(calls, ToolCall{Name: rc.Name, Parameters: params})
	}
	return calls
}

func (rc *RawToolCall) parameters() (map[string]any, error) {
	if rc.Arguments != nil {
		return rc.Arguments, nil
	}
	if rc.ArgumentsJSON == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(rc.ArgumentsJSON), &params); err != nil {
		return nil, fmt.Errorf("parsing tool call arguments: %w", err)
	}
	return params, nil
}
