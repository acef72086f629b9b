// Package tools exposes every engine operation through a uniform tool-call
// contract. A call names a tool, passes a flat argument map, and receives a
// single text content block whose text is the JSON-serialized result.
// Handler failures are carried inside the envelope as {"error": message},
// never as transport-level failures.
package tools

import (
	"context"
	"fmt"
)

// Actor identifies the already-authenticated caller. The engine performs
// no authentication itself; callers supply the identity.
type Actor struct {
	ID   string
	Type string // agent or human
}

// Property describes one parameter in a tool's input schema.
//
//nolint:govet // struct alignment optimization not critical for this type
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// InputSchema defines a tool's parameters in JSON Schema form.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition describes one callable tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ExecFunc runs a tool. The returned value is JSON-serialized into the
// response envelope.
type ExecFunc func(ctx context.Context, args map[string]any, actor Actor) (any, error)

// Tool pairs a definition with its executor.
type Tool struct {
	Definition ToolDefinition
	Exec       ExecFunc
}

// ContentBlock is one element of a tool response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the tool-call envelope. Content always holds exactly one text
// block.
type Result struct {
	Content []ContentBlock `json:"content"`
}

// Argument extraction helpers. Missing optional arguments yield zero
// values; type mismatches surface as errors naming the parameter.

func strArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	return s, nil
}

func floatArg(args map[string]any, key string) (float64, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %s must be a number", key)
	}
}

func intArg(args map[string]any, key string) (int, error) {
	f, err := floatArg(args, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func boolArg(args map[string]any, key string) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s must be a boolean", key)
	}
	return b, nil
}

func strSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s must be an array of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s must be an array of strings", key)
	}
}

func mapArg(args map[string]any, key string) (map[string]any, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %s must be an object", key)
	}
	return m, nil
}
