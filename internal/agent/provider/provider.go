// Package provider is the boundary between the agent loop and model backends.
//
// A conversation is an ordered slice of Messages. Tool calls emitted by the
// model carry an ID that the matching tool-result message echoes back in
// ToolCallID; backends translate that correlation into their wire format.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role is the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID, ToolName and IsError are set on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage reports token consumption of a single call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a single model reply.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// Provider sends a conversation plus the available tools to a model.
type Provider interface {
	Chat(ctx context.Context, conversation []Message, tools []ToolDefinition) (*Response, error)

	// Name returns the backend name (e.g. "anthropic").
	Name() string

	// Model returns the model identifier.
	Model() string
}

// Config contains settings shared by the backends.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 4096,
	}
}

func (c Config) withDefaults(model string) Config {
	if c.Model == "" {
		c.Model = model
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultConfig().MaxTokens
	}
	return c
}

// SplitSystem separates leading system messages from the rest.
func SplitSystem(conversation []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

// normalizeArgs returns raw, or "{}" when it is empty.
func normalizeArgs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// New builds a Provider by backend name.
func New(ctx context.Context, backend string, cfg Config, scenarioFile string) (Provider, error) {
	switch backend {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	case "scripted":
		scenario, err := LoadScenario(scenarioFile)
		if err != nil {
			return nil, err
		}
		return NewScriptedProvider(scenario), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", backend)
}
