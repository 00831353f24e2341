package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrScenarioExhausted is returned when a scripted provider runs out of steps.
var ErrScenarioExhausted = errors.New("scripted scenario has no more steps")

// Scenario is a scripted sequence of model replies loaded from YAML. It backs
// --provider scripted and the agent tests.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Steps       []ScenarioStep `yaml:"steps"`

	// RepeatLast replays the final step forever instead of failing.
	RepeatLast bool `yaml:"repeat_last,omitempty"`
}

// ScenarioStep is one model reply.
type ScenarioStep struct {
	Text      string         `yaml:"text,omitempty"`
	ToolCalls []ScriptedCall `yaml:"tool_calls,omitempty"`
	// Error makes the call fail with this message.
	Error string `yaml:"error,omitempty"`
}

// ScriptedCall is a tool call the scripted model emits.
type ScriptedCall struct {
	// ID defaults to call_<step>_<index>.
	ID   string                 `yaml:"id,omitempty"`
	Name string                 `yaml:"name"`
	Args map[string]interface{} `yaml:"args,omitempty"`
	// RawArgs is sent verbatim instead of Args.
	RawArgs string `yaml:"raw_args,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	// #nosec G304 -- scenario path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Validate checks that the scenario is usable.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario must have at least one step")
	}
	for i, step := range s.Steps {
		if step.Text == "" && len(step.ToolCalls) == 0 && step.Error == "" {
			return fmt.Errorf("step[%d]: must have text, tool_calls or error", i)
		}
	}
	return nil
}

// ScriptedProvider replays a Scenario. It records every conversation it is
// sent so tests can inspect what the loop produced.
type ScriptedProvider struct {
	scenario *Scenario

	mu       sync.Mutex
	next     int
	received [][]Message
	tools    [][]ToolDefinition
}

// NewScriptedProvider creates a provider for scenario.
func NewScriptedProvider(scenario *Scenario) *ScriptedProvider {
	return &ScriptedProvider{scenario: scenario}
}

func (p *ScriptedProvider) Name() string  { return "scripted" }
func (p *ScriptedProvider) Model() string { return p.scenario.Name }

// Chat returns the next scripted step.
func (p *ScriptedProvider) Chat(ctx context.Context, conversation []Message, tools []ToolDefinition) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.received = append(p.received, append([]Message(nil), conversation...))
	p.tools = append(p.tools, append([]ToolDefinition(nil), tools...))

	idx := p.next
	if idx >= len(p.scenario.Steps) {
		if !p.scenario.RepeatLast {
			return nil, ErrScenarioExhausted
		}
		idx = len(p.scenario.Steps) - 1
	}
	p.next++

	step := p.scenario.Steps[idx]
	if step.Error != "" {
		return nil, errors.New(step.Error)
	}

	resp := &Response{Content: step.Text, StopReason: StopReasonEndTurn}
	for j, call := range step.ToolCalls {
		args := json.RawMessage(call.RawArgs)
		if call.RawArgs == "" {
			encoded, err := json.Marshal(call.Args)
			if err != nil {
				return nil, fmt.Errorf("step[%d].tool_calls[%d]: %w", idx, j, err)
			}
			if call.Args == nil {
				encoded = []byte("{}")
			}
			args = encoded
		}
		id := call.ID
		if id == "" {
			// p.next is unique per call, so ids stay unique when RepeatLast replays a step.
			id = fmt.Sprintf("call_%d_%d", p.next-1, j)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: id, Name: call.Name, Arguments: args})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopReasonToolUse
	}
	return resp, nil
}

// Calls returns the number of Chat calls made so far.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

// Conversation returns the conversation sent on call i.
func (p *ScriptedProvider) Conversation(i int) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.received) {
		return nil
	}
	return p.received[i]
}

// Tools returns the tool definitions offered on call i.
func (p *ScriptedProvider) Tools(i int) []ToolDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.tools) {
		return nil
	}
	return p.tools[i]
}
