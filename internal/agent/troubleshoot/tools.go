package troubleshoot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/moolen/boxfixer/internal/agent/safety"
	"github.com/moolen/boxfixer/internal/agent/tools"
)

// Tool names exposed to the model during troubleshooting.
const (
	StepsToolName = "get_troubleshooting_steps"
	ExecToolName  = "execute_command"
)

// StepSource returns the troubleshooting steps of a category.
type StepSource interface {
	Steps(ctx context.Context, category string) (*tools.Result, error)
}

// CommandRunner executes a shell command and reports its output.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string) (*tools.Result, error)
}

// runState is the mutable state of a single Troubleshoot call.
type runState struct {
	mu      sync.Mutex
	fetched map[string]bool
	lookups int
}

func newRunState() *runState {
	return &runState{fetched: make(map[string]bool)}
}

// claim marks category as fetched and reports whether it was new.
func (s *runState) claim(category string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetched[category] {
		return false
	}
	s.fetched[category] = true
	s.lookups++
	return true
}

func (s *runState) release(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fetched, category)
	s.lookups--
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

type stepsArgs struct {
	Category string `json:"category" jsonschema:"required" jsonschema_description:"Service category, for example kyc_services or payment"`
}

// newStepsTool wraps source so each category is looked up at most once per run.
func newStepsTool(source StepSource, state *runState) tools.Tool {
	return tools.NewTyped(StepsToolName,
		"Get the troubleshooting steps, common fixes and tips for a category of services. Call it once per category.",
		func(ctx context.Context, args stepsArgs) (*tools.Result, error) {
			category := normalizeCategory(args.Category)
			if category == "" {
				return tools.Failed("category must not be empty"), nil
			}
			if !state.claim(category) {
				return tools.OK(map[string]string{
					"category": category,
					"message":  "steps already provided for this category; use the earlier result",
				}, "steps already provided"), nil
			}
			res, err := source.Steps(ctx, category)
			if err != nil {
				state.release(category)
				return nil, err
			}
			return res, nil
		}, tools.WithReadOnly())
}

type execArgs struct {
	Command string `json:"command" jsonschema:"required" jsonschema_description:"Shell command to run on the box"`
	Purpose string `json:"purpose,omitempty" jsonschema_description:"Why the command is needed; shown to the operator"`
}

// gatedExec checks every command against the safety policy before it
// reaches the runner.
type gatedExec struct {
	*tools.TypedTool[execArgs]
	timeout time.Duration
}

func (g *gatedExec) CallTimeout() time.Duration { return g.timeout }

// execGate bundles what the gated command tool needs.
type execGate struct {
	policy         *safety.Policy
	mode           safety.Mode
	confirmer      safety.Confirmer
	runner         CommandRunner
	commandTimeout time.Duration
	confirmTimeout time.Duration
	decided        func(run, command string, d safety.Decision, approved bool)
}

func newExecTool(run string, gate execGate) tools.Tool {
	handler := func(ctx context.Context, args execArgs) (*tools.Result, error) {
		command := strings.TrimSpace(args.Command)
		decision := gate.policy.Evaluate(command, gate.mode)

		switch decision.Verdict {
		case safety.Deny:
			gate.decided(run, command, decision, false)
			return tools.Failed("command refused: %s. Do not retry it; suggest a non-destructive alternative or leave it to the operator", decision.Reason), nil

		case safety.AskUser:
			if gate.confirmer == nil {
				gate.decided(run, command, decision, false)
				return tools.Failed("command not run: no operator available to approve it"), nil
			}
			answer, err := gate.confirmer.Confirm(ctx, safety.Request{
				Command: command,
				Reason:  decision.Reason,
				Purpose: args.Purpose,
			})
			if err != nil {
				gate.decided(run, command, decision, false)
				return nil, err
			}
			gate.decided(run, command, decision, answer.Approved)
			if !answer.Approved {
				if answer.Feedback != "" {
					return tools.Failed("operator declined the command: %s", answer.Feedback), nil
				}
				return tools.Failed("operator declined the command"), nil
			}

		default:
			gate.decided(run, command, decision, true)
		}

		runCtx, cancel := context.WithTimeout(ctx, gate.commandTimeout)
		defer cancel()
		return gate.runner.RunCommand(runCtx, command)
	}

	typed := tools.NewTyped(ExecToolName,
		"Run a shell command on the box and return its stdout, stderr and exit code. Destructive commands are refused.",
		handler)

	timeout := gate.commandTimeout
	if gate.mode == safety.ModeSupervised {
		timeout += gate.confirmTimeout
	}
	return &gatedExec{TypedTool: typed, timeout: timeout}
}
