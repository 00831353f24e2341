// Package troubleshoot runs one agent loop per category of failing
// services, giving each run a deduplicated step lookup and a
// safety-gated command tool.
package troubleshoot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moolen/boxfixer/internal/agent/audit"
	"github.com/moolen/boxfixer/internal/agent/loop"
	"github.com/moolen/boxfixer/internal/agent/metrics"
	"github.com/moolen/boxfixer/internal/agent/prompt"
	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/agent/safety"
	"github.com/moolen/boxfixer/internal/agent/tools"
	"github.com/moolen/boxfixer/internal/logging"
)

// DefaultCategory receives services no rule matches.
const DefaultCategory = "general"

// PhaseOutcome is the result of troubleshooting one category.
type PhaseOutcome struct {
	Category     string
	Services     []string
	Final        string
	Conversation []provider.Message
	Iterations   int
	Duration     time.Duration
	// Err is the *loop.LoopError that ended the phase, if any.
	Err error
}

// Succeeded reports whether the phase produced a final answer.
func (p PhaseOutcome) Succeeded() bool { return p.Err == nil }

// Config wires an Orchestrator.
type Config struct {
	Loop     *loop.Loop
	Composer *prompt.Composer
	Resolver CategoryResolver
	Steps    StepSource
	Runner   CommandRunner
	Policy   *safety.Policy
	Mode     safety.Mode
	// Confirmer is asked in supervised mode. Nil declines every command.
	Confirmer safety.Confirmer

	SystemPrompt    string
	DefaultCategory string
	MaxIterations   int
	CommandTimeout  time.Duration
	ConfirmTimeout  time.Duration

	// ExtraTools are added to every phase, typically the read-only
	// diagnostics.
	ExtraTools []tools.Tool

	Audit   *audit.Logger
	Metrics *metrics.Metrics

	// OnPhaseStart and OnPhaseDone are optional progress callbacks.
	OnPhaseStart func(Group)
	OnPhaseDone  func(PhaseOutcome)
}

// Orchestrator troubleshoots failing services category by category.
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Loop == nil {
		return nil, errors.New("troubleshoot: loop is required")
	}
	if cfg.Composer == nil {
		return nil, errors.New("troubleshoot: prompt composer is required")
	}
	if cfg.Steps == nil {
		return nil, errors.New("troubleshoot: step source is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = safety.ModeSupervised
	}
	if cfg.Mode != safety.ModeOff {
		if cfg.Runner == nil {
			return nil, errors.New("troubleshoot: command runner is required unless safety mode is off")
		}
		if cfg.Policy == nil {
			return nil, errors.New("troubleshoot: safety policy is required unless safety mode is off")
		}
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = DefaultCategory
	}
	if cfg.Resolver == nil {
		fallback := cfg.DefaultCategory
		cfg.Resolver = ResolverFunc(func(string) string { return fallback })
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = loop.DefaultToolTimeout
	}
	return &Orchestrator{cfg: cfg, logger: logging.GetLogger("agent.troubleshoot")}, nil
}

// Troubleshoot runs one phase per category of failing services. A failed
// phase is recorded in its outcome and the next phase still runs; the
// returned error is only set when the run could not continue (cancellation
// or a prompt that cannot be composed).
func (o *Orchestrator) Troubleshoot(ctx context.Context, failing []string) ([]PhaseOutcome, error) {
	groups := GroupServices(o.cfg.Resolver, failing, o.cfg.DefaultCategory)
	if len(groups) == 0 {
		return nil, nil
	}

	state := newRunState()
	outcomes := make([]PhaseOutcome, 0, len(groups))
	o.logger.Info("Troubleshooting %d categories", len(groups))

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome, err := o.phase(ctx, state, group)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)

		var loopErr *loop.LoopError
		if errors.As(outcome.Err, &loopErr) && loopErr.Kind == loop.KindCancelled {
			return outcomes, outcome.Err
		}
	}
	return outcomes, nil
}

func (o *Orchestrator) phase(ctx context.Context, state *runState, group Group) (PhaseOutcome, error) {
	run := "troubleshoot:" + group.Category
	log := o.logger.WithField("category", group.Category)

	userPrompt, err := o.cfg.Composer.Compose(prompt.Troubleshoot, map[string]interface{}{
		"Category":   group.Category,
		"Services":   group.Services,
		"SafetyMode": string(o.cfg.Mode),
	})
	if err != nil {
		return PhaseOutcome{}, fmt.Errorf("failed to compose troubleshooting prompt: %w", err)
	}

	registry, err := o.phaseTools(run, state)
	if err != nil {
		return PhaseOutcome{}, err
	}

	if o.cfg.OnPhaseStart != nil {
		o.cfg.OnPhaseStart(group)
	}
	log.Info("Starting phase for %d services", len(group.Services))

	start := time.Now()
	result, runErr := o.cfg.Loop.Run(ctx, loop.Request{
		Name:          run,
		SystemPrompt:  o.cfg.SystemPrompt,
		Prompt:        userPrompt,
		Tools:         registry,
		MaxIterations: o.cfg.MaxIterations,
	})

	outcome := PhaseOutcome{
		Category: group.Category,
		Services: group.Services,
		Duration: time.Since(start),
	}
	if runErr != nil {
		outcome.Err = runErr
		var loopErr *loop.LoopError
		if errors.As(runErr, &loopErr) {
			outcome.Conversation = loopErr.Conversation
			outcome.Iterations = loopErr.Iterations
		}
		log.Warn("Phase failed: %v", runErr)
		o.cfg.Metrics.Phase("failed")
	} else {
		outcome.Final = result.Final
		outcome.Conversation = result.Conversation
		outcome.Iterations = result.Iterations
		o.cfg.Metrics.Phase("success")
	}

	if err := o.cfg.Audit.LogPhaseComplete(group.Category, group.Services, outcome.Duration, outcome.Err); err != nil {
		log.Warn("Failed to write audit event: %v", err)
	}
	if o.cfg.OnPhaseDone != nil {
		o.cfg.OnPhaseDone(outcome)
	}
	return outcome, nil
}

func (o *Orchestrator) phaseTools(run string, state *runState) (*tools.Registry, error) {
	phaseTools := []tools.Tool{newStepsTool(o.cfg.Steps, state)}
	if o.cfg.Mode != safety.ModeOff {
		phaseTools = append(phaseTools, newExecTool(run, execGate{
			policy:         o.cfg.Policy,
			mode:           o.cfg.Mode,
			confirmer:      o.cfg.Confirmer,
			runner:         o.cfg.Runner,
			commandTimeout: o.cfg.CommandTimeout,
			confirmTimeout: o.cfg.ConfirmTimeout,
			decided:        o.recordDecision,
		}))
	}
	phaseTools = append(phaseTools, o.cfg.ExtraTools...)

	registry, err := tools.NewRegistry(phaseTools...)
	if err != nil {
		return nil, fmt.Errorf("failed to build troubleshooting tools: %w", err)
	}
	return registry, nil
}

func (o *Orchestrator) recordDecision(run, command string, d safety.Decision, approved bool) {
	o.cfg.Metrics.SafetyDecision(d.Verdict.String())
	if d.Verdict == safety.Deny {
		o.logger.Warn("Refused command %q: %s", command, d.Reason)
	}
	if err := o.cfg.Audit.LogSafetyDecision(run, command, d.Verdict.String(), d.Rule, approved); err != nil {
		o.logger.Warn("Failed to write audit event: %v", err)
	}
}

// Tools returns the tool set a phase would get, for callers such as the
// follow-up session that need the same gated command tool outside a
// Troubleshoot call. Step lookups are deduplicated across the returned
// registry's lifetime.
func (o *Orchestrator) Tools(run string) (*tools.Registry, error) {
	return o.phaseTools(run, newRunState())
}
