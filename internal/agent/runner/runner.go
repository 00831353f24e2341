// Package runner drives a BoxFixer session: the initial health assessment,
// troubleshooting of failing services and the interactive follow-up.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/boxfixer/internal/agent/audit"
	"github.com/moolen/boxfixer/internal/agent/commands"
	"github.com/moolen/boxfixer/internal/agent/loop"
	"github.com/moolen/boxfixer/internal/agent/metrics"
	"github.com/moolen/boxfixer/internal/agent/prompt"
	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/agent/report"
	"github.com/moolen/boxfixer/internal/agent/safety"
	"github.com/moolen/boxfixer/internal/agent/tools"
	"github.com/moolen/boxfixer/internal/agent/troubleshoot"
	"github.com/moolen/boxfixer/internal/diagnostics"
	"github.com/moolen/boxfixer/internal/display"
	"github.com/moolen/boxfixer/internal/logging"
)

const (
	runAssessment = "assessment"
	runFollowUp   = "followup"

	replPrompt = "\nboxfixer> "
)

// Config contains the runner configuration.
type Config struct {
	Provider    provider.Provider
	Composer    *prompt.Composer
	Diagnostics *diagnostics.Suite

	// Policy defaults to the built-in destructive command rules.
	Policy *safety.Policy
	Mode   safety.Mode

	Resolver        troubleshoot.CategoryResolver
	DefaultCategory string

	MaxIterations    int
	ToolTimeout      time.Duration
	ParallelReadOnly bool
	CommandTimeout   time.Duration
	ConfirmTimeout   time.Duration

	// Interactive enables the follow-up session. Console is required then,
	// and is also used to confirm commands in supervised mode.
	Interactive bool
	Console     safety.LineReader

	// Renderer defaults to styled output on stdout.
	Renderer *display.Renderer
	// Progress receives tool activity, e.g. a display.Progress on stderr.
	Progress loop.Observer

	Audit   *audit.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Assessment is the result of the initial health check.
type Assessment struct {
	Report       report.HealthReport
	Text         string
	Conversation []provider.Message
}

// Runner manages one operator session.
type Runner struct {
	config       Config
	loop         *loop.Loop
	orchestrator *troubleshoot.Orchestrator
	renderer     *display.Renderer
	systemPrompt string
	stats        *sessionStats
	logger       *logging.Logger

	mu            sync.Mutex
	report        *report.HealthReport
	history       []provider.Message
	followUpTools *tools.Registry
	quit          bool
}

// New creates a Runner and the loop and orchestrator it drives.
func New(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, errors.New("runner: provider is required")
	}
	if cfg.Composer == nil {
		return nil, errors.New("runner: prompt composer is required")
	}
	if cfg.Diagnostics == nil || cfg.Diagnostics.Checker == nil || cfg.Diagnostics.Catalog == nil {
		return nil, errors.New("runner: diagnostics are required")
	}
	if cfg.Interactive && cfg.Console == nil {
		return nil, errors.New("runner: interactive sessions need a console")
	}
	if cfg.Mode == "" {
		cfg.Mode = safety.ModeSupervised
	}
	if cfg.Policy == nil {
		policy, err := safety.NewPolicy(nil)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	r := &Runner{
		config:   cfg,
		renderer: cfg.Renderer,
		stats:    &sessionStats{},
		logger:   logging.GetLogger("agent.runner"),
	}
	if r.renderer == nil {
		r.renderer = display.NewRenderer(os.Stdout)
	}

	observers := []loop.Observer{r.stats}
	if cfg.Metrics != nil {
		observers = append(observers, cfg.Metrics)
	}
	if cfg.Audit != nil {
		observers = append(observers, cfg.Audit)
	}
	if cfg.Progress != nil {
		observers = append(observers, cfg.Progress)
	}
	opts := []loop.Option{
		loop.WithMaxIterations(cfg.MaxIterations),
		loop.WithToolTimeout(cfg.ToolTimeout),
		loop.WithParallelReadOnly(cfg.ParallelReadOnly),
		loop.WithObserver(observers...),
	}
	if cfg.Tracer != nil {
		opts = append(opts, loop.WithTracer(cfg.Tracer))
	}
	r.loop = loop.New(cfg.Provider, opts...)

	system, err := cfg.Composer.Compose(prompt.System, map[string]interface{}{
		"Services":   cfg.Diagnostics.Checker.Services(),
		"SafetyMode": string(cfg.Mode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compose system prompt: %w", err)
	}
	r.systemPrompt = system

	var confirmer safety.Confirmer
	if cfg.Mode == safety.ModeSupervised && cfg.Console != nil {
		confirmer = safety.NewTerminalConfirmer(cfg.Console, cfg.ConfirmTimeout)
	}
	var commandRunner troubleshoot.CommandRunner
	if cfg.Diagnostics.Executor != nil {
		commandRunner = cfg.Diagnostics.Executor
	}

	r.orchestrator, err = troubleshoot.New(troubleshoot.Config{
		Loop:            r.loop,
		Composer:        cfg.Composer,
		Resolver:        cfg.Resolver,
		Steps:           cfg.Diagnostics.Catalog,
		Runner:          commandRunner,
		Policy:          cfg.Policy,
		Mode:            cfg.Mode,
		Confirmer:       confirmer,
		SystemPrompt:    system,
		DefaultCategory: cfg.DefaultCategory,
		MaxIterations:   cfg.MaxIterations,
		CommandTimeout:  cfg.CommandTimeout,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		ExtraTools:      cfg.Diagnostics.ReadOnlyTools(),
		Audit:           cfg.Audit,
		Metrics:         cfg.Metrics,
		OnPhaseStart:    r.renderer.PhaseStart,
		OnPhaseDone:     r.renderer.PhaseDone,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Run executes a whole session. A failed assessment skips troubleshooting
// but still opens the follow-up session; its error is returned when that
// session ends. Follow-up failures are shown and the session goes on.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.config.Audit.LogSessionStart(r.config.Provider.Model(), string(r.config.Mode),
		r.config.Diagnostics.Checker.Services()); err != nil {
		r.logger.Warn("Failed to write audit event: %v", err)
	}
	defer func() {
		if err := r.config.Audit.LogSessionEnd(); err != nil {
			r.logger.Warn("Failed to write audit event: %v", err)
		}
	}()

	r.renderer.Title("Assessing box health")
	assessment, err := r.Diagnose(ctx)
	if err != nil {
		// troubleshooting needs a report; the follow-up session does not
		r.showFailure("Health assessment failed", err)
		if !r.config.Interactive || ctx.Err() != nil {
			return err
		}
		if replErr := r.repl(ctx); replErr != nil {
			return replErr
		}
		return err
	}
	r.renderer.Markdown(assessment.Text)
	r.renderer.Report(assessment.Report)

	if assessment.Report.HasFailures() {
		if _, err := r.Troubleshoot(ctx, assessment.Report.FailingServices); err != nil {
			return err
		}
	}

	if !r.config.Interactive {
		return nil
	}
	return r.repl(ctx)
}

// Diagnose runs the initial assessment with read-only tools and extracts
// the health report from the final answer. When extraction fails the
// assessment still carries the raw text.
func (r *Runner) Diagnose(ctx context.Context) (*Assessment, error) {
	userPrompt, err := r.config.Composer.Compose(prompt.Assessment, map[string]interface{}{
		"Services":     r.config.Diagnostics.Checker.Services(),
		"ReportFormat": report.FormatInstructions(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compose assessment prompt: %w", err)
	}
	registry, err := tools.NewRegistry(r.config.Diagnostics.ReadOnlyTools()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build assessment tools: %w", err)
	}

	out, err := r.loop.Run(ctx, loop.Request{
		Name:         runAssessment,
		SystemPrompt: r.systemPrompt,
		Prompt:       userPrompt,
		Tools:        registry,
	})
	if err != nil {
		r.logError(runAssessment, err)
		return nil, err
	}

	assessment := &Assessment{Text: out.Final, Conversation: out.Conversation}
	rep, extractErr := report.Extract(out.Final)
	if auditErr := r.config.Audit.LogReport(rep, out.Final, extractErr); auditErr != nil {
		r.logger.Warn("Failed to write audit event: %v", auditErr)
	}
	if extractErr != nil {
		var ee *report.ExtractionError
		if errors.As(extractErr, &ee) {
			r.config.Metrics.ReportExtraction(ee.Kind.String())
		}
		r.logError(runAssessment, extractErr)
		return assessment, extractErr
	}
	r.config.Metrics.ReportExtraction("success")
	assessment.Report = rep

	r.mu.Lock()
	r.report = &rep
	r.history = append(r.history,
		provider.Message{Role: provider.RoleUser, Content: userPrompt},
		provider.Message{Role: provider.RoleAssistant, Content: out.Final},
	)
	r.mu.Unlock()
	return assessment, nil
}

// Troubleshoot runs the orchestrator over failing and records successful
// phases in the follow-up history.
func (r *Runner) Troubleshoot(ctx context.Context, failing []string) ([]troubleshoot.PhaseOutcome, error) {
	outcomes, err := r.orchestrator.Troubleshoot(ctx, failing)

	r.mu.Lock()
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		r.history = append(r.history,
			provider.Message{
				Role:    provider.RoleUser,
				Content: fmt.Sprintf("Troubleshoot the failing %s services: %s", o.Category, strings.Join(o.Services, ", ")),
			},
			provider.Message{Role: provider.RoleAssistant, Content: o.Final},
		)
	}
	r.mu.Unlock()

	if err != nil {
		r.logError("troubleshoot", err)
	}
	return outcomes, err
}

// FollowUp answers one operator question with the session history, the
// read-only diagnostics, step lookup and the gated command tool.
func (r *Runner) FollowUp(ctx context.Context, question string) (string, error) {
	r.mu.Lock()
	var reportBlock string
	if r.report != nil {
		reportBlock, _ = report.Block(*r.report)
	}
	history := append([]provider.Message(nil), r.history...)
	registry := r.followUpTools
	r.mu.Unlock()

	if registry == nil {
		var err error
		if registry, err = r.orchestrator.Tools(runFollowUp); err != nil {
			return "", err
		}
		r.mu.Lock()
		r.followUpTools = registry
		r.mu.Unlock()
	}

	userPrompt, err := r.config.Composer.Compose(prompt.FollowUp, map[string]interface{}{
		"Question": question,
		"Report":   reportBlock,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compose follow-up prompt: %w", err)
	}

	out, err := r.loop.Run(ctx, loop.Request{
		Name:         runFollowUp,
		SystemPrompt: r.systemPrompt,
		Prompt:       userPrompt,
		History:      history,
		Tools:        registry,
	})
	if err != nil {
		r.logError(runFollowUp, err)
		return "", err
	}

	r.mu.Lock()
	r.history = append(r.history,
		provider.Message{Role: provider.RoleUser, Content: question},
		provider.Message{Role: provider.RoleAssistant, Content: out.Final},
	)
	r.mu.Unlock()
	return out.Final, nil
}

// Report returns the latest health report, if any.
func (r *Runner) Report() *report.HealthReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// History returns a copy of the follow-up history.
func (r *Runner) History() []provider.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.Message(nil), r.history...)
}

// Reset drops the follow-up history and step lookups but keeps the report.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
	r.followUpTools = nil
}

func (r *Runner) repl(ctx context.Context) error {
	r.renderer.Info("Ask a follow-up question, /help for commands, exit to leave.")
	for {
		line, err := r.config.Console.ReadLine(ctx, replPrompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}

		if cmd := commands.ParseCommand(input); cmd != nil {
			result := commands.DefaultRegistry.Execute(r.commandContext(ctx), cmd)
			if result.Message != "" {
				if result.Success {
					r.renderer.Print(result.Message)
				} else {
					r.renderer.Error("%s", result.Message)
				}
			}
			r.mu.Lock()
			quit := r.quit
			r.mu.Unlock()
			if quit {
				return nil
			}
			continue
		}

		if err := r.config.Audit.LogUserMessage(input); err != nil {
			r.logger.Warn("Failed to write audit event: %v", err)
		}
		answer, err := r.FollowUp(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.showFailure("Follow-up failed", err)
			continue
		}
		r.renderer.Markdown(answer)
	}
}

func (r *Runner) commandContext(ctx context.Context) *commands.Context {
	return &commands.Context{
		Ctx:         ctx,
		SessionID:   r.config.Audit.SessionID(),
		SafetyMode:  string(r.config.Mode),
		Stats:       r.stats.snapshot(),
		Report:      r.Report(),
		Diagnostics: r.config.Diagnostics,
		Renderer:    r.renderer,
		QuitFunc: func() {
			r.mu.Lock()
			r.quit = true
			r.mu.Unlock()
		},
		ResetFunc: r.Reset,
	}
}

// showFailure prints a terminal failure with the model's own words.
func (r *Runner) showFailure(title string, err error) {
	var raw string
	var loopErr *loop.LoopError
	var extractErr *report.ExtractionError
	switch {
	case errors.As(err, &extractErr):
		raw = extractErr.Raw
	case errors.As(err, &loopErr):
		raw = display.LastAssistantText(loopErr.Conversation)
	}
	r.renderer.Failure(title, err, raw)
}

func (r *Runner) logError(run string, err error) {
	if auditErr := r.config.Audit.LogError(run, err); auditErr != nil {
		r.logger.Warn("Failed to write audit event: %v", auditErr)
	}
}

// sessionStats totals model and tool usage for /stats.
type sessionStats struct {
	mu    sync.Mutex
	stats commands.Stats
}

func (s *sessionStats) RunStarted(string) {}

func (s *sessionStats) ModelResponded(_ string, _ int, resp *provider.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ModelCalls++
	if resp != nil {
		s.stats.InputTokens += resp.Usage.InputTokens
		s.stats.OutputTokens += resp.Usage.OutputTokens
	}
}

func (s *sessionStats) ToolStarted(string, provider.ToolCall) {}

func (s *sessionStats) ToolFinished(string, provider.ToolCall, provider.Message, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ToolCalls++
}

func (s *sessionStats) RunFinished(string, string) {}

func (s *sessionStats) snapshot() commands.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
