package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moolen/boxfixer/internal/agent/audit"
	"github.com/moolen/boxfixer/internal/agent/metrics"
	"github.com/moolen/boxfixer/internal/agent/prompt"
	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/agent/runner"
	"github.com/moolen/boxfixer/internal/agent/safety"
	"github.com/moolen/boxfixer/internal/agent/troubleshoot"
	"github.com/moolen/boxfixer/internal/config"
	"github.com/moolen/boxfixer/internal/diagnostics"
	"github.com/moolen/boxfixer/internal/display"
	"github.com/moolen/boxfixer/internal/lifecycle"
	"github.com/moolen/boxfixer/internal/logging"
	"github.com/moolen/boxfixer/internal/tracing"
)

var runAgentCmd = &cobra.Command{
	Use:   "run-agent",
	Short: "Assess the box, troubleshoot failing services and answer follow-up questions",
	Long: `Run a full BoxFixer session:

  1. The model checks every monitored service and the system resources and
     ends with a structured health report.
  2. Failing services are grouped by category and troubleshooted one
     category at a time, following the category's troubleshooting steps.
  3. Unless --no-interactive is set, a follow-up prompt answers questions
     about the box with the same tools.

Commands proposed by the model are gated by the safety mode:
  off         no command execution at all
  supervised  every command is confirmed on the terminal (default)
  autonomous  commands run without confirmation
Destructive commands are refused in every mode.

Examples:
  # Full session
  boxfixer run-agent

  # Report only, no command execution
  boxfixer run-agent --no-interactive --safety-mode off

  # Replay a scripted model for demos and tests
  boxfixer run-agent --provider scripted --scenario scenario.yaml
`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

var (
	agentNoInteractive bool
	agentSafetyMode    string
	agentModel         string
	agentProvider      string
	agentScenario      string
	agentAuditLog      string
	agentMetricsAddr   string
	agentMaxIterations int
)

func init() {
	f := runAgentCmd.Flags()
	f.BoolVar(&agentNoInteractive, "no-interactive", false,
		"Exit after the assessment and troubleshooting instead of starting the follow-up prompt")
	f.StringVar(&agentSafetyMode, "safety-mode", "",
		"Command execution mode: off, supervised or autonomous (default from config: supervised)")
	f.StringVar(&agentModel, "model", "", "Model name, e.g. claude-sonnet-4-5-20250929")
	f.StringVar(&agentProvider, "provider", "", "Model provider: anthropic, gemini or scripted")
	f.StringVar(&agentScenario, "scenario", "", "YAML scenario driving the scripted provider")
	f.StringVar(&agentAuditLog, "audit-log", "",
		"Path to write the session audit log (JSONL). If empty, audit logging is disabled.")
	f.StringVar(&agentMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address, e.g. :9090")
	f.IntVar(&agentMaxIterations, "max-iterations", 0, "Model rounds per run (default from config: 10)")
}

// applyAgentFlags overrides cfg with the flags that were set and
// revalidates the result.
func applyAgentFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("no-interactive") {
		cfg.Agent.Interactive = !agentNoInteractive
	}
	if flags.Changed("safety-mode") {
		cfg.Safety.Mode = agentSafetyMode
	}
	if flags.Changed("model") {
		cfg.Model.Name = agentModel
	}
	if flags.Changed("provider") {
		cfg.Model.Provider = agentProvider
	}
	if flags.Changed("scenario") {
		cfg.Model.ScenarioFile = agentScenario
	}
	if flags.Changed("audit-log") {
		cfg.Audit.Path = agentAuditLog
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = agentMetricsAddr
	}
	if flags.Changed("max-iterations") {
		cfg.Agent.MaxIterations = agentMaxIterations
	}
	return cfg.Validate()
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := logging.GetLogger("agent")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyAgentFlags(cmd, cfg); err != nil {
		return err
	}
	mode, err := safety.ParseMode(cfg.Safety.Mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := troubleshoot.NewPatternResolver(cfg.Categories.Rules, cfg.Categories.Default)
	if err != nil {
		return err
	}
	suite, err := diagnostics.NewSuite(ctx, cfg.Diagnostics, resolver.Resolve)
	if err != nil {
		return err
	}
	services := lifecycle.NewManager()
	defer func() {
		if err := services.Stop(context.Background()); err != nil {
			logger.Warn("Failed to stop session services: %v", err)
		}
	}()
	if err := services.Register(suite); err != nil {
		return err
	}

	model, err := provider.New(ctx, cfg.Model.Provider, provider.Config{
		Model:       cfg.Model.Name,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}, cfg.Model.ScenarioFile)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}

	composer, err := prompt.NewComposer(cfg.Prompts)
	if err != nil {
		return err
	}
	policy, err := safety.NewPolicy(cfg.Safety.DenyPatterns)
	if err != nil {
		return err
	}

	var auditLogger *audit.Logger
	if cfg.Audit.Path != "" {
		auditLogger, err = audit.NewLogger(cfg.Audit.Path, audit.NewSessionID())
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer func() {
			if err := auditLogger.Close(); err != nil {
				logger.Warn("Failed to close audit log: %v", err)
			}
		}()
	}

	var agentMetrics *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		reg := metrics.NewRegistry()
		agentMetrics = metrics.NewMetrics(reg)
		if err := services.Register(metrics.NewServer(cfg.Metrics.Addr, reg)); err != nil {
			return err
		}
	}

	tp, err := tracing.New(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	if err := services.Register(tp); err != nil {
		return err
	}
	if err := services.Start(ctx); err != nil {
		return err
	}

	stdoutTTY := term.IsTerminal(int(os.Stdout.Fd()))
	var rendererOpts []display.RendererOption
	if !stdoutTTY {
		rendererOpts = append(rendererOpts, display.WithPlain())
	}

	r, err := runner.New(runner.Config{
		Provider:         model,
		Composer:         composer,
		Diagnostics:      suite,
		Policy:           policy,
		Mode:             mode,
		Resolver:         resolver,
		DefaultCategory:  cfg.Categories.Default,
		MaxIterations:    cfg.Agent.MaxIterations,
		ToolTimeout:      cfg.Agent.ToolTimeout,
		ParallelReadOnly: cfg.Agent.ParallelReadOnly,
		ConfirmTimeout:   cfg.Safety.ConfirmTimeout,
		Interactive:      cfg.Agent.Interactive,
		Console:          display.NewTerminalConsole(),
		Renderer:         display.NewRenderer(os.Stdout, rendererOpts...),
		Progress:         display.NewProgress(os.Stderr),
		Audit:            auditLogger,
		Metrics:          agentMetrics,
		Tracer:           tp.Tracer("boxfixer"),
	})
	if err != nil {
		return err
	}

	logger.Info("Starting session with %s/%s in %s mode", model.Name(), model.Model(), mode)
	if err := r.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}
