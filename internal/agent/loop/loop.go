// Package loop drives the conversation between a model backend and a set
// of tools until the model produces a final answer or the iteration cap is
// reached.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/agent/tools"
	"github.com/moolen/boxfixer/internal/logging"
)

const (
	// DefaultMaxIterations caps model calls per run.
	DefaultMaxIterations = 10

	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 30 * time.Second

	// maxParallelTools bounds concurrent read-only tool calls within a turn.
	maxParallelTools = 4

	tracerName = "github.com/moolen/boxfixer/internal/agent/loop"
)

// Request describes one run.
type Request struct {
	// Name labels the run in logs, metrics and audit events.
	Name string

	SystemPrompt string
	Prompt       string

	// History is inserted between the system prompt and Prompt.
	History []provider.Message

	// Tools may be nil, in which case the model sees no tools.
	Tools *tools.Registry

	// MaxIterations falls back to the loop default when zero.
	MaxIterations int
}

// Outcome is the result of a successful run.
type Outcome struct {
	Final        string
	Conversation []provider.Message
	Iterations   int
	ToolCalls    int
	Usage        provider.Usage
}

// Loop runs requests against a single provider. A Loop holds no per-run
// state and may be used for several runs, one at a time or concurrently.
type Loop struct {
	provider         provider.Provider
	maxIterations    int
	toolTimeout      time.Duration
	parallelReadOnly bool
	observers        observers
	logger           *logging.Logger
	tracer           trace.Tracer
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxIterations sets the default iteration cap.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithToolTimeout sets the per-call tool timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.toolTimeout = d
		}
	}
}

// WithParallelReadOnly resolves a turn concurrently when every call in it
// targets a read-only tool.
func WithParallelReadOnly(enabled bool) Option {
	return func(l *Loop) { l.parallelReadOnly = enabled }
}

// WithObserver adds progress observers.
func WithObserver(obs ...Observer) Option {
	return func(l *Loop) {
		for _, o := range obs {
			if o != nil {
				l.observers = append(l.observers, o)
			}
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// New creates a Loop.
func New(p provider.Provider, opts ...Option) *Loop {
	l := &Loop{
		provider:      p,
		maxIterations: DefaultMaxIterations,
		toolTimeout:   DefaultToolTimeout,
		logger:        logging.GetLogger("agent.loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	return l
}

// Run executes the request. It returns an Outcome when the model answers
// without tool calls, and a *LoopError otherwise.
func (l *Loop) Run(ctx context.Context, req Request) (out *Outcome, err error) {
	name := req.Name
	if name == "" {
		name = "run"
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = l.maxIterations
	}
	registry := req.Tools
	if registry == nil {
		registry, _ = tools.NewRegistry()
	}

	ctx, span := l.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("run.name", name),
		attribute.String("model", l.provider.Model()),
		attribute.Int("max_iterations", maxIter),
	))
	defer span.End()

	log := l.logger.WithContext(ctx).WithField("run", name)
	l.observers.RunStarted(name)
	defer func() {
		outcome := "success"
		var loopErr *LoopError
		if errors.As(err, &loopErr) {
			outcome = loopErr.Kind.String()
			span.SetStatus(codes.Error, loopErr.Error())
			log.Warn("Run failed: %v", loopErr)
		}
		l.observers.RunFinished(name, outcome)
	}()

	conversation := make([]provider.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		conversation = append(conversation, provider.Message{Role: provider.RoleSystem, Content: req.SystemPrompt})
	}
	conversation = append(conversation, req.History...)
	conversation = append(conversation, provider.Message{Role: provider.RoleUser, Content: req.Prompt})

	definitions := registry.Definitions()
	var usage provider.Usage
	toolCalls := 0

	fail := func(kind Kind, iterations int, cause error) (*Outcome, error) {
		return nil, &LoopError{
			Kind:         kind,
			Iterations:   iterations,
			Conversation: append([]provider.Message(nil), conversation...),
			Err:          cause,
		}
	}

	for iteration := 1; ; iteration++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(KindCancelled, iteration-1, ctxErr)
		}
		if iteration > maxIter {
			return fail(KindExhausted, maxIter, nil)
		}

		log.Debug("Iteration %d/%d: calling model with %d messages", iteration, maxIter, len(conversation))
		resp, chatErr := l.chat(ctx, iteration, conversation, definitions)
		if chatErr != nil {
			if ctx.Err() != nil {
				return fail(KindCancelled, iteration, chatErr)
			}
			return fail(KindModelFailed, iteration, chatErr)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		l.observers.ModelResponded(name, iteration, resp)

		conversation = append(conversation, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			log.Debug("Final answer after %d iterations", iteration)
			span.SetAttributes(attribute.Int("iterations", iteration), attribute.Int("tool_calls", toolCalls))
			return &Outcome{
				Final:        resp.Content,
				Conversation: conversation,
				Iterations:   iteration,
				ToolCalls:    toolCalls,
				Usage:        usage,
			}, nil
		}

		if err := validateCalls(resp.ToolCalls); err != nil {
			return fail(KindToolResolutionFailed, iteration, err)
		}

		results := l.resolve(ctx, name, registry, resp.ToolCalls)
		toolCalls += len(results)
		conversation = append(conversation, results...)
	}
}

func (l *Loop) chat(ctx context.Context, iteration int, conversation []provider.Message, defs []provider.ToolDefinition) (*provider.Response, error) {
	ctx, span := l.tracer.Start(ctx, "agent.model_call", trace.WithAttributes(
		attribute.Int("iteration", iteration),
		attribute.Int("messages", len(conversation)),
	))
	defer span.End()

	resp, err := l.provider.Chat(ctx, conversation, defs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		err := fmt.Errorf("model returned an empty response")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("tool_calls", len(resp.ToolCalls)),
		attribute.Int("input_tokens", resp.Usage.InputTokens),
		attribute.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// validateCalls rejects calls whose results could not be correlated.
func validateCalls(calls []provider.ToolCall) error {
	seen := make(map[string]bool, len(calls))
	for i, call := range calls {
		if strings.TrimSpace(call.ID) == "" {
			return fmt.Errorf("tool call %d (%q) has no id", i, call.Name)
		}
		if strings.TrimSpace(call.Name) == "" {
			return fmt.Errorf("tool call %q has no tool name", call.ID)
		}
		if seen[call.ID] {
			return fmt.Errorf("duplicate tool call id %q", call.ID)
		}
		seen[call.ID] = true
	}
	return nil
}

// resolve produces one tool message per call, in call order.
func (l *Loop) resolve(ctx context.Context, run string, registry *tools.Registry, calls []provider.ToolCall) []provider.Message {
	results := make([]provider.Message, len(calls))

	if l.parallelReadOnly && len(calls) > 1 && allReadOnly(registry, calls) {
		var g errgroup.Group
		g.SetLimit(maxParallelTools)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = l.execute(ctx, run, registry, call)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = l.execute(ctx, run, registry, call)
	}
	return results
}

func allReadOnly(registry *tools.Registry, calls []provider.ToolCall) bool {
	for _, call := range calls {
		t, err := registry.Lookup(call.Name)
		if err != nil || !tools.IsReadOnly(t) {
			return false
		}
	}
	return true
}

func (l *Loop) execute(ctx context.Context, run string, registry *tools.Registry, call provider.ToolCall) provider.Message {
	ctx, span := l.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	l.observers.ToolStarted(run, call)
	start := time.Now()

	msg := provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	result, err := l.invoke(ctx, registry, call)
	if err != nil {
		result = tools.Failed("%v", err)
		span.RecordError(err)
	}
	msg.Content = result.Render()
	msg.IsError = !result.Success
	if msg.IsError {
		span.SetStatus(codes.Error, result.Error)
		l.logger.WithContext(ctx).Debug("Tool %s (%s) failed: %s", call.Name, call.ID, result.Error)
	}

	l.observers.ToolFinished(run, call, msg, time.Since(start))
	return msg
}

func (l *Loop) invoke(ctx context.Context, registry *tools.Registry, call provider.ToolCall) (*tools.Result, error) {
	t, err := registry.Lookup(call.Name)
	if err != nil {
		return tools.Failed("unknown tool %q; available tools: %s", call.Name, strings.Join(registry.Names(), ", ")), nil
	}
	return tools.Invoke(ctx, t, call.Arguments, l.toolTimeout)
}
