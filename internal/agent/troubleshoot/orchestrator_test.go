package troubleshoot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/boxfixer/internal/agent/loop"
	"github.com/moolen/boxfixer/internal/agent/prompt"
	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/agent/safety"
	"github.com/moolen/boxfixer/internal/agent/tools"
)

type fakeSteps struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeSteps) Steps(_ context.Context, category string) (*tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[category]++
	if f.err != nil {
		return nil, f.err
	}
	return tools.OK(map[string]interface{}{"category": category, "steps": []string{"restart it"}}, "steps for "+category), nil
}

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeRunner) RunCommand(_ context.Context, command string) (*tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return tools.OK(map[string]interface{}{"command": command, "stdout": "active", "exit_code": 0}, ""), nil
}

func (f *fakeRunner) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

var testCategories = ResolverFunc(func(service string) string {
	switch service {
	case "svcA", "svcB":
		return "docker"
	case "svcC":
		return "kubernetes"
	}
	return ""
})

func stepsCall(category string) provider.ScriptedCall {
	return provider.ScriptedCall{Name: StepsToolName, Args: map[string]interface{}{"category": category}}
}

func execCall(command string) provider.ScriptedCall {
	return provider.ScriptedCall{Name: ExecToolName, Args: map[string]interface{}{"command": command, "purpose": "check"}}
}

func newComposer(t *testing.T) *prompt.Composer {
	t.Helper()
	c, err := prompt.NewComposer(nil)
	require.NoError(t, err)
	return c
}

func newOrchestrator(t *testing.T, p provider.Provider, cfg Config) *Orchestrator {
	t.Helper()
	cfg.Loop = loop.New(p, loop.WithToolTimeout(time.Second))
	cfg.Composer = newComposer(t)
	if cfg.Resolver == nil {
		cfg.Resolver = testCategories
	}
	if cfg.Policy == nil {
		policy, err := safety.NewPolicy(nil)
		require.NoError(t, err)
		cfg.Policy = policy
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o
}

func toolMessages(conv []provider.Message) []provider.Message {
	var out []provider.Message
	for _, m := range conv {
		if m.Role == provider.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestTroubleshootOnePhasePerCategoryWithDedupedLookups(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "e2e", Steps: []provider.ScenarioStep{
		// docker phase: asks twice for the same category
		{ToolCalls: []provider.ScriptedCall{stepsCall("docker")}},
		{ToolCalls: []provider.ScriptedCall{stepsCall("Docker ")}},
		{Text: "restarted the docker services"},
		// kubernetes phase
		{ToolCalls: []provider.ScriptedCall{stepsCall("kubernetes")}},
		{Text: "pod svcC is back"},
	}})
	steps := &fakeSteps{}

	var started []Group
	o := newOrchestrator(t, p, Config{
		Steps:        steps,
		Runner:       &fakeRunner{},
		Mode:         safety.ModeAutonomous,
		SystemPrompt: "system",
		OnPhaseStart: func(g Group) { started = append(started, g) },
	})

	outcomes, err := o.Troubleshoot(context.Background(), []string{"svcA", "svcB", "svcC"})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "docker", outcomes[0].Category)
	assert.Equal(t, []string{"svcA", "svcB"}, outcomes[0].Services)
	assert.Equal(t, "restarted the docker services", outcomes[0].Final)
	assert.True(t, outcomes[0].Succeeded())
	assert.Equal(t, 3, outcomes[0].Iterations)

	assert.Equal(t, "kubernetes", outcomes[1].Category)
	assert.Equal(t, []string{"svcC"}, outcomes[1].Services)
	assert.Equal(t, "pod svcC is back", outcomes[1].Final)

	assert.Equal(t, map[string]int{"docker": 1, "kubernetes": 1}, steps.calls)
	assert.Len(t, started, 2)

	dockerResults := toolMessages(outcomes[0].Conversation)
	require.Len(t, dockerResults, 2)
	assert.Contains(t, dockerResults[0].Content, "restart it")
	assert.Contains(t, dockerResults[1].Content, "steps already provided")

	firstPrompt := p.Conversation(0)
	require.Len(t, firstPrompt, 2)
	assert.Equal(t, "system", firstPrompt[0].Content)
	assert.Contains(t, firstPrompt[1].Content, "docker services are failing: svcA, svcB")

	secondPhasePrompt := p.Conversation(3)
	assert.Contains(t, secondPhasePrompt[1].Content, "kubernetes services are failing: svcC")
}

func TestTroubleshootDedupSpansPhases(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "cross", Steps: []provider.ScenarioStep{
		{ToolCalls: []provider.ScriptedCall{stepsCall("docker")}},
		{Text: "done docker"},
		{ToolCalls: []provider.ScriptedCall{stepsCall("docker"), stepsCall("kubernetes")}},
		{Text: "done kubernetes"},
	}})
	steps := &fakeSteps{}
	o := newOrchestrator(t, p, Config{Steps: steps, Mode: safety.ModeOff})

	outcomes, err := o.Troubleshoot(context.Background(), []string{"svcA", "svcC"})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, map[string]int{"docker": 1, "kubernetes": 1}, steps.calls)
}

func TestTroubleshootSeparateRunsDoNotShareState(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "twice", Steps: []provider.ScenarioStep{
		{ToolCalls: []provider.ScriptedCall{stepsCall("docker")}},
		{Text: "first run"},
		{ToolCalls: []provider.ScriptedCall{stepsCall("docker")}},
		{Text: "second run"},
	}})
	steps := &fakeSteps{}
	o := newOrchestrator(t, p, Config{Steps: steps, Mode: safety.ModeOff})

	for i := 0; i < 2; i++ {
		_, err := o.Troubleshoot(context.Background(), []string{"svcA"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, steps.calls["docker"])
}

func TestTroubleshootFailedPhaseDoesNotStopOthers(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "partial", Steps: []provider.ScenarioStep{
		{Error: "backend unavailable"},
		{Text: "kubernetes ok"},
	}})
	var done []PhaseOutcome
	o := newOrchestrator(t, p, Config{
		Steps:       &fakeSteps{},
		Mode:        safety.ModeOff,
		OnPhaseDone: func(po PhaseOutcome) { done = append(done, po) },
	})

	outcomes, err := o.Troubleshoot(context.Background(), []string{"svcA", "svcC"})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.False(t, outcomes[0].Succeeded())
	var loopErr *loop.LoopError
	require.ErrorAs(t, outcomes[0].Err, &loopErr)
	assert.Equal(t, loop.KindModelFailed, loopErr.Kind)
	assert.NotEmpty(t, outcomes[0].Conversation)

	assert.True(t, outcomes[1].Succeeded())
	assert.Equal(t, "kubernetes ok", outcomes[1].Final)
	assert.Len(t, done, 2)
}

func TestTroubleshootExhaustedPhase(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "stuck", RepeatLast: true, Steps: []provider.ScenarioStep{
		{ToolCalls: []provider.ScriptedCall{stepsCall("docker")}},
	}})
	o := newOrchestrator(t, p, Config{Steps: &fakeSteps{}, Mode: safety.ModeOff, MaxIterations: 2})

	outcomes, err := o.Troubleshoot(context.Background(), []string{"svcA"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	var loopErr *loop.LoopError
	require.ErrorAs(t, outcomes[0].Err, &loopErr)
	assert.Equal(t, loop.KindExhausted, loopErr.Kind)
	assert.Equal(t, 2, p.Calls())
}

func TestTroubleshootNoFailingServices(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "unused", Steps: []provider.ScenarioStep{{Text: "x"}}})
	o := newOrchestrator(t, p, Config{Steps: &fakeSteps{}, Mode: safety.ModeOff})

	outcomes, err := o.Troubleshoot(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, 0, p.Calls())
}

func TestTroubleshootCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := provider.NewScriptedProvider(&provider.Scenario{Name: "unused", Steps: []provider.ScenarioStep{{Text: "x"}}})
	o := newOrchestrator(t, p, Config{Steps: &fakeSteps{}, Mode: safety.ModeOff})

	outcomes, err := o.Troubleshoot(ctx, []string{"svcA", "svcC"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
	assert.Equal(t, 0, p.Calls())
}

func TestTroubleshootUnknownCategoryFallsBack(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "fallback", Steps: []provider.ScenarioStep{{Text: "looked"}}})
	o := newOrchestrator(t, p, Config{Steps: &fakeSteps{}, Mode: safety.ModeOff})

	outcomes, err := o.Troubleshoot(context.Background(), []string{"mystery"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, DefaultCategory, outcomes[0].Category)
}

func TestTroubleshootSafetyOffHidesCommandTool(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "off", Steps: []provider.ScenarioStep{{Text: "advice only"}}})
	o := newOrchestrator(t, p, Config{Steps: &fakeSteps{}, Mode: safety.ModeOff})

	_, err := o.Troubleshoot(context.Background(), []string{"svcA"})
	require.NoError(t, err)

	var names []string
	for _, def := range p.Tools(0) {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{StepsToolName}, names)
	assert.Contains(t, p.Conversation(0)[0].Content, "List the commands the operator should run")
}

func TestTroubleshootCommandGating(t *testing.T) {
	approve := safety.ConfirmFunc(func(_ context.Context, _ safety.Request) (safety.Confirmation, error) {
		return safety.Confirmation{Approved: true}, nil
	})
	decline := safety.ConfirmFunc(func(_ context.Context, _ safety.Request) (safety.Confirmation, error) {
		return safety.Confirmation{Feedback: "check the logs first"}, nil
	})

	tests := []struct {
		name       string
		mode       safety.Mode
		confirmer  safety.Confirmer
		command    string
		wantRun    bool
		wantOutput string
	}{
		{name: "destructive refused in autonomous", mode: safety.ModeAutonomous, command: "rm -rf /var/lib/docker", wantOutput: "command refused"},
		{name: "destructive refused even when approved", mode: safety.ModeSupervised, confirmer: approve, command: "docker rm -f svcA", wantOutput: "command refused"},
		{name: "safe command runs in autonomous", mode: safety.ModeAutonomous, command: "docker ps -a", wantRun: true, wantOutput: "active"},
		{name: "supervised approved", mode: safety.ModeSupervised, confirmer: approve, command: "systemctl status svcA", wantRun: true, wantOutput: "active"},
		{name: "supervised declined with feedback", mode: safety.ModeSupervised, confirmer: decline, command: "systemctl restart svcA", wantOutput: "check the logs first"},
		{name: "supervised without operator", mode: safety.ModeSupervised, command: "docker ps", wantOutput: "no operator available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := provider.NewScriptedProvider(&provider.Scenario{Name: "gate", Steps: []provider.ScenarioStep{
				{ToolCalls: []provider.ScriptedCall{execCall(tt.command)}},
				{Text: "done"},
			}})
			runner := &fakeRunner{}
			o := newOrchestrator(t, p, Config{
				Steps:     &fakeSteps{},
				Runner:    runner,
				Mode:      tt.mode,
				Confirmer: tt.confirmer,
			})

			outcomes, err := o.Troubleshoot(context.Background(), []string{"svcA"})
			require.NoError(t, err)
			require.Len(t, outcomes, 1)

			results := toolMessages(outcomes[0].Conversation)
			require.Len(t, results, 1)
			assert.Contains(t, results[0].Content, tt.wantOutput)
			assert.Equal(t, !tt.wantRun, results[0].IsError)
			if tt.wantRun {
				assert.Equal(t, []string{tt.command}, runner.ran())
			} else {
				assert.Empty(t, runner.ran())
			}
		})
	}
}

func TestConfirmerSeesCommandAndPurpose(t *testing.T) {
	var got safety.Request
	confirmer := safety.ConfirmFunc(func(_ context.Context, req safety.Request) (safety.Confirmation, error) {
		got = req
		return safety.Confirmation{Approved: true}, nil
	})
	tool := newExecTool("test", execGate{
		policy:         mustPolicy(t),
		mode:           safety.ModeSupervised,
		confirmer:      confirmer,
		runner:         &fakeRunner{},
		commandTimeout: time.Second,
		confirmTimeout: time.Minute,
		decided:        func(string, string, safety.Decision, bool) {},
	})

	args, err := json.Marshal(execArgs{Command: "  docker logs svcA  ", Purpose: "read recent errors"})
	require.NoError(t, err)
	res, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "docker logs svcA", got.Command)
	assert.Equal(t, "read recent errors", got.Purpose)

	override, ok := tool.(tools.TimeoutOverride)
	require.True(t, ok)
	assert.Equal(t, time.Second+time.Minute, override.CallTimeout())
}

func TestConfirmerErrorFailsTheCall(t *testing.T) {
	broken := safety.ConfirmFunc(func(context.Context, safety.Request) (safety.Confirmation, error) {
		return safety.Confirmation{}, errors.New("terminal closed")
	})
	tool := newExecTool("test", execGate{
		policy:         mustPolicy(t),
		mode:           safety.ModeSupervised,
		confirmer:      broken,
		runner:         &fakeRunner{},
		commandTimeout: time.Second,
		decided:        func(string, string, safety.Decision, bool) {},
	})

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"uptime"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal closed")
}

func TestStepsLookupFailureCanBeRetried(t *testing.T) {
	source := &fakeSteps{err: errors.New("catalog unreadable")}
	state := newRunState()
	tool := newStepsTool(source, state)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"category":"payment"}`))
	require.Error(t, err)

	source.err = nil
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"category":"payment"}`))
	require.NoError(t, err)
	assert.Equal(t, "steps for payment", res.Summary)
	assert.Equal(t, 2, source.calls["payment"])
	assert.Equal(t, 1, state.lookups)
}

func TestNewValidatesConfig(t *testing.T) {
	p := provider.NewScriptedProvider(&provider.Scenario{Name: "x", Steps: []provider.ScenarioStep{{Text: "x"}}})
	l := loop.New(p)
	composer := newComposer(t)

	_, err := New(Config{Composer: composer, Steps: &fakeSteps{}})
	assert.Error(t, err)

	_, err = New(Config{Loop: l, Composer: composer, Steps: &fakeSteps{}, Mode: safety.ModeSupervised})
	assert.ErrorContains(t, err, "command runner is required")

	_, err = New(Config{Loop: l, Composer: composer, Steps: &fakeSteps{}, Mode: safety.ModeOff})
	assert.NoError(t, err)
}

func mustPolicy(t *testing.T) *safety.Policy {
	t.Helper()
	p, err := safety.NewPolicy(nil)
	require.NoError(t, err)
	return p
}
