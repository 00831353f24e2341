package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/moolen/boxfixer/internal/agent/tools"
)

const (
	// maxCommandOutput caps each captured stream.
	maxCommandOutput = 16 * 1024
	commandWaitDelay = 2 * time.Second
)

// CommandOutput is the captured result of a shell command.
type CommandOutput struct {
	Command    string `json:"command"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Executor runs commands through a shell.
type Executor struct {
	shell string
}

// NewExecutor creates an executor. An empty shell uses /bin/sh.
func NewExecutor(shell string) *Executor {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Executor{shell: shell}
}

// Run executes command and waits for it. A non-zero exit is not an error;
// errors mean the command could not be started or was cancelled.
func (e *Executor) Run(ctx context.Context, command string) (*CommandOutput, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("empty command")
	}

	// #nosec G204 -- commands are gated by the safety policy before they get here
	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	cmd.WaitDelay = commandWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := &CommandOutput{
		Command:    command,
		DurationMs: time.Since(start).Milliseconds(),
	}
	var truncOut, truncErr bool
	out.Stdout, truncOut = capOutput(stdout.String())
	out.Stderr, truncErr = capOutput(stderr.String())
	out.Truncated = truncOut || truncErr

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("failed to run command: %w", err)
	}
	return out, nil
}

// RunCommand runs command and wraps the output as a tool result.
func (e *Executor) RunCommand(ctx context.Context, command string) (*tools.Result, error) {
	out, err := e.Run(ctx, command)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return &tools.Result{
			Success: false,
			Data:    out,
			Error:   fmt.Sprintf("command exited with status %d", out.ExitCode),
		}, nil
	}
	return tools.OK(out, fmt.Sprintf("exit 0 in %dms", out.DurationMs)), nil
}

func capOutput(s string) (string, bool) {
	if len(s) <= maxCommandOutput {
		return s, false
	}
	return s[:maxCommandOutput] + "\n... [output truncated]", true
}
