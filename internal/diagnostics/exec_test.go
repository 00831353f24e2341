package diagnostics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRun(t *testing.T) {
	out, err := NewExecutor("").Run(context.Background(), "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.Truncated)
}

func TestExecutorNonZeroExit(t *testing.T) {
	e := NewExecutor("/bin/sh")
	out, err := e.Run(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)

	res, err := e.RunCommand(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "command exited with status 3", res.Error)
	assert.Equal(t, 3, res.Data.(*CommandOutput).ExitCode)
}

func TestExecutorRunCommandSuccess(t *testing.T) {
	res, err := NewExecutor("").RunCommand(context.Background(), "printf ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Data.(*CommandOutput).Stdout)
}

func TestExecutorEmptyCommand(t *testing.T) {
	_, err := NewExecutor("").Run(context.Background(), "   ")
	require.Error(t, err)
}

func TestExecutorCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewExecutor("").Run(ctx, "sleep 5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command interrupted")
}

func TestCapOutput(t *testing.T) {
	s, truncated := capOutput("short")
	assert.Equal(t, "short", s)
	assert.False(t, truncated)

	long := strings.Repeat("x", maxCommandOutput+10)
	s, truncated = capOutput(long)
	assert.True(t, truncated)
	assert.True(t, strings.HasSuffix(s, "[output truncated]"))
	assert.Len(t, s, maxCommandOutput+len("\n... [output truncated]"))
}
