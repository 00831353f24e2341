// Package commands provides slash command handling for the follow-up session.
package commands

import (
	"context"

	"github.com/moolen/boxfixer/internal/agent/report"
	"github.com/moolen/boxfixer/internal/diagnostics"
	"github.com/moolen/boxfixer/internal/display"
)

// Command represents a parsed slash command.
type Command struct {
	Name string
	Args []string
}

// Result is what the session prints after a command. Handlers that render
// through the Renderer usually leave Message empty.
type Result struct {
	Success bool
	Message string
}

func done(msg string) Result { return Result{Success: true, Message: msg} }

func fail(msg string) Result { return Result{Message: msg} }

// Entry describes a command for /help.
type Entry struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
}

// Stats are the session totals shown by /stats.
type Stats struct {
	ModelCalls   int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// Context provides handlers access to session state.
type Context struct {
	Ctx        context.Context
	SessionID  string
	SafetyMode string
	Stats      Stats

	// Report is the latest health report, nil before the first assessment.
	Report *report.HealthReport

	Diagnostics *diagnostics.Suite
	Renderer    *display.Renderer

	QuitFunc  func()
	ResetFunc func() // drops follow-up history
}

func (c *Context) context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Handler runs one slash command.
type Handler interface {
	Entry() Entry
	Execute(ctx *Context, args []string) Result
}
