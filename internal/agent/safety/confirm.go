package safety

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is a command awaiting operator approval.
type Request struct {
	Command string
	Reason  string
	// Purpose is the model's stated reason for running the command.
	Purpose string
}

// Confirmation is the operator's answer. Feedback carries free text the
// operator typed instead of yes/no.
type Confirmation struct {
	Approved bool
	Feedback string
}

// Confirmer asks the operator to approve a command.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (Confirmation, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req Request) (Confirmation, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req Request) (Confirmation, error) {
	return f(ctx, req)
}

// LineReader reads one line of operator input.
type LineReader interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
	Interactive() bool
}

// TerminalConfirmer asks on the operator's terminal.
type TerminalConfirmer struct {
	lines   LineReader
	timeout time.Duration
}

// NewTerminalConfirmer creates a confirmer reading from lines. A timeout of
// zero waits until ctx is done.
func NewTerminalConfirmer(lines LineReader, timeout time.Duration) *TerminalConfirmer {
	return &TerminalConfirmer{lines: lines, timeout: timeout}
}

// Confirm prompts for yes/no. Without a terminal, or when the operator does
// not answer in time, the command is declined.
func (c *TerminalConfirmer) Confirm(ctx context.Context, req Request) (Confirmation, error) {
	if !c.lines.Interactive() {
		return Confirmation{Feedback: "no operator terminal available"}, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf("Run `%s`? [y/N]: ", req.Command)
	if req.Purpose != "" {
		prompt = fmt.Sprintf("%s\n%s", req.Purpose, prompt)
	}
	line, err := c.lines.ReadLine(ctx, prompt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Confirmation{Feedback: "operator did not answer in time"}, nil
		}
		return Confirmation{}, err
	}
	return ParseResponse(line, false), nil
}

// ParseResponse interprets a yes/no answer. An empty answer takes
// defaultApprove; any other text declines and is returned as feedback.
func ParseResponse(response string, defaultApprove bool) Confirmation {
	trimmed := strings.TrimSpace(response)
	switch strings.ToLower(trimmed) {
	case "yes", "y", "yeah", "yep", "correct", "confirmed", "ok", "okay":
		return Confirmation{Approved: true}
	case "no", "n", "nope", "wrong", "incorrect":
		return Confirmation{Approved: false}
	case "":
		return Confirmation{Approved: defaultApprove}
	}
	return Confirmation{Approved: false, Feedback: trimmed}
}
