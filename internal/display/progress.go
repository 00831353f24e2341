package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/moolen/boxfixer/internal/agent/provider"
)

const maxArgsShown = 80

// Progress prints tool activity as the agent works. It satisfies the loop
// observer interface.
type Progress struct {
	mu  sync.Mutex
	out io.Writer
}

// NewProgress writes progress lines to out, typically stderr.
func NewProgress(out io.Writer) *Progress {
	return &Progress{out: out}
}

func (p *Progress) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *Progress) RunStarted(run string) {
	p.printf("%s\n", mutedStyle.Render("▶ "+run))
}

func (p *Progress) ModelResponded(string, int, *provider.Response) {}

func (p *Progress) ToolStarted(_ string, call provider.ToolCall) {
	args := strings.TrimSpace(string(call.Arguments))
	if args == "{}" {
		args = ""
	}
	if len(args) > maxArgsShown {
		args = args[:maxArgsShown] + "…"
	}
	p.printf("  → %s %s\n", call.Name, mutedStyle.Render(args))
}

func (p *Progress) ToolFinished(_ string, call provider.ToolCall, result provider.Message, elapsed time.Duration) {
	marker := okStyle.Render("✓")
	if result.IsError {
		marker = errorStyle.Render("✗")
	}
	p.printf("  %s %s (%s)\n", marker, call.Name, elapsed.Round(time.Millisecond))
}

func (p *Progress) RunFinished(run string, outcome string) {
	if outcome != "success" {
		p.printf("%s\n", warnStyle.Render(fmt.Sprintf("■ %s ended: %s", run, outcome)))
	}
}
