package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/agent/report"
	"github.com/moolen/boxfixer/internal/agent/troubleshoot"
	"github.com/moolen/boxfixer/internal/diagnostics"
)

const wordWrap = 100

// Renderer writes operator-facing output. Plain renderers emit no styling,
// which keeps output stable when it is piped or tested.
type Renderer struct {
	mu    sync.Mutex
	out   io.Writer
	plain bool
	md    *glamour.TermRenderer
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithPlain disables colours, borders and markdown rendering.
func WithPlain() RendererOption {
	return func(r *Renderer) { r.plain = true }
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, opts ...RendererOption) *Renderer {
	r := &Renderer{out: out}
	for _, opt := range opts {
		opt(r)
	}
	if !r.plain {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrap),
		)
		if err == nil {
			r.md = md
		}
	}
	return r
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) println(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, text)
}

// Title prints a section heading.
func (r *Renderer) Title(text string) {
	r.println(r.style(titleStyle, text))
}

// Print writes text as is.
func (r *Renderer) Print(text string) {
	r.println(strings.TrimRight(text, "\n"))
}

// Info prints a muted informational line.
func (r *Renderer) Info(format string, args ...interface{}) {
	r.println(r.style(mutedStyle, fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (r *Renderer) Error(format string, args ...interface{}) {
	r.println(r.style(errorStyle, "Error: "+fmt.Sprintf(format, args...)))
}

// Markdown prints model output, rendered when a terminal renderer is
// available.
func (r *Renderer) Markdown(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if r.md != nil {
		if rendered, err := r.md.Render(text); err == nil {
			r.println(strings.TrimRight(rendered, "\n"))
			return
		}
	}
	r.println(text)
}

// Failure shows why a run ended without an answer, together with whatever
// the model said last. It never invents a report.
func (r *Renderer) Failure(title string, err error, raw string) {
	r.Error("%s: %v", title, err)
	if raw = strings.TrimSpace(raw); raw != "" {
		r.println(r.style(mutedStyle, "Last model output:"))
		r.println(raw)
	}
}

func (r *Renderer) panel(title, body string) {
	if r.plain {
		r.println(title + "\n" + body)
		return
	}
	r.println(panelStyle.Render(titleStyle.Render(title) + "\n" + body))
}

// Report prints a health report panel.
func (r *Renderer) Report(rep report.HealthReport) {
	var b strings.Builder
	status := string(rep.Status)
	switch rep.Status {
	case report.StatusHealthy:
		status = r.style(okStyle, status)
	case report.StatusDegraded:
		status = r.style(warnStyle, status)
	case report.StatusCritical:
		status = r.style(errorStyle, status)
	}
	fmt.Fprintf(&b, "Status: %s\n", status)

	if len(rep.FailingServices) == 0 {
		b.WriteString("Failing services: none\n")
	} else {
		b.WriteString("Failing services:\n")
		for _, svc := range rep.FailingServices {
			fmt.Fprintf(&b, "  - %s\n", svc)
		}
	}
	if len(rep.ResourceWarnings) > 0 {
		b.WriteString("Resource warnings:\n")
		for _, w := range rep.ResourceWarnings {
			fmt.Fprintf(&b, "  - %s\n", r.style(warnStyle, w))
		}
	}
	rebuild := "no"
	if rep.RebuildRecommended {
		rebuild = r.style(warnStyle, "yes")
	}
	fmt.Fprintf(&b, "Rebuild recommended: %s", rebuild)

	r.panel("Health report", b.String())
}

// Statuses prints one line per service.
func (r *Renderer) Statuses(statuses []diagnostics.ServiceStatus) {
	var b strings.Builder
	for i, st := range statuses {
		if i > 0 {
			b.WriteString("\n")
		}
		marker := r.style(okStyle, "✓")
		if st.Failing() {
			marker = r.style(errorStyle, "✗")
		}
		fmt.Fprintf(&b, "%s %-28s %-10s %s", marker, st.Name, st.Status, r.style(mutedStyle, st.Message))
		if st.RunningDays > 0 {
			fmt.Fprintf(&b, " (%dd)", st.RunningDays)
		}
	}
	r.panel("Services", b.String())
}

// Resources prints resource usage.
func (r *Renderer) Resources(res *diagnostics.Resources) {
	var b strings.Builder
	fmt.Fprintf(&b, "CPU:    %.1f%%", res.CPUPercent)
	if res.CPUCores > 0 {
		fmt.Fprintf(&b, " of %d cores", res.CPUCores)
	}
	fmt.Fprintf(&b, "\nMemory: %.1f%% (%d/%d MB)", res.MemoryPercent, res.MemoryUsedMB, res.MemoryTotalMB)
	fmt.Fprintf(&b, "\nDisk:   %.1f%% of %s (%.1f/%.1f GB)", res.DiskPercent, res.DiskPath, res.DiskUsedGB, res.DiskTotalGB)
	fmt.Fprintf(&b, "\nUptime: %d days", res.UptimeDays)
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "\n%s", r.style(warnStyle, "! "+w))
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&b, "\n%s", r.style(mutedStyle, "unavailable: "+e))
	}
	r.panel("System resources", b.String())
}

// Guide prints the troubleshooting steps of a category.
func (r *Renderer) Guide(category string, g diagnostics.Guide) {
	var b strings.Builder
	for i, step := range g.Steps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, step.Name)
		for _, cmd := range step.Commands {
			fmt.Fprintf(&b, "\n   %s", r.style(commandStyle, cmd))
		}
	}
	if len(g.CommonFixes) > 0 {
		b.WriteString("\n\nCommon fixes:")
		for _, fix := range g.CommonFixes {
			fmt.Fprintf(&b, "\n  - %s", fix)
		}
	}
	if len(g.OtherTips) > 0 {
		b.WriteString("\n\nTips:")
		for _, tip := range g.OtherTips {
			fmt.Fprintf(&b, "\n  - %s", tip)
		}
	}
	r.panel("Troubleshooting: "+category, b.String())
}

// PhaseStart announces a troubleshooting phase.
func (r *Renderer) PhaseStart(g troubleshoot.Group) {
	r.Title(fmt.Sprintf("Troubleshooting %s: %s", g.Category, strings.Join(g.Services, ", ")))
}

// PhaseDone prints the result of a troubleshooting phase.
func (r *Renderer) PhaseDone(o troubleshoot.PhaseOutcome) {
	if !o.Succeeded() {
		r.Failure("Troubleshooting "+o.Category+" failed", o.Err, LastAssistantText(o.Conversation))
		return
	}
	r.Markdown(o.Final)
	r.Info("%s done in %d iterations (%s)", o.Category, o.Iterations, o.Duration.Round(time.Millisecond))
}

// LastAssistantText returns the most recent non-empty model text.
func LastAssistantText(conversation []provider.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if msg := conversation[i]; msg.Role == provider.RoleAssistant && strings.TrimSpace(msg.Content) != "" {
			return msg.Content
		}
	}
	return ""
}
