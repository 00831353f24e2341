// Package metrics holds the Prometheus collectors for agent runs, tool
// calls, safety decisions and report extraction.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolen/boxfixer/internal/agent/provider"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec   // runs by name and outcome
	IterationsTotal   *prometheus.CounterVec   // model calls by run name
	TokensTotal       *prometheus.CounterVec   // tokens by direction
	ToolCallsTotal    *prometheus.CounterVec   // tool calls by tool and outcome
	ToolDuration      *prometheus.HistogramVec // tool latency by tool
	SafetyDecisions   *prometheus.CounterVec   // command verdicts
	ReportExtractions *prometheus.CounterVec   // extraction outcome
	PhasesTotal       *prometheus.CounterVec   // troubleshooting phases by outcome
	ActiveRuns        prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_agent_runs_total",
			Help: "Agent loop runs by run name and outcome",
		}, []string{"run", "outcome"}),
		IterationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_agent_iterations_total",
			Help: "Model calls made by the agent loop",
		}, []string{"run"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_model_tokens_total",
			Help: "Model tokens consumed",
		}, []string{"direction"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_tool_calls_total",
			Help: "Tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boxfixer_tool_duration_seconds",
			Help:    "Tool call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"tool"}),
		SafetyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_safety_decisions_total",
			Help: "Command safety verdicts",
		}, []string{"verdict"}),
		ReportExtractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_report_extractions_total",
			Help: "Health report extraction outcomes",
		}, []string{"outcome"}),
		PhasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxfixer_troubleshoot_phases_total",
			Help: "Troubleshooting phases by outcome",
		}, []string{"outcome"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boxfixer_agent_active_runs",
			Help: "Agent loop runs currently in progress",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.IterationsTotal,
		m.TokensTotal,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.SafetyDecisions,
		m.ReportExtractions,
		m.PhasesTotal,
		m.ActiveRuns,
	)
	return m
}

// RunStarted implements the loop observer.
func (m *Metrics) RunStarted(run string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// ModelResponded counts one iteration and its token usage.
func (m *Metrics) ModelResponded(run string, _ int, resp *provider.Response) {
	if m == nil {
		return
	}
	m.IterationsTotal.WithLabelValues(run).Inc()
	if resp == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
}

// ToolStarted implements the loop observer.
func (m *Metrics) ToolStarted(string, provider.ToolCall) {}

// ToolFinished records the tool outcome and latency.
func (m *Metrics) ToolFinished(_ string, call provider.ToolCall, result provider.Message, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if result.IsError {
		outcome = "error"
	}
	m.ToolCallsTotal.WithLabelValues(call.Name, outcome).Inc()
	m.ToolDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
}

// RunFinished records the run outcome; outcome is "success" or an error kind.
func (m *Metrics) RunFinished(run string, outcome string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(run, outcome).Inc()
}

// SafetyDecision counts one command verdict.
func (m *Metrics) SafetyDecision(verdict string) {
	if m == nil {
		return
	}
	m.SafetyDecisions.WithLabelValues(verdict).Inc()
}

// ReportExtraction counts one extraction outcome ("ok", "missing", ...).
func (m *Metrics) ReportExtraction(outcome string) {
	if m == nil {
		return
	}
	m.ReportExtractions.WithLabelValues(outcome).Inc()
}

// Phase counts one troubleshooting phase outcome.
func (m *Metrics) Phase(outcome string) {
	if m == nil {
		return
	}
	m.PhasesTotal.WithLabelValues(outcome).Inc()
}
