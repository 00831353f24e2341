// Package audit records a diagnostic session (model requests, tool calls,
// safety decisions, reports and troubleshooting phases) to a JSONL file
// for later review.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moolen/boxfixer/internal/agent/provider"
	"github.com/moolen/boxfixer/internal/logging"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeSessionStart marks the start of a new session.
	EventTypeSessionStart EventType = "session_start"
	// EventTypeUserMessage marks an operator message in the follow-up REPL.
	EventTypeUserMessage EventType = "user_message"
	// EventTypeRunStart marks the start of an agent loop run.
	EventTypeRunStart EventType = "run_start"
	// EventTypeLLMRequest logs each model call with token usage.
	EventTypeLLMRequest EventType = "llm_request"
	// EventTypeToolStart marks the start of a tool call.
	EventTypeToolStart EventType = "tool_start"
	// EventTypeToolComplete marks the completion of a tool call.
	EventTypeToolComplete EventType = "tool_complete"
	// EventTypeRunComplete marks the end of an agent loop run.
	EventTypeRunComplete EventType = "run_complete"
	// EventTypeReport logs the extracted health report or the extraction failure.
	EventTypeReport EventType = "report"
	// EventTypeSafetyDecision logs a command verdict and the operator answer.
	EventTypeSafetyDecision EventType = "safety_decision"
	// EventTypePhaseComplete marks the end of a troubleshooting phase.
	EventTypePhaseComplete EventType = "phase_complete"
	// EventTypeError marks an error during processing.
	EventTypeError EventType = "error"
	// EventTypeSessionMetrics logs aggregated session metrics.
	EventTypeSessionMetrics EventType = "session_metrics"
	// EventTypeSessionEnd marks the end of a session.
	EventTypeSessionEnd EventType = "session_end"
)

// Event represents a single audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	// Run is the agent loop run the event belongs to, if any.
	Run  string                 `json:"run,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Logger writes audit events to a JSONL file. All methods are safe for
// concurrent use; a nil *Logger discards everything.
type Logger struct {
	file      *os.File
	writer    *bufio.Writer
	mutex     sync.Mutex
	sessionID string
	log       *logging.Logger

	requests     int
	inputTokens  int
	outputTokens int
}

// NewLogger creates a new audit logger that writes to the specified file path.
// If the file exists, new events are appended.
func NewLogger(filePath, sessionID string) (*Logger, error) {
	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	return &Logger{
		file:      file,
		writer:    bufio.NewWriter(file),
		sessionID: sessionID,
		log:       logging.GetLogger("agent.audit"),
	}, nil
}

// SessionID returns the session identifier stamped on every event.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

func (l *Logger) emit(typ EventType, run string, data map[string]interface{}) error {
	if l == nil {
		return nil
	}
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      typ,
		SessionID: l.sessionID,
		Run:       run,
		Data:      data,
	})
}

// write writes an event to the audit log.
func (l *Logger) write(event Event) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return nil
}

// observe is used by the loop observer methods, which cannot return errors.
func (l *Logger) observe(typ EventType, run string, data map[string]interface{}) {
	if err := l.emit(typ, run, data); err != nil {
		l.log.Warn("Dropped audit event %s: %v", typ, err)
	}
}

// LogSessionStart logs the start of a new session.
func (l *Logger) LogSessionStart(model, safetyMode string, services []string) error {
	return l.emit(EventTypeSessionStart, "", map[string]interface{}{
		"model":       model,
		"safety_mode": safetyMode,
		"services":    services,
	})
}

// LogUserMessage logs an operator message.
func (l *Logger) LogUserMessage(message string) error {
	return l.emit(EventTypeUserMessage, "", map[string]interface{}{
		"message": truncateString(message, 2000),
	})
}

// LogReport logs an extracted report, or the raw text and error when
// extraction failed.
func (l *Logger) LogReport(report interface{}, raw string, extractErr error) error {
	data := map[string]interface{}{}
	if extractErr != nil {
		data["error"] = extractErr.Error()
		data["raw"] = truncateString(raw, 4000)
	} else {
		data["report"] = report
	}
	return l.emit(EventTypeReport, "", data)
}

// LogSafetyDecision logs a command verdict and, when asked, whether the
// operator approved it.
func (l *Logger) LogSafetyDecision(run, command, verdict, rule string, approved bool) error {
	return l.emit(EventTypeSafetyDecision, run, map[string]interface{}{
		"command":  truncateString(command, 500),
		"verdict":  verdict,
		"rule":     rule,
		"approved": approved,
	})
}

// LogPhaseComplete logs the end of one troubleshooting phase.
func (l *Logger) LogPhaseComplete(category string, services []string, duration time.Duration, phaseErr error) error {
	data := map[string]interface{}{
		"category":    category,
		"services":    services,
		"duration_ms": duration.Milliseconds(),
		"success":     phaseErr == nil,
	}
	if phaseErr != nil {
		data["error"] = phaseErr.Error()
	}
	return l.emit(EventTypePhaseComplete, "troubleshoot:"+category, data)
}

// LogError logs an error during processing.
func (l *Logger) LogError(run string, err error) error {
	return l.emit(EventTypeError, run, map[string]interface{}{
		"error": err.Error(),
	})
}

// LogSessionEnd writes the aggregated session metrics followed by the
// session end marker.
func (l *Logger) LogSessionEnd() error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	requests, in, out := l.requests, l.inputTokens, l.outputTokens
	l.mutex.Unlock()

	if err := l.emit(EventTypeSessionMetrics, "", map[string]interface{}{
		"total_llm_requests":  requests,
		"total_input_tokens":  in,
		"total_output_tokens": out,
		"total_tokens":        in + out,
	}); err != nil {
		return err
	}
	return l.emit(EventTypeSessionEnd, "", nil)
}

// RunStarted implements the loop observer.
func (l *Logger) RunStarted(run string) {
	if l == nil {
		return
	}
	l.observe(EventTypeRunStart, run, nil)
}

// ModelResponded implements the loop observer.
func (l *Logger) ModelResponded(run string, iteration int, resp *provider.Response) {
	if l == nil || resp == nil {
		return
	}
	l.mutex.Lock()
	l.requests++
	l.inputTokens += resp.Usage.InputTokens
	l.outputTokens += resp.Usage.OutputTokens
	l.mutex.Unlock()

	l.observe(EventTypeLLMRequest, run, map[string]interface{}{
		"iteration":     iteration,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"stop_reason":   string(resp.StopReason),
		"tool_calls":    len(resp.ToolCalls),
		"text":          truncateString(resp.Content, 2000),
	})
}

// ToolStarted implements the loop observer.
func (l *Logger) ToolStarted(run string, call provider.ToolCall) {
	if l == nil {
		return
	}
	l.observe(EventTypeToolStart, run, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"args":      truncateString(string(call.Arguments), 1000),
	})
}

// ToolFinished implements the loop observer.
func (l *Logger) ToolFinished(run string, call provider.ToolCall, result provider.Message, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.observe(EventTypeToolComplete, run, map[string]interface{}{
		"tool_name":   call.Name,
		"call_id":     call.ID,
		"success":     !result.IsError,
		"duration_ms": elapsed.Milliseconds(),
		"result":      truncateString(result.Content, 2000),
	})
}

// RunFinished implements the loop observer.
func (l *Logger) RunFinished(run string, outcome string) {
	if l == nil {
		return
	}
	l.observe(EventTypeRunComplete, run, map[string]interface{}{
		"outcome": outcome,
	})
}

// Close closes the audit logger and flushes any pending writes.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error

	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush audit log: %w", err))
	}

	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log file: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing audit log: %v", errs)
	}

	return nil
}

// truncateString truncates a string to maxLen bytes.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
