// Package tools defines the tool contract the agent loop invokes, the
// registry that resolves tool names, and the timeout-bounded invocation that
// turns handler failures into ToolErrors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MaxToolResponseBytes caps the rendered data of a single tool result.
// 50KB is roughly 12,500 tokens.
const MaxToolResponseBytes = 50 * 1024

// Tool is an operation the model may request.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// InputSchema returns the JSON Schema of the arguments object.
	InputSchema() map[string]interface{}

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// ReadOnly is implemented by tools without side effects. Only read-only
// tools are eligible for parallel execution.
type ReadOnly interface {
	ReadOnly() bool
}

// IsReadOnly reports whether t declares itself read-only.
func IsReadOnly(t Tool) bool {
	ro, ok := t.(ReadOnly)
	return ok && ro.ReadOnly()
}

// TimeoutOverride is implemented by tools that need a different call
// timeout than the registry default, e.g. because they wait for the operator.
type TimeoutOverride interface {
	CallTimeout() time.Duration
}

// Result represents the output of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success"`

	// Data contains the tool's output (tool-specific structure)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details if Success is false
	Error string `json:"error,omitempty"`

	// Summary is a brief description of what happened (for display)
	Summary string `json:"summary,omitempty"`

	// ExecutionTimeMs is how long the tool took to run
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// OK returns a successful result.
func OK(data interface{}, summary string) *Result {
	return &Result{Success: true, Data: data, Summary: summary}
}

// Failed returns an unsuccessful result that is still reported to the model.
func Failed(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Render returns the JSON text sent back to the model.
func (r *Result) Render() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, "unencodable tool result: "+err.Error())
	}
	return string(data)
}

type truncatedData struct {
	Truncated      bool   `json:"_truncated"`
	OriginalBytes  int    `json:"_original_bytes"`
	TruncatedBytes int    `json:"_truncated_bytes"`
	TruncationNote string `json:"_truncation_note"`
	PartialData    string `json:"partial_data"`
}

// truncateResult replaces oversized Data with a truncation envelope that
// keeps the first 80% of the allowed bytes.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}
	dataBytes, err := json.Marshal(result.Data)
	if err != nil || len(dataBytes) <= maxBytes {
		return result
	}

	partial := string(dataBytes)
	if limit := maxBytes * 80 / 100; len(partial) > limit {
		partial = partial[:limit]
	}

	summary := fmt.Sprintf("[TRUNCATED: %d→%d bytes]", len(dataBytes), maxBytes)
	if result.Summary != "" {
		summary = result.Summary + " " + summary
	}
	return &Result{
		Success: result.Success,
		Data: &truncatedData{
			Truncated:      true,
			OriginalBytes:  len(dataBytes),
			TruncatedBytes: maxBytes,
			TruncationNote: fmt.Sprintf("Output truncated from %d to ~%d bytes. Narrow the request to see the rest.", len(dataBytes), maxBytes),
			PartialData:    partial,
		},
		Error:           result.Error,
		Summary:         summary,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}

// ErrorKind classifies a ToolError.
type ErrorKind int

const (
	// KindTimeout means the handler did not finish within its deadline.
	KindTimeout ErrorKind = iota + 1
	// KindHandlerFailure means the handler returned an error or panicked.
	KindHandlerFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHandlerFailure:
		return "handler_failure"
	}
	return "unknown"
}

// ToolError is a failed tool invocation. The agent loop reports it to the
// model as a failed result instead of aborting.
type ToolError struct {
	Kind    ErrorKind
	Tool    string
	Timeout time.Duration
	Err     error
}

func (e *ToolError) Error() string {
	if e.Kind == KindTimeout {
		return fmt.Sprintf("tool %q timed out after %s", e.Tool, e.Timeout)
	}
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ArgumentError reports arguments that do not match a tool's schema.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}
