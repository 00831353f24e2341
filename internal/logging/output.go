package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var (
	output   io.Writer = os.Stderr
	outputMu sync.Mutex
)

// LogField is a structured key/value pair.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a LogField.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// SetOutput redirects all loggers to w and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	prev := output
	output = w
	return prev
}

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.write(level, msg, nil)
}

func (l *Logger) logWithFields(level LogLevel, msg string, fields ...LogField) {
	if !l.enabled(level) {
		return
	}
	l.write(level, msg, fields)
}

// write renders "[ts] [LEVEL] name: msg | k=v ..." with keys sorted.
// Later fields override earlier ones: context < logger < call site.
func (l *Logger) write(level LogLevel, msg string, fields []LogField) {
	merged := map[string]interface{}{}
	for k, v := range contextFields(l.ctx) {
		merged[k] = v
	}
	for _, f := range l.fields {
		merged[f.Key] = f.Value
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)
	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, merged[k])
		}
	}
	b.WriteByte('\n')

	outputMu.Lock()
	defer outputMu.Unlock()
	_, _ = io.WriteString(output, b.String())
}

func contextFields(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}

// GetTimestamp returns the RFC3339 time, or LOG_TIMESTAMP when set.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
