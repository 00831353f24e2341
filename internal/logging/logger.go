// Package logging provides the named, levelled loggers used across boxfixer.
//
// Loggers are cheap values obtained by name:
//
//	logger := logging.GetLogger("agent.loop")
//	logger.Info("starting run %s", runID)
//	logger.InfoWithFields("tool completed",
//	    logging.Field("tool", name),
//	    logging.Field("duration_ms", elapsed.Milliseconds()),
//	)
//
// Levels can be overridden per logger name, with "agent.*" style wildcards:
//
//	logging.Initialize("info", map[string]string{"agent.*": "debug"})
//
// All output goes to a single writer (stderr unless SetOutput is called) so
// that log lines never interleave with rendered reports on stdout.
//
// A logger bound to a context with WithContext includes the OpenTelemetry
// trace_id and span_id of the active span, if any.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"
)

var (
	globalLevel = INFO
	globalMu    sync.RWMutex
	// exitFunc is called by Fatal. Tests replace it.
	exitFunc = os.Exit
)

// Initialize sets the default level and optional per-logger overrides.
// An unknown default level falls back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalMu.Lock()
	globalLevel = level
	globalMu.Unlock()

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		return SetPackageLogLevels(packageLevels[0])
	}
	return SetPackageLogLevels(map[string]string{})
}

// GetLogger returns a logger with the given name.
func GetLogger(name string) *Logger {
	return &Logger{name: name}
}

// Logger writes levelled, optionally structured, log lines.
// A Logger is immutable; With* methods return copies.
type Logger struct {
	name   string
	fields []LogField
	ctx    context.Context
}

// Name returns the logger name.
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) enabled(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	globalMu.RLock()
	defer globalMu.RUnlock()
	return level >= globalLevel
}

// Debug logs a formatted debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.logf(DEBUG, msg, args...) }

// Info logs a formatted info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.logf(INFO, msg, args...) }

// Warn logs a formatted warning.
func (l *Logger) Warn(msg string, args ...interface{}) { l.logf(WARN, msg, args...) }

// Error logs a formatted error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.logf(ERROR, msg, args...) }

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.enabled(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// ErrorWithErr logs msg followed by err.
func (l *Logger) ErrorWithErr(msg string, err error) {
	l.logWithFields(ERROR, msg, Field("error", err))
}

// DebugWithFields logs a debug message with structured fields.
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	l.logWithFields(DEBUG, msg, fields...)
}

// InfoWithFields logs an info message with structured fields.
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	l.logWithFields(INFO, msg, fields...)
}

// WarnWithFields logs a warning with structured fields.
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	l.logWithFields(WARN, msg, fields...)
}

// ErrorWithFields logs an error message with structured fields.
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	l.logWithFields(ERROR, msg, fields...)
}

// WithName returns a copy of the logger with a different name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{name: name, fields: l.fields, ctx: l.ctx}
}

// WithField returns a copy of the logger that always includes key=value.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a copy of the logger that always includes fields.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	merged := make([]LogField, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{name: l.name, fields: merged, ctx: l.ctx}
}

// WithContext returns a copy of the logger bound to ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{name: l.name, fields: l.fields, ctx: ctx}
}

// SubLogger returns a child logger named "<parent>.<suffix>".
func (l *Logger) SubLogger(suffix string) *Logger {
	return l.WithName(strings.TrimSuffix(l.name, ".") + "." + suffix)
}
