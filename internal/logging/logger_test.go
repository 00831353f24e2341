package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	t.Setenv("LOG_TIMESTAMP", "2024-01-01T00:00:00Z")
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(prev)
		_ = Initialize("info")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	if err := Initialize("warn"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	logger := GetLogger("agent.loop")
	logger.Debug("debug %d", 1)
	logger.Info("info")
	logger.Warn("warn %s", "x")
	logger.Error("error")

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "] info") {
		t.Errorf("expected debug and info to be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, "[2024-01-01T00:00:00Z] [WARN] agent.loop: warn x") {
		t.Errorf("missing warn line, got:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] agent.loop: error") {
		t.Errorf("missing error line, got:\n%s", out)
	}
}

func TestInitializeInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := capture(t)
	if err := Initialize("loud"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	GetLogger("x").Debug("hidden")
	GetLogger("x").Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestFieldsAreSortedAndOverridden(t *testing.T) {
	buf := capture(t)
	_ = Initialize("debug")

	logger := GetLogger("agent.tools").WithField("tool", "a").WithFields(Field("phase", "kyc"))
	logger.InfoWithFields("done", Field("tool", "b"), Field("duration_ms", 12))

	line := strings.TrimSpace(buf.String())
	want := "[INFO] agent.tools: done | duration_ms=12 phase=kyc tool=b"
	if !strings.HasSuffix(line, want) {
		t.Errorf("got %q, want suffix %q", line, want)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	buf := capture(t)
	parent := GetLogger("p")
	_ = parent.WithField("child", true)
	parent.Info("hello")
	if strings.Contains(buf.String(), "child") {
		t.Errorf("parent logger picked up child field: %s", buf.String())
	}
}

func TestErrorWithErr(t *testing.T) {
	buf := capture(t)
	GetLogger("p").ErrorWithErr("probe failed", errors.New("boom"))
	if !strings.Contains(buf.String(), "probe failed | error=boom") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestFatalCallsExit(t *testing.T) {
	buf := capture(t)
	code := -1
	prev := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = prev }()

	GetLogger("cmd").Fatal("cannot start: %s", "no config")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "[FATAL] cmd: cannot start: no config") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	buf := capture(t)
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	GetLogger("agent").WithContext(ctx).Info("traced")
	out := buf.String()
	if !strings.Contains(out, "span_id=0102030405060708") || !strings.Contains(out, "trace_id=0102030405060708090a0b0c0d0e0f10") {
		t.Errorf("missing trace fields: %s", out)
	}

	buf.Reset()
	GetLogger("agent").WithContext(context.Background()).Info("untraced")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace fields: %s", buf.String())
	}
}

func TestPackageLevels(t *testing.T) {
	buf := capture(t)
	err := Initialize("warn", map[string]string{
		"agent.*":    "debug",
		"agent.loop": "error",
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	GetLogger("agent.tools").Debug("tools debug")
	GetLogger("agent.loop").Warn("loop warn")
	GetLogger("diagnostics").Info("diag info")

	out := buf.String()
	if !strings.Contains(out, "tools debug") {
		t.Errorf("wildcard override not applied: %s", out)
	}
	if strings.Contains(out, "loop warn") {
		t.Errorf("exact override should win over wildcard: %s", out)
	}
	if strings.Contains(out, "diag info") {
		t.Errorf("default level not applied: %s", out)
	}
}

func TestSetPackageLogLevelsRejectsUnknownLevel(t *testing.T) {
	if err := SetPackageLogLevels(map[string]string{"agent": "chatty"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"agent.loop", "agent.loop", true},
		{"agent.loop", "agent.*", true},
		{"agent", "agent.*", false},
		{"agentx.loop", "agent.*", false},
		{"diagnostics", "agent.*", false},
	}
	for _, tt := range tests {
		if got := matchesPattern(tt.name, tt.pattern); got != tt.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tt.name, tt.pattern, got, tt.want)
		}
	}
}

func TestSubLogger(t *testing.T) {
	if got := GetLogger("agent").SubLogger("loop").Name(); got != "agent.loop" {
		t.Errorf("SubLogger name = %q", got)
	}
}
