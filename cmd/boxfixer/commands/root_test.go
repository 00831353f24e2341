package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/moolen/boxfixer/internal/config"
)

func TestParseLogLevelFlags(t *testing.T) {
	tests := []struct {
		name         string
		flags        []string
		env          map[string]string
		wantDefault  string
		wantPackages map[string]string
		wantErr      bool
	}{
		{name: "default only", flags: []string{"debug"}, wantDefault: "debug", wantPackages: map[string]string{}},
		{name: "no flags", wantDefault: "warn", wantPackages: map[string]string{}},
		{
			name:         "per package",
			flags:        []string{"default=info", "agent.loop=debug"},
			wantDefault:  "info",
			wantPackages: map[string]string{"agent.loop": "debug"},
		},
		{
			name:         "env var overridden by flag",
			flags:        []string{"agent.loop=error"},
			env:          map[string]string{"LOG_LEVEL_AGENT_LOOP": "debug", "LOG_LEVEL_DIAGNOSTICS": "info"},
			wantDefault:  "warn",
			wantPackages: map[string]string{"agent.loop": "error", "diagnostics": "info"},
		},
		{name: "invalid default", flags: []string{"verbose"}, wantErr: true},
		{name: "invalid package level", flags: []string{"mcp=loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			def, pkgs, err := parseLogLevelFlags(tt.flags)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if def != tt.wantDefault {
				t.Errorf("default = %q, want %q", def, tt.wantDefault)
			}
			for pkg, level := range tt.wantPackages {
				if pkgs[pkg] != level {
					t.Errorf("level[%s] = %q, want %q", pkg, pkgs[pkg], level)
				}
			}
		})
	}
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	if got := convertEnvKeyToPackageName("LOG_LEVEL_AGENT_TROUBLESHOOT"); got != "agent.troubleshoot" {
		t.Errorf("got %q", got)
	}
}

func TestApplyAgentFlags(t *testing.T) {
	cmd := runAgentCmd
	t.Cleanup(func() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
		agentNoInteractive, agentSafetyMode, agentModel = false, "", ""
	})

	cfg := config.Default()
	cfg.Diagnostics.Services = []string{"passkeys"}
	cfg.Diagnostics.Probes = []string{"systemd"}

	if err := cmd.Flags().Set("no-interactive", "true"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("safety-mode", "off"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("model", "claude-haiku"); err != nil {
		t.Fatal(err)
	}
	if err := applyAgentFlags(cmd, cfg); err != nil {
		t.Fatalf("applyAgentFlags: %v", err)
	}
	if cfg.Agent.Interactive {
		t.Error("expected interactive to be disabled")
	}
	if cfg.Safety.Mode != "off" || cfg.Model.Name != "claude-haiku" {
		t.Errorf("flags not applied: mode=%q model=%q", cfg.Safety.Mode, cfg.Model.Name)
	}
	if cfg.Audit.Path != "" {
		t.Errorf("unset flag overrode audit path: %q", cfg.Audit.Path)
	}

	if err := cmd.Flags().Set("safety-mode", "yolo"); err != nil {
		t.Fatal(err)
	}
	if err := applyAgentFlags(cmd, cfg); err == nil {
		t.Error("expected validation error for unknown safety mode")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGetTroubleshootingSteps(t *testing.T) {
	text, err := execute(t, "get-tb-steps", "Payment", "-o", "text")
	if err != nil {
		t.Fatalf("get-tb-steps: %v", err)
	}
	if !strings.Contains(text, "Troubleshooting: payment") {
		t.Errorf("unexpected output %q", text)
	}

	text, err = execute(t, "get-tb-steps", "passkeys", "-o", "json")
	if err != nil {
		t.Fatalf("get-tb-steps json: %v", err)
	}
	var guide map[string]interface{}
	if err := json.Unmarshal([]byte(text), &guide); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, text)
	}
	if _, ok := guide["common_fixes"]; !ok {
		t.Errorf("missing common_fixes in %v", guide)
	}

	_, err = execute(t, "get-tb-steps", "frontend", "-o", "text")
	if err == nil || !strings.Contains(err.Error(), `unknown category "frontend"`) {
		t.Errorf("expected unknown category error, got %v", err)
	}

	_, err = execute(t, "get-tb-steps", "payment", "-o", "yaml")
	if err == nil {
		t.Error("expected error for unknown output format")
	}
}
