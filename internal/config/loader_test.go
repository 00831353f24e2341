package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY", "API_BASE"} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearCredentialEnv(t)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, SafetySupervised, cfg.Safety.Mode)
	assert.Equal(t, DefaultServices, cfg.Diagnostics.Services)
	assert.Equal(t, []string{"systemd", "docker", "kubernetes"}, cfg.Diagnostics.Probes)
	assert.Equal(t, "general", cfg.Categories.Default)
	assert.Len(t, cfg.Categories.Rules, len(DefaultCategoryRules))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearCredentialEnv(t)
	path := writeFile(t, "boxfixer.yaml", `
model:
  provider: gemini
  name: gemini-2.5-flash
agent:
  max_iterations: 4
  tool_timeout: 5s
safety:
  mode: autonomous
  deny_patterns:
    - "\\bredis-cli\\s+flushall\\b"
diagnostics:
  services: [svcA, svcB]
categories:
  default: misc
  rules:
    - name: docker
      patterns: ["svc*"]
prompts:
  system: "custom {{.Services}}"
`)

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.Model.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model.Name)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, 5*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, SafetyAutonomous, cfg.Safety.Mode)
	assert.Equal(t, []string{`\bredis-cli\s+flushall\b`}, cfg.Safety.DenyPatterns)
	assert.Equal(t, []string{"svcA", "svcB"}, cfg.Diagnostics.Services)
	assert.Equal(t, "misc", cfg.Categories.Default)
	require.Len(t, cfg.Categories.Rules, 1)
	assert.Equal(t, "docker", cfg.Categories.Rules[0].Name)
	assert.Equal(t, "custom {{.Services}}", cfg.Prompts["system"])
	// untouched defaults survive
	assert.Equal(t, 4096, cfg.Model.MaxTokens)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearCredentialEnv(t)
	path := writeFile(t, "boxfixer.yaml", "agent:\n  max_iterations: 4\n")
	t.Setenv("BOXFIXER_AGENT__MAX_ITERATIONS", "7")
	t.Setenv("BOXFIXER_SAFETY__MODE", "off")

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, SafetyOff, cfg.Safety.Mode)
}

func TestLoad_DotEnv(t *testing.T) {
	clearCredentialEnv(t)
	// godotenv never overrides variables that are already present
	require.NoError(t, os.Unsetenv("ANTHROPIC_API_KEY"))
	dotenv := writeFile(t, ".env", "ANTHROPIC_API_KEY=from-dotenv\n")

	cfg, err := Load(LoadOptions{DotEnv: dotenv})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Model.APIKey)
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	clearCredentialEnv(t)
	_, err := Load(LoadOptions{DotEnv: filepath.Join(t.TempDir(), ".env")})
	assert.NoError(t, err)
}

func TestLoad_CredentialsFile(t *testing.T) {
	clearCredentialEnv(t)
	creds := writeFile(t, "qa_credentials.yml", "API_KEY: sk-file\nAPI_BASE: https://litellm.example\n")
	path := writeFile(t, "boxfixer.yaml", "credentials_file: "+creds+"\n")

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Model.APIKey)
	assert.Equal(t, "https://litellm.example", cfg.Model.BaseURL)
}

func TestLoad_EnvKeyBeatsCredentialsFile(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	creds := writeFile(t, "qa_credentials.yml", "API_KEY: sk-file\n")
	path := writeFile(t, "boxfixer.yaml", "credentials_file: "+creds+"\n")

	cfg, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Model.APIKey)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "agent: [unclosed\n")
	_, err := Load(LoadOptions{File: path})
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown provider", func(c *Config) { c.Model.Provider = "openai" }},
		{"scripted without scenario", func(c *Config) { c.Model.Provider = ProviderScripted }},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"zero timeout", func(c *Config) { c.Agent.ToolTimeout = 0 }},
		{"unknown safety mode", func(c *Config) { c.Safety.Mode = "yolo" }},
		{"unknown probe", func(c *Config) { c.Diagnostics.Probes = []string{"nomad"} }},
		{"threshold above 100", func(c *Config) { c.Diagnostics.DiskWarnPercent = 120 }},
		{"empty default category", func(c *Config) { c.Categories.Default = " " }},
		{"rule without patterns", func(c *Config) { c.Categories.Rules = []CategoryRule{{Name: "x"}} }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.applySliceDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}

	cfg := Default()
	cfg.applySliceDefaults()
	assert.NoError(t, cfg.Validate())
}
