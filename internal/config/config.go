// Package config loads boxfixer configuration from defaults, an optional YAML
// file, BOXFIXER_* environment variables and the QA credentials file.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Safety modes accepted by safety.mode.
const (
	SafetyOff        = "off"
	SafetySupervised = "supervised"
	SafetyAutonomous = "autonomous"
)

// Model providers accepted by model.provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderScripted  = "scripted"
)

// DefaultServices is the service list probed when none is configured.
var DefaultServices = []string{
	"crypto_cashier_paymentapi",
	"kyc_identity_verification",
	"service-kyc-rules",
	"service-business-rule",
	"passkeys",
	"deriv-redis-passkeys",
	"deriv-passkeys-gray",
	"pgbouncer",
	"pgbouncer-chart",
	"pgbouncer-chart-gray",
	"dd_agent",
}

// DefaultCategoryRules groups DefaultServices for troubleshooting.
var DefaultCategoryRules = []CategoryRule{
	{Name: "kyc_services", Patterns: []string{"*kyc*", "service-business-rule*"}},
	{Name: "payment", Patterns: []string{"*paymentapi*", "crypto_cashier*"}},
	{Name: "passkeys", Patterns: []string{"*passkeys*"}},
	{Name: "database", Patterns: []string{"pgbouncer*"}},
	{Name: "monitoring", Patterns: []string{"dd_agent*"}},
}

// Config holds all boxfixer configuration.
type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Agent       AgentConfig       `yaml:"agent"`
	Safety      SafetyConfig      `yaml:"safety"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Categories  CategoryConfig    `yaml:"categories"`
	// Prompts overrides built-in prompt templates by name.
	Prompts map[string]string `yaml:"prompts"`
	Audit   AuditConfig       `yaml:"audit"`
	Tracing TracingConfig     `yaml:"tracing"`
	Metrics MetricsConfig     `yaml:"metrics"`

	// CredentialsFile is a flat YAML map (API_KEY, API_BASE, ...) used to
	// fill model credentials that are not set otherwise.
	CredentialsFile string `yaml:"credentials_file"`
}

type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// ScenarioFile drives the scripted provider.
	ScenarioFile string `yaml:"scenario_file"`
}

type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	ParallelReadOnly bool          `yaml:"parallel_read_only"`
	Interactive      bool          `yaml:"interactive"`
}

type SafetyConfig struct {
	Mode           string        `yaml:"mode"`
	DenyPatterns   []string      `yaml:"deny_patterns"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type DiagnosticsConfig struct {
	Services []string `yaml:"services"`
	// Probes is the probe order; any of systemd, docker, kubernetes.
	Probes         []string      `yaml:"probes"`
	StepsFile      string        `yaml:"steps_file"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl"`
	// Namespace overrides the namespace derived from the hostname.
	Namespace  string `yaml:"namespace"`
	Kubeconfig string `yaml:"kubeconfig"`

	CPUWarnPercent    float64 `yaml:"cpu_warn_percent"`
	MemoryWarnPercent float64 `yaml:"memory_warn_percent"`
	DiskWarnPercent   float64 `yaml:"disk_warn_percent"`
	DiskPath          string  `yaml:"disk_path"`
	CommandShell      string  `yaml:"command_shell"`
}

type CategoryConfig struct {
	Default string         `yaml:"default"`
	Rules   []CategoryRule `yaml:"rules"`
}

// CategoryRule assigns services matching any glob pattern to Name.
type CategoryRule struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

type AuditConfig struct {
	Path string `yaml:"path"`
}

type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	TLSCAPath string `yaml:"tls_ca_path"`
	// TLSInsecure enables TLS without certificate verification.
	TLSInsecure bool `yaml:"tls_insecure"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is overridden.
// Slice defaults (services, probes, category rules) are applied after
// loading so that a configured list replaces them instead of merging.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    ProviderAnthropic,
			Name:        "claude-sonnet-4-5-20250929",
			MaxTokens:   4096,
			Temperature: 0,
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			ToolTimeout:   30 * time.Second,
			Interactive:   true,
		},
		Safety: SafetyConfig{
			Mode:           SafetySupervised,
			ConfirmTimeout: 2 * time.Minute,
		},
		Diagnostics: DiagnosticsConfig{
			StatusCacheTTL:    10 * time.Second,
			CPUWarnPercent:    85,
			MemoryWarnPercent: 85,
			DiskWarnPercent:   85,
			DiskPath:          "/",
			CommandShell:      "/bin/sh",
		},
		Categories: CategoryConfig{
			Default: "general",
		},
		Prompts:         map[string]string{},
		CredentialsFile: "/etc/rmg/qa_credentials.yml",
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
		},
	}
}

func (c *Config) applySliceDefaults() {
	if len(c.Diagnostics.Services) == 0 {
		c.Diagnostics.Services = append([]string(nil), DefaultServices...)
	}
	if len(c.Diagnostics.Probes) == 0 {
		c.Diagnostics.Probes = []string{"systemd", "docker", "kubernetes"}
	}
	if len(c.Categories.Rules) == 0 {
		c.Categories.Rules = append([]CategoryRule(nil), DefaultCategoryRules...)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderAnthropic, ProviderGemini:
	case ProviderScripted:
		if c.Model.ScenarioFile == "" {
			return NewConfigError("model.scenario_file must be set for the scripted provider")
		}
	default:
		return NewConfigError(fmt.Sprintf("model.provider %q is not one of anthropic, gemini, scripted", c.Model.Provider))
	}

	if c.Agent.MaxIterations < 1 {
		return NewConfigError("agent.max_iterations must be at least 1")
	}
	if c.Agent.ToolTimeout <= 0 {
		return NewConfigError("agent.tool_timeout must be positive")
	}

	switch c.Safety.Mode {
	case SafetyOff, SafetySupervised, SafetyAutonomous:
	default:
		return NewConfigError(fmt.Sprintf("safety.mode %q is not one of off, supervised, autonomous", c.Safety.Mode))
	}

	for _, probe := range c.Diagnostics.Probes {
		switch probe {
		case "systemd", "docker", "kubernetes":
		default:
			return NewConfigError(fmt.Sprintf("diagnostics.probes: unknown probe %q", probe))
		}
	}
	for name, pct := range map[string]float64{
		"cpu_warn_percent":    c.Diagnostics.CPUWarnPercent,
		"memory_warn_percent": c.Diagnostics.MemoryWarnPercent,
		"disk_warn_percent":   c.Diagnostics.DiskWarnPercent,
	} {
		if pct <= 0 || pct > 100 {
			return NewConfigError(fmt.Sprintf("diagnostics.%s must be in (0, 100]", name))
		}
	}

	if strings.TrimSpace(c.Categories.Default) == "" {
		return NewConfigError("categories.default must not be empty")
	}
	for i, rule := range c.Categories.Rules {
		if rule.Name == "" {
			return NewConfigError(fmt.Sprintf("categories.rules[%d]: name must not be empty", i))
		}
		if len(rule.Patterns) == 0 {
			return NewConfigError(fmt.Sprintf("categories.rules[%d] (%s): at least one pattern is required", i, rule.Name))
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

func (e *ConfigError) Error() string {
	return e.message
}
