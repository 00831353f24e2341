package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/boxfixer/internal/config"
	"github.com/moolen/boxfixer/internal/logging"
)

// Version is reported by --version and as the tracing service version.
var Version = "0.1.0"

var (
	logLevelFlags []string // Supports multiple --log-level flags
	configFile    string
	envFile       string
)

var rootCmd = &cobra.Command{
	Use:   "boxfixer",
	Short: "BoxFixer - diagnostic assistant for QA boxes",
	Long: `BoxFixer checks the services of a QA box, asks a language model to assess
their health and walks through the troubleshooting steps of every failing
service category, running commands only as the safety mode allows.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLog(logLevelFlags)
	},
}

// Execute runs the root command and prints the error, if any, to stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level agent.loop=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"warn"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level agent.loop=debug --log-level diagnostics=info")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Path to a .env file loaded before the environment overrides (ignored if missing)")

	rootCmd.AddCommand(runAgentCmd)
	rootCmd.AddCommand(checkServicesCmd)
	rootCmd.AddCommand(checkResourcesCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(mcpCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.LoadOptions{File: configFile, DotEnv: envFile})
}

// setupLog initializes the logging system with parsed log level flags.
// Logs go to stderr so they never interleave with rendered output.
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	if err := logging.Initialize(defaultLevel, packageLevels); err != nil {
		return err
	}
	logging.SetOutput(os.Stderr)
	return nil
}

// parseLogLevelFlags parses CLI flags and environment variables.
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "agent.loop=debug"], or ["info"]
// Env vars: LOG_LEVEL_AGENT_LOOP=debug (package name uppercased, dots to underscores)
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[convertEnvKeyToPackageName(parts[0])] = parts[1]
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := "warn"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}
	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}
	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_AGENT_LOOP -> agent.loop
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
}
