package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/moolen/boxfixer/internal/logging"
)

// EnvPrefix prefixes environment overrides. "__" separates nesting levels:
// BOXFIXER_AGENT__MAX_ITERATIONS sets agent.max_iterations.
const EnvPrefix = "BOXFIXER_"

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File is an optional YAML config file.
	File string
	// DotEnv is an optional .env file; a missing file is ignored.
	DotEnv string
}

// Load builds the configuration: defaults, then File, then BOXFIXER_*
// environment variables, then the credentials file for unset model
// credentials. The result is validated.
func Load(opts LoadOptions) (*Config, error) {
	logger := logging.GetLogger("config")

	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %q: %w", opts.DotEnv, err)
		}
	}

	k := koanf.New(".")
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", opts.File, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applySliceDefaults()
	cfg.applyEnvCredentials()

	if cfg.CredentialsFile != "" {
		creds, err := LoadCredentials(cfg.CredentialsFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("credentials file %s not found, skipping", cfg.CredentialsFile)
		case err != nil:
			return nil, err
		default:
			cfg.applyCredentials(creds)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// LoadCredentials reads a flat YAML credentials map.
func LoadCredentials(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load credentials from %q: %w", path, err)
	}
	creds := make(map[string]string)
	for _, key := range k.Keys() {
		creds[key] = k.String(key)
	}
	return creds, nil
}

// applyEnvCredentials fills model credentials from the provider's
// conventional environment variables.
func (c *Config) applyEnvCredentials() {
	c.applyCredentials(map[string]string{
		"ANTHROPIC_API_KEY": os.Getenv("ANTHROPIC_API_KEY"),
		"GEMINI_API_KEY":    os.Getenv("GEMINI_API_KEY"),
		"GOOGLE_API_KEY":    os.Getenv("GOOGLE_API_KEY"),
		"API_KEY":           os.Getenv("API_KEY"),
		"API_BASE":          os.Getenv("API_BASE"),
	})
}

func (c *Config) applyCredentials(creds map[string]string) {
	var keys []string
	switch c.Model.Provider {
	case ProviderGemini:
		keys = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"}
	default:
		keys = []string{"ANTHROPIC_API_KEY", "API_KEY"}
	}
	if c.Model.APIKey == "" {
		for _, key := range keys {
			if v := creds[key]; v != "" {
				c.Model.APIKey = v
				break
			}
		}
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = creds["API_BASE"]
	}
}
