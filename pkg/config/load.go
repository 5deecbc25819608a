package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"mercator-hq/charon/pkg/models"
)

// Load reads configuration from an optional YAML file, applies defaults,
// layers environment overrides on top and validates the result. An empty
// path skips the file step.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides maps the environment contract onto the config struct.
// Environment variables always win over file values.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddress = ":" + port
	}
	if env := os.Getenv("NODE_ENV"); env != "" {
		cfg.Server.Environment = env
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v, ok := envBool("CHECK_KEYS"); ok {
		cfg.Keys.CheckKeys = v
	}
	if v, ok := envBool("ALLOW_AWS_LOGGING"); ok {
		cfg.Keys.AllowAWSLogging = v
	}
	if v := os.Getenv("KEY_FILE"); v != "" {
		cfg.Keys.File = v
	}

	if v, ok := envInt("MAX_CONTEXT_TOKENS_OPENAI"); ok {
		setContextCap(cfg, models.ServiceOpenAI, v)
		setContextCap(cfg, models.ServiceAzure, v)
	}
	if v, ok := envInt("MAX_CONTEXT_TOKENS_ANTHROPIC"); ok {
		setContextCap(cfg, models.ServiceAnthropic, v)
		setContextCap(cfg, models.ServiceAWS, v)
		setContextCap(cfg, models.ServiceGCP, v)
	}
	if v, ok := envInt("MAX_CONTEXT_TOKENS_GOOGLE_AI"); ok {
		setContextCap(cfg, models.ServiceGoogleAI, v)
	}
	if v := os.Getenv("ALLOWED_MODEL_FAMILIES"); v != "" {
		cfg.Limits.AllowedModelFamilies = models.ParseFamilyList(v)
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		cfg.Limits.MaxRetries = v
	}

	if v, ok := envBool("GEOBLOCK_ENABLED"); ok {
		cfg.Geoblock.Enabled = v
	}
	if v := os.Getenv("GEOBLOCK_ALLOWED_COUNTRIES"); v != "" {
		cfg.Geoblock.AllowedCountries = splitList(v)
	}
	if v := os.Getenv("USAGE_SQLITE_PATH"); v != "" {
		cfg.Usage.SQLitePath = v
	}
}

func setContextCap(cfg *Config, svc models.Service, v int) {
	if cfg.Limits.MaxContextTokens == nil {
		cfg.Limits.MaxContextTokens = make(map[models.Service]int)
	}
	cfg.Limits.MaxContextTokens[svc] = v
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
