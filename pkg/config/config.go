package config

import (
	"time"

	"mercator-hq/charon/pkg/models"
)

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Keys      KeysConfig      `yaml:"keys"`
	Limits    LimitsConfig    `yaml:"limits"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Geoblock  GeoblockConfig  `yaml:"geoblock"`
	Usage     UsageConfig     `yaml:"usage"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	// ListenAddress is host:port; a set PORT env var replaces the whole value
	// with ":" + PORT.
	ListenAddress string `yaml:"listen_address"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Environment is "development" or "production".
	Environment string `yaml:"environment"`
}

// LoggingConfig tunes slog.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// KeysConfig tunes the credential pool.
type KeysConfig struct {
	// CheckKeys enables the periodic credential rechecker.
	CheckKeys bool `yaml:"check_keys"`

	// File is an optional YAML credential file, hot-reloaded on change.
	File string `yaml:"file"`

	// ReuseDelay is the forced jitter after every key handout.
	ReuseDelay time.Duration `yaml:"reuse_delay"`

	// RateLimitLockout is the default sit-out window after an upstream 429.
	RateLimitLockout time.Duration `yaml:"rate_limit_lockout"`

	// AllowAWSLogging permits dispatch to AWS keys whose invocation logging
	// is confirmed enabled. When false only those keys are excluded; keys
	// whose logging status is "unknown" are dispatched either way.
	AllowAWSLogging bool `yaml:"allow_aws_logging"`
}

// LimitsConfig bounds admission.
type LimitsConfig struct {
	// MaxRetries caps re-enqueues per request.
	MaxRetries int `yaml:"max_retries"`

	// MaxContextTokens caps prompt+output tokens per service; zero entries
	// fall back to the model window alone.
	MaxContextTokens map[models.Service]int `yaml:"max_context_tokens"`

	// AllowedModelFamilies filters which families the gateway serves. Empty
	// means all.
	AllowedModelFamilies []models.Family `yaml:"allowed_model_families"`

	// StreamIdleTimeout aborts streams with no upstream traffic.
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`

	// RequestTimeout is the end-to-end cap on blocking requests.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// UpstreamRPS paces dispatches per service; zero disables.
	UpstreamRPS float64 `yaml:"upstream_rps"`
}

// UpstreamsConfig overrides provider endpoints, keyed by service.
type UpstreamsConfig struct {
	BaseURLs map[models.Service]string `yaml:"base_urls"`
}

// GeoblockConfig configures the ingress country filter, enforced by an
// external collaborator.
type GeoblockConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedCountries []string `yaml:"allowed_countries"`
}

// UsageConfig selects the user-store backend.
type UsageConfig struct {
	// SQLitePath persists per-token usage when set; empty keeps usage in
	// memory.
	SQLitePath string `yaml:"sqlite_path"`
}
