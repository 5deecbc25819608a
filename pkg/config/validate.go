package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the gateway cannot safely run with.
func Validate(cfg *Config) error {
	var problems []string

	if !strings.Contains(cfg.Server.ListenAddress, ":") {
		problems = append(problems, fmt.Sprintf("server.listen_address %q must be host:port", cfg.Server.ListenAddress))
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}

	if cfg.Limits.MaxRetries < 0 {
		problems = append(problems, "limits.max_retries must not be negative")
	}
	for svc, cap := range cfg.Limits.MaxContextTokens {
		if cap < 0 {
			problems = append(problems, fmt.Sprintf("limits.max_context_tokens[%s] must not be negative", svc))
		}
	}
	if cfg.Limits.UpstreamRPS < 0 {
		problems = append(problems, "limits.upstream_rps must not be negative")
	}

	if cfg.Geoblock.Enabled && len(cfg.Geoblock.AllowedCountries) == 0 {
		problems = append(problems, "geoblock.enabled requires geoblock.allowed_countries")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
