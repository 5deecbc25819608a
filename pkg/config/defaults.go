package config

import "time"

// ApplyDefaults fills unset fields with production defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":7860"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Long enough for slow streams; per-request deadlines do the real
		// bounding.
		cfg.Server.WriteTimeout = 15 * time.Minute
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "production"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Keys.ReuseDelay == 0 {
		cfg.Keys.ReuseDelay = 500 * time.Millisecond
	}
	if cfg.Keys.RateLimitLockout == 0 {
		cfg.Keys.RateLimitLockout = 2 * time.Second
	}

	if cfg.Limits.MaxRetries == 0 {
		cfg.Limits.MaxRetries = 3
	}
	if cfg.Limits.StreamIdleTimeout == 0 {
		cfg.Limits.StreamIdleTimeout = 60 * time.Second
	}
	if cfg.Limits.RequestTimeout == 0 {
		cfg.Limits.RequestTimeout = 10 * time.Minute
	}
}
