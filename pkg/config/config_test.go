package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/charon/pkg/models"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddress != ":7860" {
		t.Errorf("listen = %q", cfg.Server.ListenAddress)
	}
	if cfg.Keys.ReuseDelay != 500*time.Millisecond {
		t.Errorf("reuse delay = %v", cfg.Keys.ReuseDelay)
	}
	if cfg.Keys.RateLimitLockout != 2*time.Second {
		t.Errorf("lockout = %v", cfg.Keys.RateLimitLockout)
	}
	if cfg.Limits.MaxRetries != 3 {
		t.Errorf("max retries = %d", cfg.Limits.MaxRetries)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  listen_address: ":9999"
logging:
  level: debug
  format: text
limits:
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "8080")
	t.Setenv("CHECK_KEYS", "true")
	t.Setenv("MAX_CONTEXT_TOKENS_ANTHROPIC", "100000")
	t.Setenv("ALLOWED_MODEL_FAMILIES", "claude,gpt4o")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Env wins over file.
	if cfg.Server.ListenAddress != ":8080" {
		t.Errorf("listen = %q, want :8080", cfg.Server.ListenAddress)
	}
	// File wins over defaults.
	if cfg.Logging.Level != "debug" || cfg.Limits.MaxRetries != 5 {
		t.Errorf("level = %q, retries = %d", cfg.Logging.Level, cfg.Limits.MaxRetries)
	}
	if !cfg.Keys.CheckKeys {
		t.Error("CHECK_KEYS env not applied")
	}
	if cfg.Limits.MaxContextTokens[models.ServiceAnthropic] != 100000 {
		t.Errorf("anthropic cap = %d", cfg.Limits.MaxContextTokens[models.ServiceAnthropic])
	}
	if cfg.Limits.MaxContextTokens[models.ServiceAWS] != 100000 {
		t.Error("anthropic cap must also apply to aws")
	}
	if len(cfg.Limits.AllowedModelFamilies) != 2 {
		t.Errorf("allowed families = %v", cfg.Limits.AllowedModelFamilies)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Errorf("default config must validate: %v", err)
	}

	bad := &Config{}
	ApplyDefaults(bad)
	bad.Logging.Level = "loud"
	if err := Validate(bad); err == nil {
		t.Error("invalid log level must fail validation")
	}

	geo := &Config{}
	ApplyDefaults(geo)
	geo.Geoblock.Enabled = true
	if err := Validate(geo); err == nil {
		t.Error("geoblock without countries must fail validation")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
