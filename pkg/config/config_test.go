package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultTimeout != 120*time.Second {
		t.Errorf("unexpected default timeout: %v", cfg.DefaultTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("unexpected max retries: %d", cfg.MaxRetries)
	}
	if cfg.BaseBackoff != time.Second || cfg.MaxBackoff != 10*time.Second {
		t.Errorf("unexpected backoff: %v / %v", cfg.BaseBackoff, cfg.MaxBackoff)
	}
	if cfg.MaxConcurrencyPerModel != 4 {
		t.Errorf("unexpected concurrency: %d", cfg.MaxConcurrencyPerModel)
	}
	if cfg.WindowDuration != time.Minute {
		t.Errorf("unexpected window: %v", cfg.WindowDuration)
	}
	if cfg.BudgetSafetyMultiplier != 1.0 {
		t.Errorf("unexpected multiplier: %v", cfg.BudgetSafetyMultiplier)
	}
	if cfg.AdaptiveConcurrency {
		t.Error("adaptive concurrency must default to off")
	}
	if cfg.AdaptiveCeiling != 8 {
		t.Errorf("unexpected adaptive ceiling: %d", cfg.AdaptiveCeiling)
	}
	if cfg.PermitTimeout != 0 {
		t.Errorf("permit timeout must default to infinite (0), got %v", cfg.PermitTimeout)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvProjectID, "env-project")
	t.Setenv(EnvLocation, "us-central1")
	t.Setenv("GEMINI_MAX_RETRIES", "7")
	t.Setenv("GEMINI_BASE_BACKOFF_MS", "250")
	t.Setenv("GEMINI_ADAPTIVE_CONCURRENCY", "true")

	cfg := FromEnv()

	if cfg.APIKey != "env-key" {
		t.Errorf("unexpected api key: %q", cfg.APIKey)
	}
	if cfg.ProjectID != "env-project" || cfg.Location != "us-central1" {
		t.Errorf("unexpected project/location: %q/%q", cfg.ProjectID, cfg.Location)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("unexpected max retries: %d", cfg.MaxRetries)
	}
	if cfg.BaseBackoff != 250*time.Millisecond {
		t.Errorf("unexpected base backoff: %v", cfg.BaseBackoff)
	}
	if !cfg.AdaptiveConcurrency {
		t.Error("adaptive concurrency should be enabled from env")
	}
}

func TestFromEnv_MalformedValuesKeepDefaults(t *testing.T) {
	t.Setenv("GEMINI_MAX_RETRIES", "not a number")
	t.Setenv("GEMINI_WINDOW_DURATION_MS", "-5")

	cfg := FromEnv()
	if cfg.MaxRetries != 3 {
		t.Errorf("malformed int must keep default, got %d", cfg.MaxRetries)
	}
	if cfg.WindowDuration != time.Minute {
		t.Errorf("negative duration must keep default, got %v", cfg.WindowDuration)
	}
}
