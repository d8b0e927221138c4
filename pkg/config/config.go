// Package config holds the process-wide knobs and environment-based
// credential discovery for the client.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names recognized by FromEnv
const (
	EnvAPIKey          = "GEMINI_API_KEY"
	EnvKeyFilePath     = "VERTEX_SERVICE_ACCOUNT"
	EnvJSONCredentials = "VERTEX_JSON_CREDENTIALS"
	EnvProjectID       = "VERTEX_PROJECT_ID"
	EnvLocation        = "VERTEX_LOCATION"
)

// Config contains all process-wide knobs, each with a default
type Config struct {
	// APIKey for the generative-language endpoint (strategy "gemini")
	APIKey string

	// KeyFilePath points at a service-account JSON key (strategy
	// "vertex_ai")
	KeyFilePath string

	// JSONCredentials is a service-account key as an inline JSON blob
	JSONCredentials []byte

	// ProjectID and Location select the Vertex endpoint
	ProjectID string
	Location  string

	// DefaultTimeout bounds one request attempt (default: 120 s)
	DefaultTimeout time.Duration

	// MaxRetries after the initial attempt (default: 3)
	MaxRetries int

	// BaseBackoff is the initial retry delay (default: 1 s)
	BaseBackoff time.Duration

	// MaxBackoff caps retry delays (default: 10 s)
	MaxBackoff time.Duration

	// ConnectTimeout bounds connection establishment (default: 5 s)
	ConnectTimeout time.Duration

	// JitterFactor adds ±factor randomness to retry delays
	// (default: 0.25)
	JitterFactor float64

	// MaxConcurrencyPerModel is the default permit pool size per
	// concurrency key (default: 4)
	MaxConcurrencyPerModel int

	// PermitTimeout bounds waiting for a permit; zero means wait
	// forever (default: 0)
	PermitTimeout time.Duration

	// WindowDuration is the sliding token-budget window (default: 60 s)
	WindowDuration time.Duration

	// BudgetSafetyMultiplier scales the usable budget (default: 1.0)
	BudgetSafetyMultiplier float64

	// AdaptiveConcurrency grows/shrinks permit pools from observed
	// outcomes (default: false)
	AdaptiveConcurrency bool

	// AdaptiveCeiling caps adaptive growth (default: 8)
	AdaptiveCeiling int

	// StreamCleanupDelay keeps finished streams queryable before
	// eviction (default: 30 s)
	StreamCleanupDelay time.Duration

	// SubscriberTimeout is the per-subscriber receive timeout between
	// stream chunks (default: 30 s)
	SubscriberTimeout time.Duration
}

// DefaultConfig returns a Config with the library defaults
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:         120 * time.Second,
		MaxRetries:             3,
		BaseBackoff:            1 * time.Second,
		MaxBackoff:             10 * time.Second,
		ConnectTimeout:         5 * time.Second,
		JitterFactor:           0.25,
		MaxConcurrencyPerModel: 4,
		WindowDuration:         60 * time.Second,
		BudgetSafetyMultiplier: 1.0,
		AdaptiveCeiling:        8,
		StreamCleanupDelay:     30 * time.Second,
		SubscriberTimeout:      30 * time.Second,
	}
}

// FromEnv builds a Config from the environment, loading a .env file first
// when one is present. Unset knobs keep their defaults.
func FromEnv() Config {
	// Missing .env is not an error
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.APIKey = os.Getenv(EnvAPIKey)
	cfg.KeyFilePath = os.Getenv(EnvKeyFilePath)
	if blob := os.Getenv(EnvJSONCredentials); blob != "" {
		cfg.JSONCredentials = []byte(blob)
	}
	cfg.ProjectID = os.Getenv(EnvProjectID)
	cfg.Location = os.Getenv(EnvLocation)

	cfg.DefaultTimeout = envDuration("GEMINI_TIMEOUT_MS", cfg.DefaultTimeout)
	cfg.MaxRetries = envInt("GEMINI_MAX_RETRIES", cfg.MaxRetries)
	cfg.BaseBackoff = envDuration("GEMINI_BASE_BACKOFF_MS", cfg.BaseBackoff)
	cfg.MaxBackoff = envDuration("GEMINI_MAX_BACKOFF_MS", cfg.MaxBackoff)
	cfg.ConnectTimeout = envDuration("GEMINI_CONNECT_TIMEOUT_MS", cfg.ConnectTimeout)
	cfg.MaxConcurrencyPerModel = envInt("GEMINI_MAX_CONCURRENCY_PER_MODEL", cfg.MaxConcurrencyPerModel)
	cfg.WindowDuration = envDuration("GEMINI_WINDOW_DURATION_MS", cfg.WindowDuration)
	cfg.AdaptiveConcurrency = envBool("GEMINI_ADAPTIVE_CONCURRENCY", cfg.AdaptiveConcurrency)
	cfg.AdaptiveCeiling = envInt("GEMINI_ADAPTIVE_CEILING", cfg.AdaptiveCeiling)
	return cfg
}

// envDuration reads a millisecond-valued env knob
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
