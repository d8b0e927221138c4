// Package retry implements the attempt loop with exponential backoff used
// by the coordinator and the stream manager.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config contains configuration for retry logic
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	// (default: 3)
	MaxRetries int

	// BaseDelay is the initial delay between retries (default: 1 second)
	BaseDelay time.Duration

	// MaxDelay caps the computed delay (default: 10 seconds)
	MaxDelay time.Duration

	// JitterFactor adds ±factor randomness to each delay (default: 0.25)
	JitterFactor float64

	// ShouldRetry determines whether an error should trigger a retry.
	// If nil, all errors trigger retries.
	ShouldRetry func(error) bool

	// DelayHint extracts a server-mandated delay from an error (e.g. a
	// 429 RetryInfo). When it returns true, the hint replaces the
	// computed backoff for that attempt.
	DelayHint func(error) (time.Duration, bool)
}

// DefaultConfig returns a Config with the library defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.25,
	}
}

// Func is a function that can be retried
type Func func(ctx context.Context) error

// Do executes fn with retry logic using exponential backoff.
// The delay for attempt n is base * 2^(n-1), jittered by ±JitterFactor and
// capped at MaxDelay, unless DelayHint supplies a server-mandated delay.
func Do(ctx context.Context, cfg Config, fn Func) error {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("canceled after %d attempts: %w", attempt, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
		}

		delay := Delay(attempt+1, cfg)
		if cfg.DelayHint != nil {
			if hint, ok := cfg.DelayHint(err); ok {
				delay = hint
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("canceled after %d attempts: %w", attempt+1, lastErr)
		case <-timer.C:
		}
	}
}

// Delay computes the backoff delay for the given attempt (1-based)
func Delay(attempt int, cfg Config) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		d += d * cfg.JitterFactor * (2*rand.Float64() - 1)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}
