// Package polling drives long-running operations to completion.
package polling

import (
	"context"
	"fmt"
	"time"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
)

// Fetcher retrieves the current state of an operation
type Fetcher func(ctx context.Context) (*gemini.Operation, error)

// Options configures polling behavior
type Options struct {
	// Interval is the initial polling interval (default: 2 seconds)
	Interval time.Duration

	// Timeout is the maximum total polling time (default: 5 minutes)
	Timeout time.Duration

	// MaxAttempts caps the number of polls (default: unlimited)
	MaxAttempts int

	// BackoffMultiplier grows the interval each poll (default: 1.0,
	// no backoff)
	BackoffMultiplier float64

	// MaxInterval caps the grown interval (default: 30 seconds)
	MaxInterval time.Duration

	// OnProgress is invoked after each poll with the latest operation
	// state, including the terminal one
	OnProgress func(op *gemini.Operation)
}

// DefaultOptions returns the default polling options
func DefaultOptions() Options {
	return Options{
		Interval:          2 * time.Second,
		Timeout:           5 * time.Minute,
		BackoffMultiplier: 1.0,
		MaxInterval:       30 * time.Second,
	}
}

// WaitForDone polls an operation until it reports done, the context is
// canceled, or the timeout expires. A done operation with a populated
// Error is returned alongside an error describing the failure.
func WaitForDone(ctx context.Context, fetch Fetcher, opts Options) (*gemini.Operation, error) {
	if opts.Interval == 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.BackoffMultiplier == 0 {
		opts.BackoffMultiplier = 1.0
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 30 * time.Second
	}

	interval := opts.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			return nil, fmt.Errorf("operation polling timeout after %v", opts.Timeout)

		case <-ticker.C:
			attempts++
			if opts.MaxAttempts > 0 && attempts > opts.MaxAttempts {
				return nil, fmt.Errorf("max polling attempts (%d) reached", opts.MaxAttempts)
			}

			op, err := fetch(ctx)
			if err != nil {
				return nil, fmt.Errorf("operation poll failed: %w", err)
			}
			if opts.OnProgress != nil {
				opts.OnProgress(op)
			}

			if op.Done {
				if op.Error != nil {
					return op, fmt.Errorf("operation %s failed: %d %s", op.Name, op.Error.Code, op.Error.Message)
				}
				return op, nil
			}

			// Grow the interval if backoff is configured
			if opts.BackoffMultiplier > 1.0 {
				next := time.Duration(float64(interval) * opts.BackoffMultiplier)
				if next > opts.MaxInterval {
					next = opts.MaxInterval
				}
				if next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}
}
