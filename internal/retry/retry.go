/*
PURPOSE:
  Generic retry with exponential backoff for operations that may fail
  transiently (pretrained weight downloads).

REQUIREMENTS:
  Implementation-discovered:
  - The caller decides which errors are worth another attempt.
  - Waiting between attempts stops as soon as the context is cancelled.
  - Each retry decision is reported through an optional logger.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Fetcher)

ERROR HANDLING:
  - Non-retryable errors are returned unchanged.
  - ExhaustedError wraps the last error once every attempt has failed.

USAGE:
  v, err := retry.Do(ctx, retry.Options{Config: retry.DefaultConfig()}, fn)
*/

package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config holds the configuration for retry logic
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns the retry configuration used for weight downloads
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffMultiple: 2.0,
	}
}

// Logger receives a message for every retry decision
type Logger func(msg string, args ...any)

// Options configures retry behavior
type Options struct {
	Config Config
	// Retryable reports whether err is worth another attempt. Nil retries every error.
	Retryable func(err error) bool
	Logger    Logger
	Name      string
}

func (c Config) delay(attempt int) time.Duration {
	d := time.Duration(float64(c.BaseDelay) * math.Pow(c.BackoffMultiple, float64(attempt)))
	return min(d, c.MaxDelay)
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is cancelled or MaxRetries retries have been spent.
func Do[T any](ctx context.Context, opts Options, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := opts.Config.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d := opts.Config.delay(attempt - 1)
			if opts.Logger != nil {
				opts.Logger("retrying", "op", opts.Name, "attempt", attempt+1, "of", attempts, "delay", d, "error", lastErr)
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(d):
			}
		}

		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, &ExhaustedError{Name: opts.Name, Attempts: attempts, Last: lastErr}
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Name     string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retry attempts exhausted after %d tries: %v", e.Name, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
