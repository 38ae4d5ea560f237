// Package reconnect runs a connection attempt function with a bounded number
// of retries.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMaxAttempts is wrapped into the error returned when every attempt failed.
var ErrMaxAttempts = errors.New("reconnect: max attempts exceeded")

// Config contains the retry policy.
type Config struct {
	MaxAttempts int           // Total attempts per phase (default: 5)
	Delay       time.Duration // Wait between attempts (default: 2 seconds)
	Exponential bool          // Double the delay after each failure
	MaxDelay    time.Duration // Cap for exponential delays (default: 30 seconds)
}

// DefaultConfig returns a fixed 2 second delay and 5 attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Delay:       2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// AttemptFunc makes one connection attempt. attempt is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) error

// RetryFunc is called after a failed attempt that will be retried, before
// the delay starts.
type RetryFunc func(attempt int, err error, delay time.Duration)

// Run calls fn until it succeeds, the context is cancelled or MaxAttempts
// attempts have failed. An attempt that succeeds after ctx was cancelled
// yields ctx.Err(). The last failure returns immediately, without a
// trailing delay.
//
// Schedule with the default config:
//   - Attempt 1 fails → wait 2s
//   - Attempt 2 fails → wait 2s
//   - ...
//   - Attempt 5 fails → return ErrMaxAttempts
//
// Returns the number of attempts made.
func Run(ctx context.Context, cfg Config, fn AttemptFunc, onRetry RetryFunc) (int, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		// Checked before success too: fn may ignore ctx and succeed late
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if err == nil {
			return attempt, nil
		}

		if attempt >= maxAttempts {
			slog.Debug("reconnect: attempts exhausted", "attempts", attempt, "error", err)
			return attempt, fmt.Errorf("%w (%d attempts): %w", ErrMaxAttempts, attempt, err)
		}

		delay := Backoff(attempt, cfg)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}
}

// Backoff returns the delay after the given failed attempt.
//
// Fixed: delay = Delay
// Exponential: delay = min(Delay * 2^(attempt-1), MaxDelay)
func Backoff(attempt int, cfg Config) time.Duration {
	if !cfg.Exponential || attempt < 1 {
		return cfg.Delay
	}

	delay := cfg.Delay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxDelay > 0 && (delay > cfg.MaxDelay || delay <= 0) {
		delay = cfg.MaxDelay
	}
	return delay
}
