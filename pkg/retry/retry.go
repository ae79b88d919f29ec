/**
 * @description
 * This package provides a small bounded-retry executor for fallible operations
 * against external dependencies. It retries with a fixed delay between attempts,
 * logs every intermediate failure, and propagates the final failure unchanged.
 *
 * Executors are immutable values with no shared mutable state, so a single
 * executor can be used concurrently by any number of callers.
 */
package retry

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultMaxAttempts is the attempt bound used when none is configured.
	DefaultMaxAttempts = 3
	// DefaultDelay is the pause between attempts used when none is configured.
	DefaultDelay = 500 * time.Millisecond
)

// Executor holds the retry policy: attempt bound, inter-attempt delay, a logger
// for intermediate failures, and an optional predicate marking which errors are
// worth retrying.
type Executor struct {
	maxAttempts int
	delay       time.Duration
	logger      *slog.Logger
	retryable   func(error) bool
}

// New creates an Executor. Non-positive maxAttempts or delay fall back to the
// package defaults. A nil retryable predicate retries every error.
func New(maxAttempts int, delay time.Duration, logger *slog.Logger, retryable func(error) bool) Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Executor{
		maxAttempts: maxAttempts,
		delay:       delay,
		logger:      logger,
		retryable:   retryable,
	}
}

// Do runs op until it succeeds or the attempt budget is exhausted. The result
// of the first successful attempt is returned. Errors rejected by the
// executor's retryable predicate are returned immediately without further
// attempts. After the final attempt the last error is returned unchanged.
func Do[T any](ctx context.Context, e Executor, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if e.retryable != nil && !e.retryable(err) {
			return zero, err
		}
		lastErr = err
		e.logger.Warn("operation failed", "attempt", attempt, "error", err)

		if attempt < e.maxAttempts {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, lastErr
}
