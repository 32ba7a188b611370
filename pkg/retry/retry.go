package retry

import (
	"context"
	"time"
)

// Config bounds a retried remote call. Every remote call in the lifecycle
// subsystem goes through Do so no single call can hang the process.
type Config struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// BaseDelay is the wait after the first failure; it doubles on each
	// subsequent failure (base, base*2, base*4, ...).
	BaseDelay time.Duration
	// AttemptTimeout caps a single attempt. Zero means no per-attempt
	// deadline beyond the caller's context.
	AttemptTimeout time.Duration
	// OnRetry, if set, observes each failed attempt before the backoff
	// sleep. attempt is zero-based.
	OnRetry func(attempt int, err error)
}

type outcome[T any] struct {
	value T
	err   error
}

// Do executes op until it succeeds or the attempt budget is exhausted, then
// returns the last failure. Each attempt races op against AttemptTimeout; a
// timed-out attempt counts as a transient failure and the superseded op is
// left to finish on its own, its result discarded. The caller's context
// cancels both the in-flight attempt and the backoff sleep.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		value, err := runAttempt(ctx, cfg.AttemptTimeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, lastErr
		}
		if i == attempts-1 {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(i, err)
		}
		if err := sleep(ctx, cfg.BaseDelay<<i); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The attempt runs detached so an op that ignores its context cannot
	// stall the deadline race.
	done := make(chan outcome[T], 1)
	go func() {
		value, err := op(attemptCtx)
		done <- outcome[T]{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-attemptCtx.Done():
		return zero, attemptCtx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
