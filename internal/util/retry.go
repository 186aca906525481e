package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryWithContext calls fn up to maxTries times until it returns a result
// and nil error, or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil
// error, or until ctx is done.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// BackoffParams controls RetryBackoff. Delay for attempt n (0-based) is
// Base*2^n plus up to Jitter of random spread, capped at Max.
type BackoffParams struct {
	MaxTries int
	Base     time.Duration
	Max      time.Duration
	Jitter   time.Duration
}

// DefaultBackoff suits rate-limited remote APIs.
var DefaultBackoff = BackoffParams{
	MaxTries: 4,
	Base:     500 * time.Millisecond,
	Max:      8 * time.Second,
	Jitter:   250 * time.Millisecond,
}

// RetryBackoff calls fn until it succeeds, the attempt cap is reached, or
// ctx is done, sleeping with exponential backoff and jitter between
// attempts. After exhausting attempts the last error is returned.
func RetryBackoff[T any](ctx context.Context, params BackoffParams, fn func(context.Context) (T, error)) (T, error) {
	maxTries := params.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err

		if i == maxTries-1 {
			break
		}
		delay := params.Base << uint(i)
		if params.Max > 0 && delay > params.Max {
			delay = params.Max
		}
		if params.Jitter > 0 {
			delay += time.Duration(rand.Int64N(int64(params.Jitter)))
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
