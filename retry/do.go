package retry

import (
	"context"
	"fmt"
)

// Do runs fn, retrying according to the Retrier found in ctx (or a
// NoopRetrier if none was injected). It returns the first successful
// result, or an error once the retrier declines to retry again or the
// attempt budget is exhausted.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	retrier := FromContextOrNoop(ctx)
	maxAttempts := retrier.MaxAttempts()

	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			break
		}

		if !retrier.ShouldRetry(err, attempt) {
			return zero, err
		}

		if waitErr := retrier.Wait(ctx, attempt); waitErr != nil {
			return zero, fmt.Errorf("context cancelled: %w", waitErr)
		}
	}

	if maxAttempts > 1 {
		return zero, fmt.Errorf("max retry attempts (%d) reached: %w", maxAttempts, lastErr)
	}
	return zero, lastErr
}

// DoVoid is Do for operations with no return value.
func DoVoid(ctx context.Context, fn func() error) error {
	_, err := Do(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
