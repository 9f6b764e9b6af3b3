package scraper

import (
	"context"
	"fmt"
	"time"
)

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// retry calls fn up to attempts times with exponential backoff between
// calls. onRetry, when set, is told about each failed attempt that will be
// retried. The last error is returned wrapped.
func retry(ctx context.Context, attempts int, backoff time.Duration, sleep sleepFunc, onRetry func(attempt int, err error), fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if i < attempts {
			if onRetry != nil {
				onRetry(i, err)
			}
			if sleepErr := sleep(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
			backoff *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
