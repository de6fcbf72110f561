package analysis

import (
	"context"
	"fmt"
	"time"
)

// callWithRetry invokes fn until it succeeds, fails with a permanent
// error, or exhausts maxRetries retries. The wait before each retry
// doubles (retryDelay, 2x, 4x, ...) and context cancellation is honored
// while waiting.
func callWithRetry(ctx context.Context, provider string, maxRetries int, retryDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context cancelled during retry wait: %w", provider, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// Only retry on transient errors.
		if !isTransientError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%s: exhausted %d retries: %w", provider, maxRetries, lastErr)
}
