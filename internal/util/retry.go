package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// Backoff returns the exponential delay for the given attempt: base doubled
// attempt times, capped at limit. Attempt 0 returns base.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}
	// 1<<31 seconds is already past any sane cap.
	if attempt > 30 {
		return limit
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > limit || d <= 0 {
		return limit
	}
	return d
}
