package costs

import (
	"context"
	"time"
)

// Retry policy defaults, shared by both estimators.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultBackoffMult = 2.0
)

// retryPolicy drives withRetry.
type retryPolicy struct {
	maxAttempts int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
}

// withRetry runs fn up to maxAttempts times with exponential backoff.
// The sleep between attempts is context-aware; cancellation wins.
func withRetry(ctx context.Context, p retryPolicy, fn func(ctx context.Context) error) error {
	delay := p.retryDelay
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.backoffMult)
			if delay > p.maxDelay {
				delay = p.maxDelay
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
