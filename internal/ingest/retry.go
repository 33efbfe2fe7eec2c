package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

var retryBaseDelay = 500 * time.Millisecond

// FetchWithRetry calls t.Fetch up to src.Retries+1 times with exponential
// backoff (base, 2×base, 4×base... plus jitter). Only transient failures are
// retried: timeouts, connection errors, 429 and 5xx. An unresolved
// InheritRetries counts as no retry.
func FetchWithRetry(ctx context.Context, t Transport, src SourceDescriptor, params QueryParams) ([]byte, error) {
	var lastErr error
	retries := max(src.Retries, 0)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(retryBaseDelay/5) + 1))
			timer := time.NewTimer(backoff + jitter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := t.Fetch(ctx, src, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || !shouldRetry(err, 0) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
