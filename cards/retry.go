package cards

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
	defaultMaxDelay     = time.Second
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrNegativeMaxDelay is returned when the delay cap is negative.
	ErrNegativeMaxDelay = errors.New("max delay must not be negative")
)

// RetryPolicy is the bounded exponential backoff used around store units.
//
// Schedule (default): 0 ms, 10 ms, 20 ms, 40 ms, 80 ms plus up to 30% jitter.
// No single wait exceeds MaxDelay (plus jitter); zero means the default cap.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy returns the default schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  defaultMaxAttempts,
		BaseDelay:    defaultBaseDelay,
		MaxDelay:     defaultMaxDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if p.BaseDelay < 0 {
		return ErrNegativeBaseDelay
	}
	if p.MaxDelay < 0 {
		return ErrNegativeMaxDelay
	}
	return nil
}

// retry runs fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. onRetry is called before each
// repeated attempt.
func (p RetryPolicy) retry(
	ctx context.Context,
	retryable func(error) bool,
	onRetry func(attempt int, err error),
	fn func(ctx context.Context) error,
) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}

			delay := p.backoff(attempt)
			jitter := rand.Float64() * float64(delay) * p.JitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoff is the wait before the given repeated attempt (1-based), doubling
// from BaseDelay up to the cap.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	limit := p.MaxDelay
	if limit <= 0 {
		limit = defaultMaxDelay
	}

	delay := p.BaseDelay
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}
