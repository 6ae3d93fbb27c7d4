package providers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls retry-with-backoff around provider calls.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool

	// OnRetry, if set, is invoked with (attempt, delay, err) before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy matches the standard provider retry contract.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Jitter:     true,
	}
}

// Retry runs fn with exponential backoff. Retries apply only to retryable
// kinds (rate limit, timeout, overloaded); other errors propagate on first
// occurrence. A rate-limit error with a server-hinted Retry-After overrides
// the computed delay, capped at MaxDelay. The initial try plus MaxRetries
// retries yields MaxRetries+1 total attempts.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0 // attempt-bounded, not time-bounded
	if p.Jitter {
		bo.RandomizationFactor = 0.5 // uniform in [0.5, 1.5] of the interval
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()

	var lastErr error
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt >= p.MaxRetries {
			return zero, lastErr
		}

		delay := bo.NextBackOff()
		if pe, ok := AsError(err); ok && pe.Kind == KindProviderRateLimit && pe.RetryAfter > 0 {
			delay = pe.RetryAfter
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}
