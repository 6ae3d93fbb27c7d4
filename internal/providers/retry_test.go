package providers

import (
	"context"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Jitter:     false,
	}
}

func TestRetryAttemptBudget(t *testing.T) {
	var attempts int
	_, err := Retry(context.Background(), fastPolicy(), func() (int, error) {
		attempts++
		return 0, NewError(KindProviderOverload, "overloaded")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	// Initial try plus MaxRetries retries.
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if KindOf(err) != KindProviderOverload {
		t.Errorf("kind = %v, want KindProviderOverload", KindOf(err))
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	var attempts int
	_, err := Retry(context.Background(), fastPolicy(), func() (int, error) {
		attempts++
		return 0, NewError(KindConfig, "bad request")
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on config errors)", attempts)
	}
	if KindOf(err) != KindConfig {
		t.Errorf("kind = %v", KindOf(err))
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	var attempts int
	v, err := Retry(context.Background(), fastPolicy(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", NewError(KindProviderTimeout, "slow")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || attempts != 3 {
		t.Errorf("v = %q, attempts = %d", v, attempts)
	}
}

func TestRetryExponentialDelays(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Second,
		Jitter:     false,
	}
	var delays []time.Duration
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}
	_, _ = Retry(context.Background(), p, func() (int, error) {
		return 0, NewError(KindProviderOverload, "overloaded")
	})
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryAfterOverridesDelay(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		Jitter:     false,
	}
	var got time.Duration
	p.OnRetry = func(attempt int, delay time.Duration, err error) { got = delay }
	_, _ = Retry(context.Background(), p, func() (int, error) {
		return 0, &Error{Kind: KindProviderRateLimit, Msg: "slow down", RetryAfter: 3 * time.Millisecond}
	})
	if got != 3*time.Millisecond {
		t.Errorf("delay = %v, want the server-hinted 3ms", got)
	}
}

func TestRetryAfterCappedAtMaxDelay(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Jitter:     false,
	}
	var got time.Duration
	p.OnRetry = func(attempt int, delay time.Duration, err error) { got = delay }
	_, _ = Retry(context.Background(), p, func() (int, error) {
		return 0, &Error{Kind: KindProviderRateLimit, Msg: "slow down", RetryAfter: time.Minute}
	})
	if got != 2*time.Millisecond {
		t.Errorf("delay = %v, want MaxDelay cap of 2ms", got)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   time.Second,
		Jitter:     false,
	}
	var attempts int
	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, p, func() (int, error) {
			attempts++
			return 0, NewError(KindProviderOverload, "overloaded")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancelled during first backoff)", attempts)
	}
}
