package crawler

import (
	"context"
	"errors"
	"time"
)

// Default retry knobs for remote catalog calls.
const (
	DefaultMaxAttempts = 50
	DefaultRetryDelay  = 2 * time.Second
)

// FixedRetryPolicy retries network failures a bounded number of times with a
// constant delay between attempts.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewFixedRetryPolicy builds a policy; non-positive values fall back to defaults.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = DefaultRetryDelay
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts, delay: delay, sleep: sleepContext}
}

// WithSleeper swaps the wait function, mainly for tests.
func (p *FixedRetryPolicy) WithSleeper(fn func(ctx context.Context, d time.Duration) error) *FixedRetryPolicy {
	cp := *p
	cp.sleep = fn
	return &cp
}

// MaxAttempts returns the attempt cap.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable on the given 1-based attempt.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrNetwork)
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// Do runs fn until it succeeds, fails with a non-retryable error, the cap is
// reached or ctx ends. onRetry (optional) observes every failed attempt that
// will be retried. The number of attempts made is returned with the last error.
func (p *FixedRetryPolicy) Do(
	ctx context.Context,
	fn func(ctx context.Context) error,
	onRetry func(attempt int, err error),
) (int, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		attempt++
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if !p.ShouldRetry(err, attempt) {
			return attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if sleepErr := p.sleep(ctx, p.Backoff(attempt)); sleepErr != nil {
			return attempt, sleepErr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
