package stagerun

import (
	"context"
	"time"

	"NewsDigest/internal/domain"
)

// RetryPolicy bounds how a transient failure is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy allows three attempts with 2s, 4s backoff, capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		CallTimeout: 2 * time.Minute,
	}
}

// Backoff returns the wait after the failed attempt with the given zero-based index:
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Validate rejects policies that could never make a call or would wait forever.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return domain.Configuration("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < p.BaseDelay {
		return domain.Configuration("retry delays must satisfy 0 <= base <= max")
	}
	if p.CallTimeout < 0 {
		return domain.Configuration("call timeout must be non-negative")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
