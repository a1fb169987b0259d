package database

import (
	"context"
	"fmt"
	"time"
)

// Default retry delays used when a policy leaves them unset.
const (
	defaultRetryInitialDelay = time.Second
	defaultRetryMaxDelay     = 5 * time.Second
)

// RetryPolicy describes how a failing operation is retried.
//
// Delays double after each failed attempt, capped at MaxDelay.
// MaxAttempts of 0 retries until the context is cancelled.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnRetry, when set, is called after each failed attempt that will be
	// retried. wait is the delay before the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// The returned error wraps the last failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = defaultRetryInitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w (last error: %v)", attempt, ctx.Err(), err)
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
