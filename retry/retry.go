// Package retry provides one retry policy shared by every external
// call in the pipeline and by the queue's requeue backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

type Strategy string

const (
	Fixed       Strategy = "fixed"
	Linear      Strategy = "linear"
	Exponential Strategy = "exponential"
)

type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	Delay       time.Duration
	Timeout     time.Duration
}

// DefaultPolicy matches the behavior expected from external tool calls:
// a few quick attempts with exponential spacing.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    Exponential,
		Delay:       500 * time.Millisecond,
		Timeout:     30 * time.Second,
	}
}

// DelayFor returns the wait before the given retry attempt.
// Attempt numbering starts at 1 for the first retry.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Strategy {
	case Linear:
		return time.Duration(attempt) * p.Delay
	case Exponential:
		d := p.Delay
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	default:
		return p.Delay
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts and
// bounding each attempt with Timeout when one is set.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}

		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(p.DelayFor(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
