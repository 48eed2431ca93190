package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes bounded exponential backoff for transient failures.
// Both network-facing clients share one policy instead of each rolling
// its own loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means nothing is retryable.
	Retryable func(error) bool
}

// DefaultPolicy is 3 attempts, base 1s, factor 2.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Retryable:   retryable,
	}
}

// Do runs fn up to MaxAttempts times, sleeping BaseDelay * Multiplier^n
// between attempts. It stops early on a non-retryable error or when ctx
// is done, and returns the last error.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(ctx.Err(), err)
		case <-t.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}
