// Package retry runs an operation again with exponential backoff and
// jitter until it succeeds, fails permanently or the context ends.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int           // total calls, at least 1
	BaseDelay time.Duration // first backoff, doubled after each retry
	MaxDelay  time.Duration // cap on a single backoff; zero means no cap
}

// DefaultPolicy is three attempts starting at 200ms.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do calls fn until it returns nil or a permanent error, or until the
// policy's attempts run out. fn receives the zero-based attempt number.
// Each backoff is the current delay with +-25% jitter.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

func jitter(d time.Duration) time.Duration {
	spread := int64(d / 4)
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
}
