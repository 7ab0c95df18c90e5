package httputil

import (
	"context"
	"errors"
	"time"
)

// RetryableError marks a transient failure (connection reset, 5xx) that a
// Policy may retry. Everything else is returned to the caller at once.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is, or wraps, a RetryableError.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Policy describes how often a fetch is attempted. The zero Policy makes a
// single attempt, which is what manifest retrieval uses unless configured
// otherwise.
type Policy struct {
	Attempts int           // total attempts, values below 1 mean 1
	Delay    time.Duration // wait before the second attempt, doubled after each failure
}

// NoRetry is the single-attempt Policy.
var NoRetry = Policy{Attempts: 1}

// Backoff is 3 attempts starting at a 1s delay.
var Backoff = Policy{Attempts: 3, Delay: time.Second}

// Do runs fn under the policy. It returns nil on the first success, the
// first non-retryable error, ctx.Err() if cancelled while waiting, or the
// last error once attempts are exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.Delay
	var lastErr error

	for i := range attempts {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !IsRetryable(err) {
			return err
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}
