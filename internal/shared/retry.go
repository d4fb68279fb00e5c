package shared

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is an explicit bounded-attempt exponential backoff policy,
// applied at adapter construction time rather than per call site.
type RetryPolicy struct {
	Attempts int           // total attempts, including the first
	BaseWait time.Duration // wait before the second attempt
	MaxWait  time.Duration // ceiling on any single wait
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs fn up to p.Attempts times, sleeping with exponential backoff
// between attempts. A context cancellation or a [Permanent] error stops the
// loop; the last error is returned unwrapped of its permanent marker.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	wait := p.BaseWait
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
			if p.MaxWait > 0 && wait > p.MaxWait {
				wait = p.MaxWait
			}
		}

		err = fn()
		if err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}
