package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), func(context.Context) error { return fn() })
}

// DoContext retries fn until it succeeds, returns a permanent error,
// the retries run out, or ctx is done.
func (r RetryPolicy) DoContext(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == r.MaxRetries || IsPermanent(err) || IsRateLimit(err) || ctx.Err() != nil {
			break
		}
		t := time.NewTimer(r.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	var p permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
