package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/harunnryd/parley/pkg/resilience"
)

// RetryConfig bounds blocking generation retries. A voice turn cannot wait
// long, so the defaults are two attempts and a short backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// Retry calls fn until it succeeds, fails with a non-retryable error, runs
// out of attempts or ctx ends. The backoff wait is interrupted by ctx, so a
// barge-in cancels a turn stuck between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (Response, error)) (Response, error) {
	cfg = cfg.withDefaults()
	var lastErr error
	for attempt := range cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !cfg.IsRetryable(err) || attempt == cfg.MaxAttempts-1 {
			break
		}
		t := time.NewTimer(backoff(cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return Response{}, ctx.Err()
		case <-t.C:
		}
	}
	return Response{}, fmt.Errorf("llm: generate failed after retries: %w", lastErr)
}

// DefaultIsRetryable retries everything except cancellation, permanent
// errors and rate limits; the circuit breaker owns rate limits.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case resilience.IsPermanent(err), resilience.IsRateLimit(err):
		return false
	}
	return true
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := min(cfg.BaseDelay<<attempt, cfg.MaxDelay)
	if cfg.Jitter > 0 {
		d += time.Duration(float64(d) * cfg.Jitter * rand.Float64())
	}
	return d
}
