package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/resilience"
)

// CircuitBreakerAdapter fails fast with a RateLimitError while the
// provider keeps rate limiting, so the pipeline speaks its fallback reply
// instead of waiting on a degraded backend.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
	now     func() time.Time

	mu   sync.Mutex
	obs  metrics.Observer
	open bool
}

func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker, now: time.Now}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) {
	a.mu.Lock()
	a.obs = obs
	a.mu.Unlock()
}

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	return guard(a, func() (Response, error) { return a.inner.Generate(ctx, req) })
}

func (a *CircuitBreakerAdapter) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	return guard(a, func() (<-chan Delta, error) { return a.inner.Stream(ctx, req) })
}

// guard runs call unless the breaker is open and feeds its outcome back.
func guard[T any](a *CircuitBreakerAdapter, call func() (T, error)) (T, error) {
	var zero T
	if !a.breaker.Allow() {
		a.setOpen(true)
		a.record(metrics.EventBreakerDenied)
		rl := resilience.RateLimitError{Provider: a.Name(), Message: "circuit open"}
		if until := a.breaker.OpenUntil(); !until.IsZero() {
			rl.RetryAfter = until.Sub(a.now())
		}
		return zero, rl
	}
	a.setOpen(false)
	out, err := call()
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit)
		}
		a.breaker.OnError(err)
		return zero, err
	}
	a.breaker.OnSuccess()
	return out, nil
}

func (a *CircuitBreakerAdapter) record(name string) {
	a.mu.Lock()
	obs := a.obs
	a.mu.Unlock()
	if obs == nil {
		return
	}
	obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: a.now(),
		Tags: map[string]string{"provider": a.inner.Name(), "component": "llm"},
	})
}

// setOpen records breaker_open or breaker_close on a state change.
func (a *CircuitBreakerAdapter) setOpen(open bool) {
	a.mu.Lock()
	changed := a.open != open
	a.open = open
	a.mu.Unlock()
	switch {
	case !changed:
	case open:
		a.record(metrics.EventBreakerOpen)
	default:
		a.record(metrics.EventBreakerClose)
	}
}
