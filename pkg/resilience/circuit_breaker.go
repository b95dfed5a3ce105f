package resilience

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is a provider's 429. RetryAfter is the server's hint,
// zero when none was sent.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit"
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// RateLimitFromResponse builds a RateLimitError from a 429 response,
// reading the Retry-After header in its delay-seconds form.
func RateLimitFromResponse(provider string, resp *http.Response, msg string) RateLimitError {
	rl := RateLimitError{Provider: provider, Message: strings.TrimSpace(msg)}
	if resp != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			rl.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return rl
}

// CircuitBreaker opens after threshold consecutive rate limits and stays
// open for the cooldown or the provider's Retry-After, whichever is
// longer. Other errors do not count.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// WithClock replaces the breaker's time source.
func (c *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.openUntil)
}

// OpenUntil is the time the breaker closes again; zero when closed.
func (c *CircuitBreaker) OpenUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(c.openUntil) {
		return time.Time{}
	}
	return c.openUntil
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	var rl RateLimitError
	if !errors.As(err, &rl) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures < c.threshold {
		return
	}
	c.openUntil = c.now().Add(max(c.cooldown, rl.RetryAfter))
}
