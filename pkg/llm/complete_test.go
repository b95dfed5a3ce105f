package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/providers/mock"
	"github.com/harunnryd/parley/pkg/resilience"
)

type tickClock struct {
	t    time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newCompleter(adapter llm.LLMAdapter, stream bool) (*llm.Completer, *metrics.MemoryObserver) {
	clock := &tickClock{t: time.Unix(0, 0), step: 100 * time.Millisecond}
	c := llm.NewCompleter(adapter, llm.CompleterConfig{
		Stream: stream,
		Retry:  llm.RetryConfig{MaxAttempts: 1},
		Now:    clock.Now,
	})
	obs := metrics.NewMemoryObserver()
	c.SetObserver(obs)
	return c, obs
}

func eventNames(obs *metrics.MemoryObserver) []string {
	var out []string
	for _, ev := range obs.Events {
		out = append(out, ev.Name)
	}
	return out
}

func TestCompleteStreams(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{StreamChunks: []string{"Hi ", "there", ""}})
	c, obs := newCompleter(adapter, true)

	res, err := c.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, llm.ModeStream, res.Metrics.Mode)
	assert.False(t, res.Metrics.Fallback)
	assert.Greater(t, res.Metrics.FirstTokenS, 0.0)
	assert.GreaterOrEqual(t, res.Metrics.TotalS, res.Metrics.FirstTokenS)
	assert.Equal(t, []string{metrics.EventLLMFirstToken, metrics.EventLLMDone}, eventNames(obs))

	streams, blocking := adapter.Calls()
	assert.Equal(t, 1, streams)
	assert.Equal(t, 0, blocking)
}

func TestCompleteFallsBackOnStreamFailures(t *testing.T) {
	cases := map[string]mock.LLMConfig{
		"open error":   {ResponseText: "fallback", StreamOpenErr: errors.New("connect refused")},
		"mid-stream":   {ResponseText: "fallback", StreamChunks: []string{"partial"}, StreamErr: errors.New("broken pipe")},
		"empty stream": {ResponseText: "fallback", StreamChunks: []string{" "}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			adapter := mock.NewLLMAdapter(cfg)
			c, obs := newCompleter(adapter, true)

			res, err := c.Complete(context.Background(), llm.Request{})
			require.NoError(t, err)
			assert.Equal(t, "fallback", res.Text)
			assert.Equal(t, llm.ModeBlocking, res.Metrics.Mode)
			assert.True(t, res.Metrics.Fallback)
			assert.Equal(t, res.Metrics.TotalS, res.Metrics.FirstTokenS)
			assert.Contains(t, eventNames(obs), metrics.EventLLMFallback)

			_, blocking := adapter.Calls()
			assert.Equal(t, 1, blocking)
		})
	}
}

func TestCompleteBlockingOnly(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "  plain  "})
	c, _ := newCompleter(adapter, false)
	res, err := c.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Text)
	assert.False(t, res.Metrics.Fallback)
	streams, _ := adapter.Calls()
	assert.Equal(t, 0, streams)
}

func TestCompleteReturnsGenerateError(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{
		StreamOpenErr: errors.New("no stream"),
		GenerateErr:   resilience.RateLimitError{Provider: "mock", Message: "slow down"},
	})
	c, _ := newCompleter(adapter, true)
	_, err := c.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonLLMRateLimit))
}

func TestCompleteCanceledDoesNotFallBack(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Delay: time.Second})
	c, _ := newCompleter(adapter, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, llm.Request{})
	assert.ErrorIs(t, err, context.Canceled)
	_, blocking := adapter.Calls()
	assert.Equal(t, 0, blocking)
}

func TestCompleteRecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	c, _ := newCompleter(mock.NewLLMAdapter(mock.LLMConfig{}), true)
	_, err := c.Complete(context.Background(), llm.Request{MaxTokens: 10})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "llm", spans[0].Name())
}

func TestCircuitBreakerAdapterFailsFast(t *testing.T) {
	inner := mock.NewLLMAdapter(mock.LLMConfig{
		GenerateErr: resilience.RateLimitError{Provider: "mock"},
	})
	breaker := resilience.NewCircuitBreaker(2, time.Minute)
	a := llm.NewCircuitBreakerAdapter(inner, breaker)
	obs := metrics.NewMemoryObserver()
	a.SetObserver(obs)

	for i := 0; i < 2; i++ {
		_, err := a.Generate(context.Background(), llm.Request{})
		require.Error(t, err)
	}
	_, err := a.Stream(context.Background(), llm.Request{})
	var rl resilience.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, 50*time.Second)
	_, blocking := inner.Calls()
	assert.Equal(t, 2, blocking)
	streams, _ := inner.Calls()
	assert.Equal(t, 0, streams, "open breaker must not reach the provider")
	assert.Contains(t, eventNames(obs), metrics.EventBreakerOpen)
}
