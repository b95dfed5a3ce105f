package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	o.RecordEvent(MetricsEvent{
		Name:   EventTurnClosed,
		Tags:   map[string]string{"status": "completed", "profile": "chat"},
		Fields: map[string]any{"stt_s": 0.4, "llm_s": 1.2, "llm_mode": "stream"},
	})
	o.RecordEvent(MetricsEvent{Name: EventTurnClosed, Tags: map[string]string{"status": "interrupted", "profile": "chat"}})
	o.RecordEvent(MetricsEvent{Name: EventBargeInCommitted, Tags: map[string]string{"mode": "polite"}})
	o.RecordEvent(MetricsEvent{Name: EventBargeInProbe, Tags: map[string]string{"mode": "polite"}, Fields: map[string]any{"committed": true}})
	o.RecordEvent(MetricsEvent{Name: EventLLMFallback, Tags: map[string]string{"provider": "openai"}})
	o.RecordEvent(MetricsEvent{Name: EventLatencyEMA, Value: 6.4})
	o.RecordEvent(MetricsEvent{Name: EventBreakerOpen, Tags: map[string]string{"provider": "openai"}})
	o.RecordEvent(MetricsEvent{Name: EventInboundDropped, Tags: map[string]string{"kind": "audio"}})
	o.RecordEvent(MetricsEvent{Name: "unrelated"})

	assert.Equal(t, 1.0, testutil.ToFloat64(o.turns.WithLabelValues("completed", "chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.turns.WithLabelValues("interrupted", "chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.bargeIns.WithLabelValues("polite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.probes.WithLabelValues("polite", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.fallbacks.WithLabelValues("openai")))
	assert.Equal(t, 6.4, testutil.ToFloat64(o.ema))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.breaker.WithLabelValues(EventBreakerOpen, "openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dropped.WithLabelValues("audio")))
	assert.Equal(t, 2, testutil.CollectAndCount(o.stages))
}

func TestPrometheusObserverRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusObserver(reg)
	require.NoError(t, err)
	_, err = NewPrometheusObserver(reg)
	assert.Error(t, err)
}
