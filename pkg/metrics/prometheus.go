package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "parley"

// PrometheusObserver turns bus events into Prometheus collectors.
type PrometheusObserver struct {
	turns     *prometheus.CounterVec
	stages    *prometheus.HistogramVec
	bargeIns  *prometheus.CounterVec
	probes    *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	profiles  *prometheus.CounterVec
	breaker   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	ema       prometheus.Gauge
}

func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "turns_total",
			Help:      "Closed turns by final status.",
		}, []string{"status", "profile"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-turn derived stage durations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 7, 12, 20},
		}, []string{"stage"}),
		bargeIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "barge_in_total",
			Help:      "Committed barge-ins by detector mode.",
		}, []string{"mode"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "barge_in_probes_total",
			Help:      "Confirmatory transcriptions run by the barge-in detector.",
		}, []string{"mode", "committed"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "llm_stream_fallback_total",
			Help:      "Streamed generations that fell back to a blocking call.",
		}, []string{"provider"}),
		profiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "profile_selected_total",
			Help:      "Voice profiles chosen per turn.",
		}, []string{"profile", "adjusted"}),
		breaker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "breaker_events_total",
			Help:      "Circuit breaker and rate limit events.",
		}, []string{"event", "provider"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "inbound_dropped_total",
			Help:      "Inbound frames dropped because a session could not keep up.",
		}, []string{"kind"}),
		ema: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "latency_ema_seconds",
			Help:      "Moving average of end-to-end generation latency.",
		}),
	}
	for _, c := range []prometheus.Collector{o.turns, o.stages, o.bargeIns, o.probes, o.fallbacks, o.profiles, o.breaker, o.dropped, o.ema} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	switch ev.Name {
	case EventTurnClosed:
		o.turns.WithLabelValues(ev.Tags["status"], ev.Tags["profile"]).Inc()
		for k, v := range ev.Fields {
			f, ok := v.(float64)
			if !ok || !strings.HasSuffix(k, "_s") {
				continue
			}
			o.stages.WithLabelValues(k).Observe(f)
		}
	case EventBargeInCommitted:
		o.bargeIns.WithLabelValues(ev.Tags["mode"]).Inc()
	case EventBargeInProbe:
		committed, _ := ev.Fields["committed"].(bool)
		o.probes.WithLabelValues(ev.Tags["mode"], strconv.FormatBool(committed)).Inc()
	case EventLLMFallback:
		o.fallbacks.WithLabelValues(ev.Tags["provider"]).Inc()
	case EventProfileSelected:
		o.profiles.WithLabelValues(ev.Tags["profile"], ev.Tags["adjusted"]).Inc()
	case EventLatencyEMA:
		o.ema.Set(ev.Value)
	case EventInboundDropped:
		o.dropped.WithLabelValues(ev.Tags["kind"]).Inc()
	case EventBreakerDenied, EventBreakerOpen, EventBreakerClose, EventRateLimit:
		o.breaker.WithLabelValues(ev.Name, ev.Tags["provider"]).Inc()
	}
}
