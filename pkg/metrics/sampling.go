package metrics

import (
	"math"
	"sync/atomic"
)

// unsampled events are always forwarded: they are rare and the per-session
// artifacts are useless without them.
var unsampled = map[string]bool{
	EventTurnClosed:       true,
	EventBargeInCommitted: true,
	EventLLMFallback:      true,
	EventBreakerOpen:      true,
	EventInboundDropped:   true,
}

// SamplingObserver forwards every n-th high-volume event (audio, phase,
// probe) where n is derived from rate.
type SamplingObserver struct {
	inner Observer
	every uint64
	n     atomic.Uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate <= 0:
		every = 0
	case rate >= 1:
		every = 1
	default:
		every = max(uint64(math.Round(1/rate)), 1)
	}
	return &SamplingObserver{inner: inner, every: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if unsampled[ev.Name] || s.every == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	if s.n.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
