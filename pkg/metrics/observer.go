package metrics

import "time"

// Tag keys stamped on every per-session event.
const (
	TagSessionID = "session_id"
	TagStreamID  = "stream_id"
	TagTraceID   = "trace_id"
)

// MetricsEvent is a point on the bus. Value carries the primary measure
// (seconds for durations, counts otherwise).
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Tag returns the tag value for key, or "".
func (ev MetricsEvent) Tag(key string) string {
	return ev.Tags[key]
}

// Session returns the session id, falling back to the stream id for
// events recorded before a session existed.
func (ev MetricsEvent) Session() string {
	if id := ev.Tags[TagSessionID]; id != "" {
		return id
	}
	return ev.Tags[TagStreamID]
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(MetricsEvent)

func (f ObserverFunc) RecordEvent(ev MetricsEvent) { f(ev) }

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
