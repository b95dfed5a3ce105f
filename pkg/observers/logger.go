package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/parley/pkg/metrics"
)

// LoggerObserver mirrors bus events into the debug log. Per-frame audio
// events are skipped unless Verbose is set.
type LoggerObserver struct {
	log     *slog.Logger
	Verbose bool
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	if !o.Verbose && (ev.Name == metrics.EventAudioIn || ev.Name == metrics.EventAudioOut) {
		return
	}
	ctx := context.Background()
	if !o.log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := make([]slog.Attr, 0, 4)
	attrs = append(attrs, slog.String("event", ev.Name), slog.Float64("value", ev.Value))
	if len(ev.Tags) > 0 {
		tags := make([]any, 0, len(ev.Tags))
		for k, v := range ev.Tags {
			tags = append(tags, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("tags", tags...))
	}
	if len(ev.Fields) > 0 {
		fields := make([]any, 0, len(ev.Fields))
		for k, v := range sanitizeFields(ev.Fields) {
			fields = append(fields, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("fields", fields...))
	}
	o.log.LogAttrs(ctx, slog.LevelDebug, "metrics_event", attrs...)
}

// MultiObserver fans one event out to several observers in order.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	m := &MultiObserver{}
	m.Add(list...)
	return m
}

// Add appends non-nil observers; call before events start flowing.
func (m *MultiObserver) Add(list ...metrics.Observer) {
	for _, obs := range list {
		if obs != nil {
			m.list = append(m.list, obs)
		}
	}
}

func (m *MultiObserver) Len() int { return len(m.list) }

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		obs.RecordEvent(ev)
	}
}
