package metrics

import "sync"

// MemoryObserver keeps every event in memory. Tests read it through
// Snapshot or Named; Events is only safe to read once recording stopped.
type MemoryObserver struct {
	mu     sync.Mutex
	Events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
}

func (m *MemoryObserver) Snapshot() []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsEvent(nil), m.Events...)
}

// Named returns the recorded events called name, in order.
func (m *MemoryObserver) Named(name string) []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricsEvent
	for _, ev := range m.Events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
