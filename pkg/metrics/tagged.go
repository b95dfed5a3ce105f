package metrics

// TaggedObserver stamps fixed tags (session, stream) onto every event.
// Tags already present on an event win.
type TaggedObserver struct {
	inner Observer
	tags  map[string]string
}

func WithTags(inner Observer, tags map[string]string) *TaggedObserver {
	if inner == nil {
		inner = NoopObserver{}
	}
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != "" {
			cp[k] = v
		}
	}
	return &TaggedObserver{inner: inner, tags: cp}
}

func (t *TaggedObserver) RecordEvent(ev MetricsEvent) {
	merged := make(map[string]string, len(t.tags)+len(ev.Tags))
	for k, v := range t.tags {
		merged[k] = v
	}
	for k, v := range ev.Tags {
		merged[k] = v
	}
	ev.Tags = merged
	t.inner.RecordEvent(ev)
}
