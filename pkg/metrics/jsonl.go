package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONLEntry is one line of an event trace. Session and stream ids are
// lifted out of the tags.
type JSONLEntry struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id,omitempty"`
	StreamID  string            `json:"stream_id,omitempty"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// JSONLObserver writes one JSON object per event to w. Writes are
// serialized; encode errors drop the event.
type JSONLObserver struct {
	mu     sync.Mutex
	enc    *json.Encoder
	fields func(map[string]any) map[string]any
}

// NewJSONLObserver writes to w. fields, when set, rewrites event fields
// before they are encoded (redaction).
func NewJSONLObserver(w io.Writer, fields func(map[string]any) map[string]any) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{enc: json.NewEncoder(w), fields: fields}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	entry := JSONLEntry{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		SessionID: ev.Tag(TagSessionID),
		StreamID:  ev.Tag(TagStreamID),
		Value:     ev.Value,
		Fields:    ev.Fields,
	}
	if len(ev.Tags) > 0 {
		entry.Tags = make(map[string]string, len(ev.Tags))
		for k, v := range ev.Tags {
			if k == TagSessionID || k == TagStreamID {
				continue
			}
			entry.Tags[k] = v
		}
	}
	if o.fields != nil {
		entry.Fields = o.fields(entry.Fields)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(entry)
}
