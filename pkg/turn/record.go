package turn

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/redact"
)

// Record is the persisted form of one turn.
type Record struct {
	SessionID string
	TurnID    int64
	Status    Status
	CreatedAt time.Time
	FlushedAt time.Time
	Markers   map[Marker]time.Time
	Durations map[string]float64
	Fields    map[string]any
}

func newRecord(sessionID string, id int64, at time.Time) *Record {
	return &Record{
		SessionID: sessionID,
		TurnID:    id,
		Status:    StatusInProgress,
		CreatedAt: at,
		Markers:   make(map[Marker]time.Time),
		Durations: make(map[string]float64),
		Fields:    make(map[string]any),
	}
}

func (r *Record) clone() Record {
	out := *r
	out.Markers = make(map[Marker]time.Time, len(r.Markers))
	for k, v := range r.Markers {
		out.Markers[k] = v
	}
	out.Durations = make(map[string]float64, len(r.Durations))
	for k, v := range r.Durations {
		out.Durations[k] = v
	}
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// derive fills Durations for every marker pair present.
func (r *Record) derive() {
	for _, p := range durationPairs {
		start, ok := r.Markers[p.start]
		if !ok {
			continue
		}
		end, ok := r.Markers[p.end]
		if !ok {
			continue
		}
		d := end.Sub(start).Seconds()
		if d < 0 {
			d = 0
		}
		r.Durations[p.name] = d
	}
}

// Duration returns a derived duration in seconds.
func (r Record) Duration(name string) (float64, bool) {
	v, ok := r.Durations[name]
	return v, ok
}

// Flatten returns the record as a single key-value map.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, 6+len(r.Markers)+len(r.Durations)+len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	for k, v := range r.Markers {
		out[string(k)] = v.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range r.Durations {
		out[k] = v
	}
	out["session_id"] = r.SessionID
	out["turn_id"] = r.TurnID
	out["status"] = string(r.Status)
	out["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	if !r.FlushedAt.IsZero() {
		out["flushed_at"] = r.FlushedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Flatten())
}

// Preview redacts s and truncates it to n runes.
func Preview(s string, n int) string {
	s = redact.Text(strings.TrimSpace(s))
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
