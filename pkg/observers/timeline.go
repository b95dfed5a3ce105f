package observers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
)

// TimelineObserver writes one JSONL trace per session under dir.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*timelineFile
}

type timelineFile struct {
	f   *os.File
	obs *metrics.JSONLObserver
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*timelineFile)}
}

// RecordEvent implements metrics.Observer. Events without a session or
// stream tag are dropped.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Session()
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	if tf := o.fileFor(id); tf != nil {
		tf.obs.RecordEvent(ev)
	}
}

func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, tf := range o.files {
		if cerr := tf.f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*timelineFile)
	return err
}

func (o *TimelineObserver) fileFor(id string) *timelineFile {
	safe := sanitizeID(id)
	if safe == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if tf := o.files[safe]; tf != nil {
		return tf
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	path := filepath.Join(o.dir, safe+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	tf := &timelineFile{f: f, obs: metrics.NewJSONLObserver(f, sanitizeFields)}
	o.files[safe] = tf
	return tf
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
