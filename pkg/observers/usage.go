package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
)

// UsageSummary totals provider usage for one session.
type UsageSummary struct {
	SessionID     string  `json:"session_id"`
	StreamID      string  `json:"stream_id,omitempty"`
	Turns         int     `json:"turns"`
	Interrupted   int     `json:"interrupted_turns"`
	STTAudioSec   float64 `json:"stt_audio_seconds"`
	TTSAudioSec   float64 `json:"tts_audio_seconds"`
	LLMTokenCount int     `json:"llm_tokens"`
	RecordedAtUTC string  `json:"recorded_at_utc"`
}

// UsageObserver accumulates per-session usage and writes
// <session>.usage.json files on Close.
type UsageObserver struct {
	dir   string
	now   func() time.Time
	mu    sync.Mutex
	stats map[string]*UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, now: time.Now, stats: make(map[string]*UsageSummary)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Tag(metrics.TagSessionID)
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[id]
	if stat == nil {
		stat = &UsageSummary{SessionID: id, StreamID: ev.Tag(metrics.TagStreamID)}
		o.stats[id] = stat
	}
	switch ev.Name {
	case metrics.EventSTTFinal:
		stat.STTAudioSec += floatField(ev.Fields, "audio_s")
	case metrics.EventTTSDone:
		stat.TTSAudioSec += floatField(ev.Fields, "audio_s")
	case metrics.EventLLMDone:
		if v, ok := ev.Fields["total_tokens"].(int); ok {
			stat.LLMTokenCount += v
		}
	case metrics.EventTurnClosed:
		stat.Turns++
		if ev.Tags["status"] == "interrupted" {
			stat.Interrupted++
		}
	}
}

// Summary returns a copy of the running totals for a session.
func (o *UsageObserver) Summary(sessionID string) (UsageSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[sessionID]
	if stat == nil {
		return UsageSummary{}, false
	}
	return *stat, true
}

func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = o.now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".usage.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

func floatField(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

var _ metrics.Observer = (*UsageObserver)(nil)
