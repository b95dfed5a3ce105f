package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
)

// LatencyObserver logs one latency line per closed turn, built from the
// stage events seen on its stream since the previous turn closed.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	sttFinal  time.Time
	llmFirst  time.Time
	llmDone   time.Time
	ttsFirst  time.Time
	fallback  bool
	bargeIn   bool
	sessionID string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ev.Tag(metrics.TagStreamID)
	if streamID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[streamID]
	if t == nil {
		t = &trace{sessionID: ev.Tag(metrics.TagSessionID)}
		o.traces[streamID] = t
	}
	switch ev.Name {
	case metrics.EventSTTFinal:
		t.sttFinal = ev.Time
	case metrics.EventLLMFirstToken:
		if t.llmFirst.IsZero() {
			t.llmFirst = ev.Time
		}
	case metrics.EventLLMFallback:
		t.fallback = true
	case metrics.EventLLMDone:
		t.llmDone = ev.Time
	case metrics.EventTTSFirstAudio:
		if t.ttsFirst.IsZero() {
			t.ttsFirst = ev.Time
		}
	case metrics.EventBargeInCommitted:
		t.bargeIn = true
	case metrics.EventTurnClosed:
		o.logLocked(streamID, ev.Tags["status"], t)
		delete(o.traces, streamID)
	}
}

func (o *LatencyObserver) logLocked(streamID, status string, t *trace) {
	llmFirst := t.llmFirst
	if llmFirst.IsZero() {
		llmFirst = t.llmDone
	}
	o.log.Info("turn_latency",
		"stream_id", streamID,
		"session_id", t.sessionID,
		"status", status,
		"llm_first_token_ms", durationMs(t.sttFinal, llmFirst),
		"llm_done_ms", durationMs(t.sttFinal, t.llmDone),
		"tts_first_audio_ms", durationMs(t.llmDone, t.ttsFirst),
		"ttfb_ms", durationMs(t.sttFinal, t.ttsFirst),
		"llm_fallback", t.fallback,
		"barge_in", t.bargeIn,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
