package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/parley/pkg/adapters/stt"
)

// STTResult is one scripted transcription outcome.
type STTResult struct {
	Text string
	Err  error
}

type STTConfig struct {
	// Script is consumed in order; afterwards Transcript is returned.
	Script     []STTResult
	Transcript string
	Language   string
}

// Transcriber is an in-memory stt.Transcriber.
type Transcriber struct {
	mu     sync.Mutex
	cfg    STTConfig
	next   int
	calls  int
	bytes  []int
	last   []byte
	onCall func(n int)
}

var _ stt.Transcriber = (*Transcriber)(nil)

func NewSTT(cfg STTConfig) *Transcriber {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Transcriber{cfg: cfg}
}

func (s *Transcriber) Name() string { return "mock_stt" }

// OnCall registers a hook invoked with the call number before each result.
func (s *Transcriber) OnCall(fn func(n int)) {
	s.mu.Lock()
	s.onCall = fn
	s.mu.Unlock()
}

func (s *Transcriber) Transcribe(ctx context.Context, wav []byte, opts stt.Options) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.bytes = append(s.bytes, len(wav))
	s.last = append(s.last[:0], wav...)
	res := STTResult{Text: s.cfg.Transcript}
	if s.next < len(s.cfg.Script) {
		res = s.cfg.Script[s.next]
		s.next++
	}
	hook := s.onCall
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if res.Err != nil {
		return stt.Transcript{}, res.Err
	}
	return stt.Transcript{Text: res.Text, Language: s.cfg.Language}, nil
}

func (s *Transcriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Sizes returns the byte length of every WAV received.
func (s *Transcriber) Sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.bytes...)
}

// LastWAV returns a copy of the most recent WAV received.
func (s *Transcriber) LastWAV() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.last...)
}
