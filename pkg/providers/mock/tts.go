package mock

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/audio"
)

type TTSConfig struct {
	SampleRate int
	// Duration of synthesized audio per call.
	Duration  time.Duration
	Amplitude int16
	Err       error
}

// Synthesizer is an in-memory tts.Synthesizer producing a constant tone.
type Synthesizer struct {
	cfg   TTSConfig
	mu    sync.Mutex
	texts []string
	opts  []tts.Options
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	if cfg.Duration == 0 {
		cfg.Duration = 200 * time.Millisecond
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 1000
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	pcm := make([]byte, audio.BytesFor(s.cfg.Duration, s.cfg.SampleRate, 1))
	for i := 0; i+1 < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(s.cfg.Amplitude))
	}
	return audio.EncodeWAV(pcm, s.cfg.SampleRate, 1), nil
}

func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *Synthesizer) Options() []tts.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.Options(nil), s.opts...)
}
