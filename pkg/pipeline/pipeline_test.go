package pipeline_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/parley/pkg/bargein"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/pipeline"
	"github.com/harunnryd/parley/pkg/providers/mock"
	"github.com/harunnryd/parley/pkg/session"
	"github.com/harunnryd/parley/pkg/turn"
	"github.com/harunnryd/parley/pkg/voiceprofile"
)

const streamID = "stream-1"

type memSink struct {
	mu      sync.Mutex
	records []turn.Record
}

func (s *memSink) Write(_ context.Context, rec turn.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) all() []turn.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]turn.Record(nil), s.records...)
}

// outbox records outbound frames and signals the first audio chunk and
// every playback_done marker.
type outbox struct {
	mu         sync.Mutex
	frames     []frames.Frame
	firstAudio chan struct{}
	done       chan struct{}
	once       sync.Once
}

func newOutbox() *outbox {
	return &outbox{firstAudio: make(chan struct{}), done: make(chan struct{}, 8)}
}

func (o *outbox) push(f frames.Frame) {
	o.mu.Lock()
	o.frames = append(o.frames, f)
	o.mu.Unlock()
	switch v := f.(type) {
	case frames.AudioFrame:
		o.once.Do(func() { close(o.firstAudio) })
	case frames.ControlFrame:
		if v.Code() == frames.ControlPlaybackDone {
			o.done <- struct{}{}
		}
	}
}

func (o *outbox) audio() []frames.AudioFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []frames.AudioFrame
	for _, f := range o.frames {
		if af, ok := f.(frames.AudioFrame); ok {
			out = append(out, af)
		}
	}
	return out
}

func (o *outbox) texts(source string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, f := range o.frames {
		if tf, ok := f.(frames.TextFrame); ok && tf.Meta()[frames.MetaSource] == source {
			out = append(out, tf.Text())
		}
	}
	return out
}

func (o *outbox) controls(code frames.ControlCode) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, f := range o.frames {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == code {
			n++
		}
	}
	return n
}

type harness struct {
	p    *pipeline.Pipeline
	in   chan frames.Frame
	sess *session.Context
	stt  *mock.Transcriber
	llm  *mock.LLMAdapter
	tts  *mock.Synthesizer
	out  *outbox
	sink *memSink
	obs  *metrics.MemoryObserver
	errc chan error
}

type setup struct {
	cfg     pipeline.Config
	bargeIn bargein.Config
	stt     mock.STTConfig
	llm     mock.LLMConfig
	tts     mock.TTSConfig
	stream  bool
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	h := &harness{
		in:   make(chan frames.Frame, 512),
		sess: session.New("sess-1", streamID),
		stt:  mock.NewSTT(s.stt),
		llm:  mock.NewLLMAdapter(s.llm),
		tts:  mock.NewTTS(s.tts),
		out:  newOutbox(),
		sink: &memSink{},
		obs:  metrics.NewMemoryObserver(),
		errc: make(chan error, 1),
	}
	tracker := turn.NewTracker(turn.TrackerOptions{SessionID: h.sess.ID, Sink: h.sink, Observer: h.obs})
	completer := llm.NewCompleter(h.llm, llm.CompleterConfig{
		Stream: s.stream,
		Retry:  llm.RetryConfig{MaxAttempts: 1},
	})
	completer.SetObserver(h.obs)
	p, err := pipeline.New(pipeline.Options{
		Config:      s.cfg,
		BargeIn:     s.bargeIn,
		Session:     h.sess,
		Transcriber: h.stt,
		Completer:   completer,
		Synthesizer: h.tts,
		Selector:    voiceprofile.NewSelector(nil, voiceprofile.SelectorConfig{Dynamic: true}, voiceprofile.NewLatencyState(0.35)),
		Tracker:     tracker,
		Sink:        h.out.push,
		Observer:    h.obs,
	})
	require.NoError(t, err)
	h.p = p
	return h
}

func (h *harness) run() {
	go func() { h.errc <- h.p.Run(context.Background(), h.in) }()
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}

func pcmFrame(amp int16, ms int) frames.AudioFrame {
	n := 16 * ms
	data := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(amp))
	}
	return frames.NewAudioFrame(streamID, 0, data, 16000, 1, nil)
}

func pushSecond(in chan<- frames.Frame, amp int16) {
	for i := 0; i < 50; i++ {
		in <- pcmFrame(amp, 20)
	}
}

func typed(text string) frames.TextFrame {
	return frames.NewTextFrame(streamID, 0, text, map[string]string{frames.MetaSource: "user"})
}

func TestHelloTurnCompletes(t *testing.T) {
	h := newHarness(t, setup{
		stt:    mock.STTConfig{Script: []mock.STTResult{{Text: "hello"}}},
		llm:    mock.LLMConfig{ResponseText: "Hi there, how can I help you today?"},
		stream: true,
	})
	h.run()
	pushSecond(h.in, 100)
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, turn.StatusCompleted, rec.Status)
	assert.Equal(t, "chat", rec.Fields[turn.FieldProfile])
	assert.Equal(t, "stream", rec.Fields[turn.FieldLLMMode])
	assert.Equal(t, "Hi there, how can I help you today?", rec.Fields[turn.FieldAssistantText])
	for _, name := range []string{"stt_s", "llm_s", "tts_s"} {
		v, ok := rec.Duration(name)
		require.True(t, ok, name)
		assert.GreaterOrEqual(t, v, 0.0, name)
	}

	assert.Equal(t, []string{"hello"}, h.out.texts("user"))
	assert.Equal(t, []string{"Hi there, how can I help you today?"}, h.out.texts("assistant"))
	assert.Equal(t, []string{"Hi there, how can I help you today?"}, h.tts.Texts())

	// 200ms at 22050 Hz in 40ms chunks.
	chunks := h.out.audio()
	require.Len(t, chunks, 5)
	total := 0
	for _, c := range chunks {
		assert.Equal(t, 22050, c.Rate())
		total += len(c.RawPayload())
	}
	assert.GreaterOrEqual(t, total, 1000)
	assert.Equal(t, 1, h.out.controls(frames.ControlPlaybackDone))

	assert.False(t, h.sess.BotSpeaking())
	assert.Len(t, h.p.History(), 2)
	assert.Equal(t, 1, h.stt.Calls())
}

func TestInputIsConvertedToSessionFormat(t *testing.T) {
	h := newHarness(t, setup{
		stt: mock.STTConfig{Script: []mock.STTResult{{Text: "hello"}}},
		llm: mock.LLMConfig{ResponseText: "Hi."},
	})
	h.run()
	// one second of 48 kHz stereo in 20ms frames.
	for i := 0; i < 50; i++ {
		data := make([]byte, 960*2*2)
		for j := 0; j < len(data); j += 2 {
			binary.LittleEndian.PutUint16(data[j:], uint16(100))
		}
		h.in <- frames.NewAudioFrame(streamID, 0, data, 48000, 2, nil)
	}
	close(h.in)
	h.wait(t)

	require.Equal(t, 1, h.stt.Calls())
	wav := h.stt.LastWAV()
	require.Len(t, wav, 44+32000)
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[40:]))
	require.Len(t, h.sink.all(), 1)
}

func TestBargeInStopsPlayback(t *testing.T) {
	h := newHarness(t, setup{
		bargeIn: bargein.Config{Mode: bargein.ModeDefault, MinSpeech: 100 * time.Millisecond, MinWords: 2},
		stt:     mock.STTConfig{Script: []mock.STTResult{{Text: "wait stop"}}},
		llm:     mock.LLMConfig{ResponseText: "Let me tell you all about it."},
		tts:     mock.TTSConfig{Duration: 3 * time.Second},
	})
	h.run()
	h.in <- typed("tell me something")

	select {
	case <-h.out.firstAudio:
	case <-time.After(3 * time.Second):
		t.Fatal("playback never started")
	}
	for i := 0; i < 10; i++ {
		h.in <- pcmFrame(5000, 20)
	}
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, turn.StatusInterrupted, rec.Status)
	assert.Equal(t, true, rec.Fields[turn.FieldTTSInterrupted])
	assert.Contains(t, rec.Markers, turn.MarkInterruptRequested)
	assert.Contains(t, rec.Markers, turn.MarkInterruptCommitted)
	commit, ok := rec.Duration("barge_in_commit_s")
	require.True(t, ok)
	assert.GreaterOrEqual(t, commit, 0.0)
	assert.Equal(t, "wait stop", rec.Fields[turn.FieldInterruptText])

	assert.Equal(t, 1, h.out.controls(frames.ControlStartInterruption))
	assert.Zero(t, h.out.controls(frames.ControlPlaybackDone))
	assert.Less(t, len(h.out.audio()), 75)
	assert.False(t, h.sess.BotSpeaking())
	assert.Equal(t, bargein.StateIdle, h.p.Detector().State())

	var committed int
	for _, ev := range h.obs.Events {
		if ev.Name == metrics.EventBargeInCommitted {
			committed++
		}
	}
	assert.Equal(t, 1, committed)
}

func TestQuietAudioDuringPlaybackDoesNotInterrupt(t *testing.T) {
	h := newHarness(t, setup{
		bargeIn: bargein.Config{MinSpeech: 100 * time.Millisecond},
		llm:     mock.LLMConfig{ResponseText: "Short answer."},
		tts:     mock.TTSConfig{Duration: 400 * time.Millisecond},
	})
	h.run()
	h.in <- typed("question")
	<-h.out.firstAudio
	for i := 0; i < 10; i++ {
		h.in <- pcmFrame(50, 20)
	}
	<-h.out.done
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, turn.StatusCompleted, recs[0].Status)
	assert.Zero(t, h.stt.Calls())
	assert.Zero(t, h.out.controls(frames.ControlStartInterruption))
}

func TestStreamFailureFallsBackToBlocking(t *testing.T) {
	h := newHarness(t, setup{
		llm: mock.LLMConfig{
			ResponseText: "Fallback reply.",
			StreamChunks: []string{"Partial"},
			StreamErr:    mock.ErrScripted,
		},
		stream: true,
	})
	h.run()
	h.in <- typed("hello there")
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "blocking", recs[0].Fields[turn.FieldLLMMode])
	assert.Equal(t, []string{"Fallback reply."}, h.tts.Texts())
	streams, blocking := h.llm.Calls()
	assert.Equal(t, 1, streams)
	assert.Equal(t, 1, blocking)
}

func TestLLMFailureSpeaksErrorReply(t *testing.T) {
	h := newHarness(t, setup{
		cfg:    pipeline.Config{ErrorReply: "Sorry, try again."},
		llm:    mock.LLMConfig{StreamOpenErr: mock.ErrScripted, GenerateErr: mock.ErrScripted},
		stream: true,
	})
	h.run()
	h.in <- typed("hello there")
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, turn.StatusCompleted, recs[0].Status)
	assert.Contains(t, recs[0].Fields, turn.FieldLLMError)
	assert.Equal(t, []string{"Sorry, try again."}, h.tts.Texts())
	assert.Empty(t, h.p.History())
}

func TestTTSFailureClosesTurn(t *testing.T) {
	h := newHarness(t, setup{
		llm: mock.LLMConfig{ResponseText: "Hello."},
		tts: mock.TTSConfig{Err: mock.ErrScripted},
	})
	h.run()
	h.in <- typed("hello there")
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, turn.StatusCompleted, recs[0].Status)
	assert.Contains(t, recs[0].Fields, turn.FieldTTSError)
	assert.Empty(t, h.out.audio())
	assert.False(t, h.sess.BotSpeaking())
}

func TestShortTranscriptIsSkipped(t *testing.T) {
	h := newHarness(t, setup{stt: mock.STTConfig{Transcript: "a"}})
	h.run()
	pushSecond(h.in, 100)
	h.in <- typed(" ")
	close(h.in)
	h.wait(t)

	assert.Equal(t, 1, h.stt.Calls())
	assert.Empty(t, h.sink.all())
	streams, blocking := h.llm.Calls()
	assert.Zero(t, streams+blocking)
}

func TestEmptyTranscriptsKeepThenClearRing(t *testing.T) {
	h := newHarness(t, setup{})
	h.run()
	// 1s fills the ring, then two more frames retry on the growing window.
	pushSecond(h.in, 100)
	h.in <- pcmFrame(100, 20)
	h.in <- pcmFrame(100, 20)
	h.in <- pcmFrame(100, 20)
	close(h.in)
	h.wait(t)

	sizes := h.stt.Sizes()
	require.Len(t, sizes, 3)
	assert.Less(t, sizes[0], sizes[1])
	assert.Less(t, sizes[1], sizes[2])
	assert.Empty(t, h.sink.all())
}

func TestCooldownDropsEcho(t *testing.T) {
	h := newHarness(t, setup{
		cfg: pipeline.Config{TTSCooldown: time.Hour},
		stt: mock.STTConfig{Transcript: "echo"},
		llm: mock.LLMConfig{ResponseText: "Done."},
	})
	h.run()
	h.in <- typed("hello there")
	<-h.out.done
	pushSecond(h.in, 100)
	close(h.in)
	h.wait(t)

	assert.Zero(t, h.stt.Calls())
	assert.Len(t, h.sink.all(), 1)
}

func TestNewTranscriptSupersedesTurn(t *testing.T) {
	h := newHarness(t, setup{
		llm: mock.LLMConfig{ResponseText: "Answer.", Delay: 300 * time.Millisecond},
	})
	h.run()
	h.in <- typed("first question")
	h.in <- typed("second question")
	close(h.in)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].TurnID)
	assert.Equal(t, turn.StatusInterrupted, recs[0].Status)
	assert.Equal(t, true, recs[0].Fields[turn.FieldSuperseded])
	assert.Equal(t, int64(2), recs[1].TurnID)
	assert.Equal(t, turn.StatusCompleted, recs[1].Status)
	assert.Equal(t, []string{"Answer."}, h.tts.Texts())
}

func TestSessionEndInterruptsLiveTurn(t *testing.T) {
	h := newHarness(t, setup{
		llm: mock.LLMConfig{ResponseText: "Answer.", Delay: time.Second},
	})
	h.run()
	h.in <- typed("hello there")
	h.in <- frames.NewSystemFrame(streamID, 0, frames.SystemSessionEnd, nil)
	h.wait(t)

	recs := h.sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, turn.StatusInterrupted, recs[0].Status)
	assert.Empty(t, h.tts.Texts())
	assert.Equal(t, turn.StateIdle, h.sess.Phases().State())
}

func TestPhaseEventsAreEmitted(t *testing.T) {
	h := newHarness(t, setup{llm: mock.LLMConfig{ResponseText: "Hi."}})
	h.run()
	h.in <- typed("hello there")
	close(h.in)
	h.wait(t)

	var to []string
	for _, ev := range h.obs.Events {
		if ev.Name == metrics.EventTurnPhase {
			to = append(to, ev.Tags["to"])
		}
	}
	assert.Equal(t, []string{"LISTENING", "THINKING", "SPEAKING", "LISTENING", "IDLE"}, to)
}
