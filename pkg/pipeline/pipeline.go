package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/bargein"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/session"
	"github.com/harunnryd/parley/pkg/turn"
	"github.com/harunnryd/parley/pkg/voiceprofile"
)

// errSuperseded is the cancel cause of a turn replaced by a newer transcript.
var errSuperseded = errors.New("turn superseded by a newer transcript")

// Orchestrator is the per-stream unit held by the SessionRegistry.
type Orchestrator interface {
	Start() error
	Stop() error
	In() chan<- frames.Frame
}

type Options struct {
	Config  Config
	BargeIn bargein.Config

	Session     *session.Context
	Transcriber stt.Transcriber
	Completer   *llm.Completer
	Synthesizer tts.Synthesizer
	Selector    *voiceprofile.Selector
	Tracker     *turn.Tracker
	// Prober defaults to the Transcriber.
	Prober bargein.Prober

	// Sink receives every outbound frame.
	Sink     func(frames.Frame)
	Observer metrics.Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline drives STT, LLM, profile selection, TTS and paced playback for
// one session. Inbound frames are handled by an ingest loop; turns run on a
// single response worker so at most one turn is in flight.
type Pipeline struct {
	cfg      Config
	sess     *session.Context
	stt      stt.Transcriber
	llm      *llm.Completer
	tts      tts.Synthesizer
	selector *voiceprofile.Selector
	tracker  *turn.Tracker
	detector *bargein.Detector
	ring     *audio.Ring
	format   audio.Format
	sink     func(frames.Frame)
	obs      metrics.Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	pts      *frames.PTSGen

	jobs chan job
	in   chan frames.Frame
	// seen is the last inbound format that needed conversion.
	seen audio.Format

	mu         sync.Mutex
	history    []llm.Message
	cancelTurn context.CancelCauseFunc

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type job struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	turnID int64
	text   string
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Session == nil:
		return nil, errors.New("pipeline: session is required")
	case opts.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case opts.Completer == nil:
		return nil, errors.New("pipeline: completer is required")
	case opts.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case opts.Tracker == nil:
		return nil, errors.New("pipeline: tracker is required")
	}
	cfg := opts.Config.withDefaults()
	if opts.Selector == nil {
		opts.Selector = voiceprofile.NewSelector(nil, voiceprofile.SelectorConfig{}, nil)
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = func(frames.Frame) {}
	}
	logger := logging.NewComponentLogger(opts.Logger, "pipeline").With(
		slog.String("session_id", opts.Session.ID),
		slog.String("stream_id", opts.Session.StreamID),
	)

	prober := opts.Prober
	if prober == nil {
		prober = TranscriberProber(opts.Transcriber, stt.Options{
			Language:   cfg.Language,
			SampleRate: cfg.InputSampleRate,
		}, cfg.InputChannels)
	}
	bcfg := opts.BargeIn
	bcfg.SampleRate = cfg.InputSampleRate
	bcfg.Channels = cfg.InputChannels
	if bcfg.Now == nil {
		bcfg.Now = opts.Now
	}
	detector := bargein.NewDetector(bcfg, prober, opts.Session)
	detector.SetObserver(opts.Observer)
	detector.SetLogger(opts.Logger)

	p := &Pipeline{
		cfg:      cfg,
		sess:     opts.Session,
		stt:      opts.Transcriber,
		llm:      opts.Completer,
		tts:      opts.Synthesizer,
		selector: opts.Selector,
		tracker:  opts.Tracker,
		detector: detector,
		ring:     audio.NewRing(cfg.Ring),
		format:   audio.Format{SampleRate: cfg.InputSampleRate, Channels: cfg.InputChannels},
		sink:     opts.Sink,
		obs:      opts.Observer,
		logger:   logger,
		tracer:   otel.Tracer("github.com/harunnryd/parley/pkg/pipeline"),
		now:      opts.Now,
		pts:      frames.NewPTSGen(),
		jobs:     make(chan job, 1),
		in:       make(chan frames.Frame, cfg.InboundBuffer),
	}
	detector.OnCommit(p.onBargeIn)
	p.sess.Phases().AddListener(turn.StateListenerFunc(p.onPhase))
	return p, nil
}

func (p *Pipeline) Session() *session.Context { return p.sess }

func (p *Pipeline) Detector() *bargein.Detector { return p.detector }

// In is the inbound frame channel used by Start.
func (p *Pipeline) In() chan<- frames.Frame { return p.in }

// Start runs the pipeline in the background on its own inbound channel.
func (p *Pipeline) Start() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.done != nil {
		return errors.New("pipeline: already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := p.Run(ctx, p.in); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("pipeline_stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop cancels a pipeline started with Start and waits for it to finish.
func (p *Pipeline) Stop() error {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Run processes frames from in until it is closed, a session_end frame
// arrives or ctx is canceled. Turns still live on return are closed as
// interrupted.
func (p *Pipeline) Run(ctx context.Context, in <-chan frames.Frame) error {
	p.transition(turn.StateListening, "session_start")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(p.jobs)
		return p.ingest(gctx, in)
	})
	g.Go(func() error {
		return p.respond(gctx)
	})
	err := g.Wait()

	p.abortTurn(context.Canceled)
	flushCtx := context.WithoutCancel(ctx)
	for _, id := range p.tracker.LiveIDs() {
		p.tracker.Close(flushCtx, id, turn.StatusInterrupted)
	}
	p.detector.Stop()
	p.transition(turn.StateIdle, "session_end")
	p.logger.Info("session_closed")
	return err
}

// History returns a copy of the conversation kept for the next request.
func (p *Pipeline) History() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Message(nil), p.history...)
}

func (p *Pipeline) appendHistory(msgs ...llm.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, msgs...)
	if over := len(p.history) - p.cfg.MaxHistory; over > 0 {
		p.history = append([]llm.Message(nil), p.history[over:]...)
	}
}

// beginTurn cancels the turn in flight, if any, and installs cancel as the
// current one.
func (p *Pipeline) beginTurn(cancel context.CancelCauseFunc) {
	p.mu.Lock()
	prev := p.cancelTurn
	p.cancelTurn = cancel
	p.mu.Unlock()
	if prev != nil {
		prev(errSuperseded)
	}
}

func (p *Pipeline) abortTurn(cause error) {
	p.mu.Lock()
	cancel := p.cancelTurn
	p.cancelTurn = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

func (p *Pipeline) emit(f frames.Frame) {
	p.sink(f)
}

func (p *Pipeline) meta(extra map[string]string) map[string]string {
	m := map[string]string{frames.MetaSessionID: p.sess.ID}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func (p *Pipeline) transition(to turn.State, reason string) {
	if err := p.sess.Phases().Transition(to, reason); err != nil {
		p.logger.Debug("phase_transition_rejected", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) onPhase(ev turn.StateChange) {
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventTurnPhase,
		Time: ev.Timestamp,
		Tags: map[string]string{
			"from":      ev.FromState.String(),
			"to":        ev.ToState.String(),
			"component": "pipeline",
		},
		Fields: map[string]any{"reason": ev.Reason},
	})
}
