package parley

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/observers"
	"github.com/harunnryd/parley/pkg/pipeline"
	"github.com/harunnryd/parley/pkg/redact"
	"github.com/harunnryd/parley/pkg/runner"
	"github.com/harunnryd/parley/pkg/session"
	"github.com/harunnryd/parley/pkg/transports"
	"github.com/harunnryd/parley/pkg/turn"
	"github.com/harunnryd/parley/pkg/voiceprofile"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	Logger    *slog.Logger
	// Registerer receives the Prometheus collectors; nil leaves them out.
	Registerer prometheus.Registerer
	// Observers are appended to the engine's event fan-out.
	Observers []metrics.Observer
	// Banner receives the startup banner; nil prints nothing.
	Banner io.Writer
	Now    func() time.Time
}

// Engine routes transport streams to per-session pipelines and owns the
// shared providers, observers and turn sinks.
type Engine struct {
	cfg       Config
	transport transports.Transport
	providers *ProviderRegistry
	registry  *pipeline.SessionRegistry
	runner    *pipeline.Runner
	logger    *slog.Logger
	now       func() time.Time

	stt      stt.Transcriber
	tts      tts.Synthesizer
	llm      llm.LLMAdapter
	profiles voiceprofile.Set
	latency  *voiceprofile.LatencyState

	async    *metrics.AsyncObserver
	timeline *observers.TimelineObserver
	usage    *observers.UsageObserver
	sink     turn.Sink
	redis    *redis.Client

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if opts.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}
	transcriber, err := providers.BuildSTT(cfg)
	if err != nil {
		return nil, err
	}
	synth, err := providers.BuildTTS(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := providers.BuildLLM(cfg)
	if err != nil {
		return nil, err
	}
	profiles, err := voiceprofile.LoadFile(cfg.Profiles.File)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		transport: opts.Transport,
		providers: providers,
		logger:    logging.NewComponentLogger(logger, "engine"),
		now:       now,
		stt:       transcriber,
		tts:       synth,
		llm:       adapter,
		profiles:  profiles,
		latency:   voiceprofile.NewLatencyState(cfg.Profiles.EMAAlpha),
	}
	if err := e.buildObservers(logger, opts.Registerer, opts.Observers); err != nil {
		return nil, err
	}
	if b, ok := adapter.(interface{ SetObserver(metrics.Observer) }); ok {
		b.SetObserver(e.async)
	}
	e.buildSinks()

	e.logger.Info("parley_init",
		slog.String("environment", cfg.Environment),
		slog.String("stt_provider", transcriber.Name()),
		slog.String("tts_provider", synth.Name()),
		slog.String("llm_provider", adapter.Name()),
		slog.String("transport", opts.Transport.Name()),
		slog.String("bargein_mode", string(cfg.BargeInConfig().Mode)),
	)

	e.registry = pipeline.NewSessionRegistry(e.newSession)

	hooks := runner.Hooks{
		Banner: opts.Banner,
		OnStart: func() {
			attrs := []any{slog.String("message", "Parley Engine Ready")}
			if rr, ok := e.transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					attrs = append(attrs, slog.Any(k, v))
				}
			}
			e.logger.Info("engine_ready", attrs...)
		},
		OnStop: e.closeObservers,
	}
	drainer := pipeline.DrainerFunc(func(ctx context.Context) error {
		e.registry.SetDraining(true)
		err := e.transport.Stop()
		e.registry.CloseAll()
		if !e.registry.WaitForEmpty(ctx, 200*time.Millisecond) {
			return errors.Join(err, ctx.Err())
		}
		return err
	})
	e.runner = pipeline.NewDrainRunner(drainer, hooks, 30*time.Second)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) buildObservers(logger *slog.Logger, reg prometheus.Registerer, extra []metrics.Observer) error {
	multi := observers.NewMultiObserver(
		observers.NewLoggerObserver(logger),
		observers.NewLatencyObserver(logger),
	)
	if reg != nil {
		prom, err := metrics.NewPrometheusObserver(reg)
		if err != nil {
			return fmt.Errorf("prometheus: %w", err)
		}
		multi.Add(prom)
	}
	m := e.cfg.Metrics
	if dir := strings.TrimSpace(m.Dir); m.Enabled && dir != "" {
		if m.RetentionDays > 0 {
			removed, err := observers.PurgeArtifacts(dir, time.Duration(m.RetentionDays)*24*time.Hour)
			if err != nil {
				e.logger.Warn("artifact_purge_failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				e.logger.Info("artifact_purge", slog.Int("removed", removed))
			}
		}
		artifacts := observers.NewMultiObserver()
		if m.Timeline {
			e.timeline = observers.NewTimelineObserver(dir)
			artifacts.Add(e.timeline)
		}
		e.usage = observers.NewUsageObserver(dir)
		artifacts.Add(e.usage)
		var obs metrics.Observer = artifacts
		if m.SampleRate < 1 {
			obs = metrics.NewSamplingObserver(artifacts, m.SampleRate)
		}
		multi.Add(obs)
	}
	multi.Add(extra...)
	e.async = metrics.NewAsyncObserver(multi, m.AsyncBuffer)
	return nil
}

func (e *Engine) buildSinks() {
	m := e.cfg.Metrics
	if !m.Enabled {
		return
	}
	var sinks turn.MultiSink
	if dir := strings.TrimSpace(m.Dir); dir != "" {
		sinks = append(sinks, turn.NewFileSink(dir))
	}
	if addr := strings.TrimSpace(m.Redis.Addr); addr != "" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: m.Redis.Password,
			DB:       m.Redis.DB,
		})
		opts := []turn.RedisOption{turn.WithRedisMaxLen(m.Redis.MaxLen)}
		if m.Redis.Prefix != "" {
			opts = append(opts, turn.WithRedisPrefix(m.Redis.Prefix))
		}
		if m.Redis.TTLHours > 0 {
			opts = append(opts, turn.WithRedisTTL(time.Duration(m.Redis.TTLHours)*time.Hour))
		}
		sinks = append(sinks, turn.NewRedisSink(e.redis, opts...))
	}
	if len(sinks) > 0 {
		e.sink = sinks
	}
}

// newSession builds the pipeline for one transport stream.
func (e *Engine) newSession(_ context.Context, sessionID, streamID, traceID string) (pipeline.Orchestrator, error) {
	tags := map[string]string{metrics.TagSessionID: sessionID, metrics.TagStreamID: streamID}
	if traceID != "" {
		tags[metrics.TagTraceID] = traceID
	}
	obs := metrics.WithTags(e.async, tags)

	sess := session.New(sessionID, streamID)
	tracker := turn.NewTracker(turn.TrackerOptions{
		SessionID: sessionID,
		Sink:      e.sink,
		Observer:  obs,
		Logger:    e.logger,
		Now:       e.now,
	})
	completer := llm.NewCompleter(e.llm, e.cfg.CompleterConfig())
	completer.SetObserver(obs)
	completer.SetLogger(e.logger)

	p, err := pipeline.New(pipeline.Options{
		Config:      e.cfg.PipelineConfig(),
		BargeIn:     e.cfg.BargeInConfig(),
		Session:     sess,
		Transcriber: e.stt,
		Completer:   completer,
		Synthesizer: e.tts,
		Selector:    voiceprofile.NewSelector(e.profiles, e.cfg.SelectorConfig(), e.latency),
		Tracker:     tracker,
		Sink:        e.outbound(obs),
		Observer:    obs,
		Logger:      e.logger,
		Now:         e.now,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("session_opened",
		slog.String("session_id", sessionID),
		slog.String("stream_id", streamID),
	)
	return p, nil
}

func (e *Engine) outbound(obs metrics.Observer) func(frames.Frame) {
	return func(f frames.Frame) {
		if af, ok := f.(frames.AudioFrame); ok {
			obs.RecordEvent(metrics.MetricsEvent{
				Name:  metrics.EventAudioOut,
				Time:  e.now(),
				Value: af.Duration().Seconds(),
				Tags:  map[string]string{"component": "transport"},
				Fields: map[string]any{
					"sample_rate": af.Rate(),
					"channels":    af.Channels(),
				},
			})
		}
		if err := e.transport.Send(f); err != nil {
			e.logger.Debug("send_failed",
				slog.String("stream_id", transports.StreamID(f)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go e.routeTransport(ctx)
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	e.cancel()
	return e.runner.Stop()
}

func (e *Engine) routeTransport(ctx context.Context) {
	recv := e.transport.Recv()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case f, ok := <-recv:
			if !ok {
				return
			}
			e.route(f)
		}
	}
}

func (e *Engine) route(f frames.Frame) {
	streamID := transports.StreamID(f)
	if streamID == "" {
		return
	}
	if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SystemSessionEnd {
		e.registry.Remove(streamID)
		return
	}
	sess, created, err := e.registry.GetOrCreate(streamID, f.Meta()[frames.MetaTraceID])
	if err != nil {
		e.logger.Error("session_create_failed", slog.String("stream_id", streamID), slog.String("error", err.Error()))
		return
	}
	if sess == nil {
		return
	}
	if created {
		e.logger.Debug("session_registered", slog.String("stream_id", streamID), slog.String("session_id", sess.ID))
	}
	if af, ok := f.(frames.AudioFrame); ok {
		e.async.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventAudioIn,
			Time:  e.now(),
			Value: af.Duration().Seconds(),
			Tags: map[string]string{
				metrics.TagSessionID: sess.ID,
				metrics.TagStreamID:  streamID,
				"component":          "transport",
			},
			Fields: map[string]any{
				"sample_rate": af.Rate(),
				"channels":    af.Channels(),
			},
		})
	}
	select {
	case sess.Orch.In() <- f:
	default:
		total := sess.RecordDrop()
		e.logger.Warn("inbound_dropped",
			slog.String("session_id", sess.ID),
			slog.String("stream_id", streamID),
			slog.String("kind", string(f.Kind())),
			slog.Uint64("dropped_total", total),
		)
		e.async.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventInboundDropped,
			Time:  e.now(),
			Value: float64(total),
			Tags: map[string]string{
				metrics.TagSessionID: sess.ID,
				metrics.TagStreamID:  streamID,
				"kind":               string(f.Kind()),
				"component":          "engine",
			},
		})
	}
}

func (e *Engine) closeObservers() {
	e.async.Close()
	if e.timeline != nil {
		if err := e.timeline.Close(); err != nil {
			e.logger.Warn("timeline_close_failed", slog.String("error", err.Error()))
		}
	}
	if e.usage != nil {
		if err := e.usage.Close(); err != nil {
			e.logger.Warn("usage_close_failed", slog.String("error", err.Error()))
		}
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	e.logger.Info("shutdown",
		slog.Int("goroutines", runtime.NumGoroutine()),
		slog.Int64("active_sessions", e.registry.Count()),
		slog.Int64("dropped_events", e.async.Dropped()),
	)
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Registry() *pipeline.SessionRegistry { return e.registry }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) State() runner.State { return e.runner.State() }

func (e *Engine) Health() error {
	if e.runner.State() != runner.StateRunning {
		return fmt.Errorf("engine %s", e.runner.State())
	}
	return nil
}
