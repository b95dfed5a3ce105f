package bargein

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
)

// Prober runs a short confirmatory transcription of raw PCM.
type Prober interface {
	Probe(ctx context.Context, pcm []byte) (string, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, pcm []byte) (string, error)

func (f ProberFunc) Probe(ctx context.Context, pcm []byte) (string, error) { return f(ctx, pcm) }

// Requester receives the interrupt request on commit.
type Requester interface {
	RequestInterrupt() bool
}

type State int

const (
	StateIdle State = iota
	StateMonitoring
)

func (s State) String() string {
	if s == StateMonitoring {
		return "MONITORING"
	}
	return "IDLE"
}

// Decision describes what one frame did to the detector.
type Decision struct {
	Energy      float64
	Speech      time.Duration
	Probed      bool
	ProbeAt     time.Time
	ProbeText   string
	ProbeWords  int
	Committed   bool
	CommittedAt time.Time
}

// Detector decides while the bot speaks whether the user is barging in.
type Detector struct {
	cfg       Config
	prober    Prober
	requester Requester
	obs       metrics.Observer
	logger    *slog.Logger
	onCommit  func(Decision)

	mu      sync.Mutex
	state   State
	gen     uint64
	speech  time.Duration
	window  *audio.Window
	limiter *rate.Limiter
}

func NewDetector(cfg Config, prober Prober, requester Requester) *Detector {
	cfg = cfg.withDefaults()
	d := &Detector{
		cfg:       cfg,
		prober:    prober,
		requester: requester,
		obs:       metrics.NoopObserver{},
		logger:    logging.NewComponentLogger(slog.Default(), "bargein"),
		window:    audio.NewWindow(audio.BytesFor(cfg.ProbeWindow, cfg.SampleRate, cfg.Channels)),
	}
	d.limiter = d.newLimiter()
	return d
}

func (d *Detector) SetObserver(obs metrics.Observer) {
	if obs != nil {
		d.obs = obs
	}
}

func (d *Detector) SetLogger(l *slog.Logger) {
	if l != nil {
		d.logger = logging.NewComponentLogger(l, "bargein")
	}
}

// OnCommit registers fn to run on every commit, before the interrupt is
// requested. Set it before the first Process call.
func (d *Detector) OnCommit(fn func(Decision)) {
	d.onCommit = fn
}

func (d *Detector) Config() Config { return d.cfg }

func (d *Detector) newLimiter() *rate.Limiter {
	if d.cfg.ProbeCooldown <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d.cfg.ProbeCooldown), 1)
}

// Start arms the detector for a new bot utterance.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.state = StateMonitoring
	d.resetLocked()
}

// Stop disarms the detector.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.state = StateIdle
	d.resetLocked()
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Speech returns the accumulated above-threshold duration.
func (d *Detector) Speech() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speech
}

func (d *Detector) resetLocked() {
	d.speech = 0
	d.window.Reset()
	d.limiter = d.newLimiter()
}

// Process evaluates one inbound frame. Frames arriving while Idle are ignored.
func (d *Detector) Process(ctx context.Context, f frames.AudioFrame) Decision {
	pcm := f.RawPayload()
	energy := audio.RMS(pcm)
	dur := f.Duration()
	if dur == 0 {
		dur = audio.Duration(len(pcm), d.cfg.SampleRate, d.cfg.Channels)
	}

	d.mu.Lock()
	dec := Decision{Energy: energy}
	if d.state != StateMonitoring {
		d.mu.Unlock()
		return dec
	}
	d.window.Push(pcm)
	threshold := d.cfg.Threshold()

	if d.cfg.Mode == ModeLegacy {
		if energy >= threshold {
			dec.Speech = dur
			d.commitLocked(&dec)
		}
		d.mu.Unlock()
		if dec.Committed {
			d.afterCommit(dec)
		}
		return dec
	}

	if energy >= threshold {
		d.speech += dur
	} else {
		d.speech -= 2 * dur
		if d.speech < 0 {
			d.speech = 0
		}
	}
	dec.Speech = d.speech
	if d.speech < d.cfg.MinSpeechDuration() || d.window.Len() < d.cfg.ProbeMinBytes {
		d.mu.Unlock()
		return dec
	}
	now := d.cfg.Now()
	if !d.limiter.AllowN(now, 1) {
		d.mu.Unlock()
		return dec
	}
	gen := d.gen
	probeAudio := d.window.Bytes()
	d.mu.Unlock()

	dec.Probed = true
	dec.ProbeAt = now
	text := d.probe(ctx, probeAudio)
	dec.ProbeText = text
	dec.ProbeWords = len(strings.Fields(text))

	d.mu.Lock()
	if d.gen != gen || d.state != StateMonitoring {
		d.mu.Unlock()
		return dec
	}
	if dec.ProbeWords >= d.cfg.MinWords || d.cfg.Mode == ModeAggressive {
		d.commitLocked(&dec)
	} else {
		// too few words: keep some evidence, wait for the cooldown.
		d.speech /= 2
		dec.Speech = d.speech
	}
	d.mu.Unlock()

	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventBargeInProbe,
		Time:  now,
		Value: float64(dec.ProbeWords),
		Tags:  map[string]string{"mode": string(d.cfg.Mode), "component": "bargein"},
		Fields: map[string]any{
			"committed": dec.Committed,
			"text":      redact.Text(text),
		},
	})
	if dec.Committed {
		d.afterCommit(dec)
	}
	return dec
}

func (d *Detector) commitLocked(dec *Decision) {
	d.state = StateIdle
	d.gen++
	d.resetLocked()
	dec.Committed = true
	dec.CommittedAt = d.cfg.Now()
}

func (d *Detector) afterCommit(dec Decision) {
	if d.onCommit != nil {
		d.onCommit(dec)
	}
	accepted := false
	if d.requester != nil {
		accepted = d.requester.RequestInterrupt()
	}
	d.logger.Info("barge_in_committed",
		slog.String("mode", string(d.cfg.Mode)),
		slog.Float64("energy", dec.Energy),
		slog.Int("probe_words", dec.ProbeWords),
		slog.Bool("accepted", accepted),
	)
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventBargeInCommitted,
		Time:  dec.CommittedAt,
		Value: dec.Speech.Seconds(),
		Tags:  map[string]string{"mode": string(d.cfg.Mode), "component": "bargein"},
	})
}

func (d *Detector) probe(ctx context.Context, pcm []byte) string {
	if d.prober == nil {
		return ""
	}
	ctx, span := otel.Tracer("github.com/harunnryd/parley/pkg/bargein").Start(ctx, "bargein.probe")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(pcm)))
	text, err := d.prober.Probe(ctx, pcm)
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonSTTProbe)
		span.RecordError(err)
		d.logger.Warn("barge_in_probe_failed",
			errorsx.Attr(err),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return strings.TrimSpace(text)
}
