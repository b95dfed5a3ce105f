package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/bargein"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
	"github.com/harunnryd/parley/pkg/turn"
)

func (p *Pipeline) ingest(ctx context.Context, in <-chan frames.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if done := p.handle(ctx, f); done {
				p.abortTurn(context.Canceled)
				return nil
			}
		}
	}
}

// handle dispatches one inbound frame and reports whether the session ended.
func (p *Pipeline) handle(ctx context.Context, f frames.Frame) bool {
	switch v := f.(type) {
	case frames.AudioFrame:
		if af, ok := p.normalize(v); ok {
			p.handleAudio(ctx, af)
		}
		frames.ReleaseAudioFrame(v)
	case frames.TextFrame:
		// typed input skips STT.
		now := p.now()
		p.submit(ctx, strings.TrimSpace(v.Text()), now, now)
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlCancel:
			p.sess.RequestInterrupt()
			p.abortTurn(context.Canceled)
		case frames.ControlFlush:
			p.ring.Reset()
		}
	case frames.SystemFrame:
		if v.Name() == frames.SystemSessionEnd {
			p.logger.Info("session_end_received", slog.String("reason", v.Meta()[frames.MetaReason]))
			return true
		}
	}
	return false
}

// normalize converts f to the session's input format so the ring, the
// barge-in window and the STT header agree. Frames without a rate are taken
// to be in that format already.
func (p *Pipeline) normalize(f frames.AudioFrame) (frames.AudioFrame, bool) {
	src := audio.Format{SampleRate: f.Rate(), Channels: f.Channels()}
	if src.SampleRate <= 0 {
		return f, true
	}
	if src.Channels <= 0 {
		src.Channels = 1
	}
	if src == p.format {
		return f, true
	}
	if src != p.seen {
		p.seen = src
		p.logger.Info("input_format_converted",
			slog.String("from", src.String()),
			slog.String("to", p.format.String()),
		)
	}
	pcm, err := audio.Convert(f.RawPayload(), src, p.format)
	if err != nil {
		p.logger.Warn("input_format_rejected", slog.String("error", err.Error()))
		return f, false
	}
	return frames.NewAudioFrame(p.sess.StreamID, f.PTS(), pcm, p.format.SampleRate, p.format.Channels, f.Meta()), true
}

func (p *Pipeline) handleAudio(ctx context.Context, f frames.AudioFrame) {
	if p.sess.Listening() {
		p.detector.Process(ctx, f)
		return
	}
	if p.sess.InCooldown(p.now(), p.cfg.TTSCooldown) {
		p.ring.Reset()
		return
	}
	p.ring.Push(f.RawPayload())
	if p.ring.Ready() {
		p.transcribe(ctx)
	}
}

// onBargeIn stamps the live turn and tells the transport to drop queued
// audio. The detector calls it on the ingest goroutine before playback is
// told to stop.
func (p *Pipeline) onBargeIn(dec bargein.Decision) {
	requested := dec.CommittedAt
	if dec.Probed {
		requested = dec.ProbeAt
	}
	if id := p.sess.CurrentTurn(); id != 0 {
		p.tracker.MarkAt(id, turn.MarkInterruptRequested, requested)
		p.tracker.MarkAt(id, turn.MarkInterruptCommitted, dec.CommittedAt)
		p.tracker.Set(id, turn.FieldInterruptRMS, dec.Energy)
		p.tracker.Set(id, turn.FieldInterruptSpeechS, dec.Speech.Seconds())
		if dec.ProbeText != "" {
			p.tracker.Set(id, turn.FieldInterruptText, turn.Preview(dec.ProbeText, turn.InterruptPreviewLen))
		}
	}
	p.ring.Reset()
	p.emit(turn.NewInterruptFrame(p.sess.StreamID, p.pts.Next(p.sess.StreamID), p.meta(nil)))
}

func (p *Pipeline) transcribe(ctx context.Context) {
	pcm := p.ring.Snapshot()
	sctx, span := p.tracer.Start(ctx, "stt")
	defer span.End()
	span.SetAttributes(
		attribute.String("stt.provider", p.stt.Name()),
		attribute.Int("audio.bytes", len(pcm)),
	)

	start := p.now()
	wav := audio.EncodeWAV(pcm, p.cfg.InputSampleRate, p.cfg.InputChannels)
	tr, err := p.stt.Transcribe(sctx, wav, stt.Options{
		Language:   p.cfg.Language,
		SampleRate: p.cfg.InputSampleRate,
	})
	end := p.now()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		err = errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcribe failed")
		p.logger.Warn("stt_failed",
			slog.String("provider", p.stt.Name()),
			errorsx.Attr(err),
			slog.String("error", err.Error()),
		)
		p.ring.Drain()
		return
	}

	audioS := audio.Duration(len(pcm), p.cfg.InputSampleRate, p.cfg.InputChannels).Seconds()
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		cleared := p.ring.RecordEmpty()
		p.obs.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventSTTEmpty,
			Time:  end,
			Value: end.Sub(start).Seconds(),
			Tags:  map[string]string{"provider": p.stt.Name(), "component": "stt"},
			Fields: map[string]any{
				"audio_s": audioS,
				"cleared": cleared,
			},
		})
		return
	}
	p.ring.Drain()
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSTTFinal,
		Time:  end,
		Value: end.Sub(start).Seconds(),
		Tags:  map[string]string{"provider": p.stt.Name(), "component": "stt"},
		Fields: map[string]any{
			"audio_s": audioS,
			"text":    redact.Text(text),
		},
	})
	p.logger.Info("stt_final", slog.String("text", redact.Text(text)), slog.Float64("stt_s", end.Sub(start).Seconds()))
	p.submit(ctx, text, start, end)
}

// submit opens a turn for text and hands it to the response worker. A turn
// already in flight is canceled and force-closed by the tracker.
func (p *Pipeline) submit(ctx context.Context, text string, sttStart, sttEnd time.Time) {
	if utf8.RuneCountInString(text) < p.cfg.MinTranscriptChars {
		p.logger.Debug("transcript_skipped", slog.Int("chars", utf8.RuneCountInString(text)))
		return
	}
	id := p.tracker.Open(ctx, text)
	tctx, cancel := context.WithCancelCause(ctx)
	p.beginTurn(cancel)
	p.tracker.MarkAt(id, turn.MarkSTTStart, sttStart)
	p.tracker.MarkAt(id, turn.MarkSTTEnd, sttEnd)
	p.tracker.Set(id, turn.FieldSTTText, turn.Preview(text, turn.UserPreviewLen))
	p.sess.SetCurrentTurn(id)
	p.emit(frames.NewTextFrame(p.sess.StreamID, p.pts.Next(p.sess.StreamID), text, p.meta(map[string]string{
		frames.MetaSource: "user",
		frames.MetaTurnID: turnIDString(id),
	})))

	j := job{ctx: tctx, cancel: cancel, turnID: id, text: text}
	for {
		select {
		case p.jobs <- j:
			return
		case old := <-p.jobs:
			// the tracker already closed the older turn when this one opened.
			old.cancel(errSuperseded)
			p.logger.Info("turn_dropped", slog.Int64("turn_id", old.turnID))
		case <-ctx.Done():
			cancel(ctx.Err())
			return
		}
	}
}
