package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/redact"
	"github.com/harunnryd/parley/pkg/turn"
	"github.com/harunnryd/parley/pkg/voiceprofile"
)

func (p *Pipeline) respond(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-p.jobs:
			if !ok {
				return nil
			}
			p.runTurn(j)
		}
	}
}

// runTurn takes one opened turn through generation and playback and closes it.
func (p *Pipeline) runTurn(j job) {
	ctx := j.ctx
	defer j.cancel(nil)
	defer p.sess.ClearCurrentTurn(j.turnID)

	status := turn.StatusCompleted
	defer func() {
		if cause := context.Cause(ctx); errors.Is(cause, errSuperseded) {
			p.tracker.Set(j.turnID, turn.FieldSuperseded, true)
		}
		p.tracker.Close(context.WithoutCancel(ctx), j.turnID, status)
	}()

	if ctx.Err() != nil {
		status = turn.StatusInterrupted
		return
	}
	p.transition(turn.StateThinking, "transcript")

	sel := p.selector.Select(j.text, p.cfg.Profile)
	p.recordSelection(j.turnID, sel)

	reply, ok := p.generate(ctx, j, sel)
	if !ok {
		status = turn.StatusInterrupted
		p.transition(turn.StateListening, "turn_canceled")
		return
	}
	if reply == "" {
		p.transition(turn.StateListening, "empty_reply")
		return
	}
	p.tracker.Set(j.turnID, turn.FieldAssistantText, turn.Preview(reply, turn.AssistantPreviewLen))
	p.emit(frames.NewTextFrame(p.sess.StreamID, p.pts.Next(p.sess.StreamID), reply, p.meta(map[string]string{
		frames.MetaSource: "assistant",
		frames.MetaTurnID: turnIDString(j.turnID),
	})))

	if p.speak(ctx, j.turnID, reply) {
		status = turn.StatusInterrupted
	}
	p.transition(turn.StateListening, "turn_done")
}

func (p *Pipeline) recordSelection(id int64, sel voiceprofile.Selection) {
	p.tracker.Set(id, turn.FieldProfile, string(sel.Profile.Name))
	p.tracker.Set(id, turn.FieldProfileBase, string(sel.Base))
	p.tracker.Set(id, turn.FieldProfileForced, sel.Forced)
	p.tracker.Set(id, turn.FieldProfileReason, sel.Reason)
	fields := map[string]any{"reason": sel.Reason, "forced": sel.Forced}
	if sel.HasEMA {
		fields["latency_ema_s"] = sel.EMA
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventProfileSelected,
		Time: p.now(),
		Tags: map[string]string{
			"profile":   string(sel.Profile.Name),
			"base":      string(sel.Base),
			"adjusted":  strconv.FormatBool(sel.Adjusted),
			"component": "voiceprofile",
		},
		Fields: fields,
	})
}

// generate calls the model and returns the compacted reply. On a model
// failure it returns the configured error reply; ok is false only when the
// turn was canceled.
func (p *Pipeline) generate(ctx context.Context, j job, sel voiceprofile.Selection) (string, bool) {
	prof := sel.Profile
	req := llm.Request{
		Messages:    p.messages(j.text, prof),
		Temperature: prof.Temperature,
		MaxTokens:   prof.MaxTokens,
	}
	p.tracker.Mark(j.turnID, turn.MarkLLMStart)
	res, err := p.llm.Complete(ctx, req)
	p.tracker.Mark(j.turnID, turn.MarkLLMEnd)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		p.tracker.Set(j.turnID, turn.FieldLLMError, err.Error())
		p.logger.Warn("llm_failed",
			slog.Int64("turn_id", j.turnID),
			errorsx.Attr(err),
			slog.String("error", err.Error()),
		)
		return p.cfg.ErrorReply, true
	}

	m := res.Metrics
	p.tracker.Set(j.turnID, turn.FieldLLMMode, string(m.Mode))
	p.tracker.Set(j.turnID, turn.FieldLLMFirstToken, round4(m.FirstTokenS))
	p.tracker.Set(j.turnID, turn.FieldLLMTotal, round4(m.TotalS))

	latency := p.selector.Latency()
	ema := latency.Update(m.TotalS, m.FirstTokenS, prof.Name)
	p.tracker.Set(j.turnID, turn.FieldLatencyEMA, round4(ema))
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventLatencyEMA,
		Time:  p.now(),
		Value: ema,
		Tags:  map[string]string{"profile": string(prof.Name), "component": "voiceprofile"},
		Fields: map[string]any{
			"sample_s": m.TotalS,
			"alpha":    latency.Alpha(),
		},
	})

	reply := voiceprofile.Compact(res.Text, prof.MaxWords, prof.MaxSentences)
	if reply != "" {
		p.appendHistory(
			llm.Message{Role: llm.RoleUser, Content: j.text},
			llm.Message{Role: llm.RoleAssistant, Content: reply},
		)
	}
	return reply, true
}

func (p *Pipeline) messages(text string, prof voiceprofile.Profile) []llm.Message {
	var system []string
	if s := strings.TrimSpace(p.cfg.SystemPrompt); s != "" {
		system = append(system, s)
	}
	if s := strings.TrimSpace(prof.StylePrompt); s != "" {
		system = append(system, s)
	}
	history := p.History()
	msgs := make([]llm.Message, 0, len(history)+2)
	if len(system) > 0 {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: strings.Join(system, "\n\n")})
	}
	msgs = append(msgs, history...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}

// speak synthesizes text and plays it back in paced chunks. It reports
// whether playback was interrupted.
func (p *Pipeline) speak(ctx context.Context, id int64, text string) bool {
	p.transition(turn.StateSpeaking, "reply_ready")
	interrupt := p.sess.BeginSpeaking()
	p.detector.Start()
	p.tracker.Mark(id, turn.MarkTTSStart)
	defer func() {
		p.detector.Stop()
		p.tracker.Mark(id, turn.MarkTTSEnd)
		p.sess.EndSpeaking(p.now())
	}()

	sctx, span := p.tracer.Start(ctx, "tts")
	span.SetAttributes(
		attribute.String("tts.provider", p.tts.Name()),
		attribute.Int("tts.chars", len(text)),
	)
	wav, err := p.tts.Synthesize(sctx, text, tts.Options{Exaggeration: p.cfg.Exaggeration, Voice: p.cfg.Voice})
	var pcm []byte
	if err == nil {
		pcm, err = audio.StripWAVHeader(wav)
	}
	if err != nil {
		span.End()
		if ctx.Err() != nil {
			p.tracker.Set(id, turn.FieldTTSInterrupted, true)
			return true
		}
		err = errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesize failed")
		p.tracker.Set(id, turn.FieldTTSError, err.Error())
		p.logger.Warn("tts_failed",
			slog.Int64("turn_id", id),
			errorsx.Attr(err),
			slog.String("error", err.Error()),
		)
		return false
	}
	span.End()

	sent, interrupted := p.play(ctx, id, pcm, interrupt)
	p.tracker.Set(id, turn.FieldTTSInterrupted, interrupted)
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTTSDone,
		Time:  p.now(),
		Value: sent.Seconds(),
		Tags:  map[string]string{"provider": p.tts.Name(), "component": "tts"},
		Fields: map[string]any{
			"audio_s":     audio.Duration(len(pcm), p.cfg.PlaybackSampleRate, 1).Seconds(),
			"interrupted": interrupted,
		},
	})
	if interrupted {
		p.logger.Info("tts_playback_interrupted",
			slog.Int64("turn_id", id),
			slog.Float64("played_s", sent.Seconds()),
			slog.String("text", redact.Text(turn.Preview(text, 60))),
		)
		return true
	}
	p.emit(turn.NewPlaybackDoneFrame(p.sess.StreamID, p.pts.Next(p.sess.StreamID), p.meta(map[string]string{
		frames.MetaTurnID: turnIDString(id),
	})))
	return false
}

// play emits pcm in fixed-size chunks, waiting a paced fraction of each
// chunk's length before the next. It stops as soon as an interrupt arrives
// or ctx is canceled, and returns how much audio was sent.
func (p *Pipeline) play(ctx context.Context, id int64, pcm []byte, interrupt <-chan struct{}) (time.Duration, bool) {
	ctx, span := p.tracer.Start(ctx, "playback")
	defer span.End()

	rate := p.cfg.PlaybackSampleRate
	chunks := audio.Chunks(pcm, p.cfg.ChunkBytes())
	span.SetAttributes(attribute.Int("playback.chunks", len(chunks)))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var sent time.Duration
	for i, chunk := range chunks {
		select {
		case <-interrupt:
			return sent, true
		case <-ctx.Done():
			return sent, true
		default:
		}
		if i == 0 {
			at := p.now()
			p.tracker.MarkAt(id, turn.MarkTTSFirstAudio, at)
			p.obs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventTTSFirstAudio,
				Time: at,
				Tags: map[string]string{"provider": p.tts.Name(), "component": "tts"},
			})
		}
		p.emit(frames.NewAudioFrame(p.sess.StreamID, p.pts.Next(p.sess.StreamID), chunk, rate, 1, p.meta(map[string]string{
			frames.MetaSource: "tts",
		})))
		d := audio.Duration(len(chunk), rate, 1)
		sent += d
		timer.Reset(time.Duration(float64(d) * p.cfg.Pacing))
		select {
		case <-timer.C:
		case <-interrupt:
			return sent, true
		case <-ctx.Done():
			return sent, true
		}
	}
	return sent, false
}

func turnIDString(id int64) string { return strconv.FormatInt(id, 10) }

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
