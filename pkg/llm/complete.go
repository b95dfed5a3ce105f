package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/resilience"
)

type Mode string

const (
	ModeStream   Mode = "stream"
	ModeBlocking Mode = "blocking"
)

// Metrics has the same shape whichever path produced the reply.
type Metrics struct {
	Mode        Mode
	FirstTokenS float64
	TotalS      float64
	Fallback    bool
}

type Result struct {
	Text    string
	Usage   Usage
	Metrics Metrics
}

var errEmptyStream = errors.New("stream produced no text")

type CompleterConfig struct {
	// Stream tries the streaming path first.
	Stream bool
	Retry  RetryConfig
	Now    func() time.Time
}

// Completer runs a chat request, preferring the streamed path and falling
// back to a single blocking call when streaming fails in any way.
type Completer struct {
	adapter LLMAdapter
	cfg     CompleterConfig
	obs     metrics.Observer
	logger  *slog.Logger
}

func NewCompleter(adapter LLMAdapter, cfg CompleterConfig) *Completer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Completer{
		adapter: adapter,
		cfg:     cfg,
		obs:     metrics.NoopObserver{},
		logger:  logging.NewComponentLogger(slog.Default(), "llm"),
	}
}

func (c *Completer) SetObserver(obs metrics.Observer) {
	if obs != nil {
		c.obs = obs
	}
}

func (c *Completer) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = logging.NewComponentLogger(l, "llm")
	}
}

func (c *Completer) Complete(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("github.com/harunnryd/parley/pkg/llm").Start(ctx, "llm")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.adapter.Name()),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	)

	start := c.cfg.Now()
	if c.cfg.Stream {
		res, err := c.stream(ctx, req, start)
		if err == nil {
			c.done(res, span)
			return res, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			return Result{}, ctx.Err()
		}
		err = errorsx.Wrap(err, errorsx.ReasonLLMStreamFallback)
		c.logger.Warn("llm_stream_fallback",
			slog.String("provider", c.adapter.Name()),
			errorsx.Attr(err),
			slog.String("error", err.Error()),
		)
		c.obs.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventLLMFallback,
			Time: c.cfg.Now(),
			Tags: map[string]string{"provider": c.adapter.Name(), "component": "llm"},
		})
	}

	resp, err := Retry(ctx, c.cfg.Retry, func(ctx context.Context) (Response, error) {
		return c.adapter.Generate(ctx, req)
	})
	if err != nil {
		if resilience.IsRateLimit(err) {
			err = errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
		}
		err = errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return Result{}, err
	}
	total := c.cfg.Now().Sub(start).Seconds()
	res := Result{
		Text:  strings.TrimSpace(resp.Text),
		Usage: resp.Usage,
		Metrics: Metrics{
			Mode:        ModeBlocking,
			FirstTokenS: total,
			TotalS:      total,
			Fallback:    c.cfg.Stream,
		},
	}
	c.done(res, span)
	return res, nil
}

func (c *Completer) stream(ctx context.Context, req Request, start time.Time) (Result, error) {
	ch, err := c.adapter.Stream(ctx, req)
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	var (
		b          strings.Builder
		firstToken float64
		seen       bool
	)
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case d, ok := <-ch:
			if !ok {
				text := strings.TrimSpace(b.String())
				if text == "" {
					return Result{}, errEmptyStream
				}
				return Result{
					Text: text,
					Metrics: Metrics{
						Mode:        ModeStream,
						FirstTokenS: firstToken,
						TotalS:      c.cfg.Now().Sub(start).Seconds(),
					},
				}, nil
			}
			if d.Err != nil {
				return Result{}, errorsx.Wrap(d.Err, errorsx.ReasonLLMStream)
			}
			if d.Text == "" {
				continue
			}
			if !seen {
				seen = true
				firstToken = c.cfg.Now().Sub(start).Seconds()
				c.obs.RecordEvent(metrics.MetricsEvent{
					Name:  metrics.EventLLMFirstToken,
					Time:  c.cfg.Now(),
					Value: firstToken,
					Tags:  map[string]string{"provider": c.adapter.Name(), "component": "llm"},
				})
			}
			b.WriteString(d.Text)
		}
	}
}

func (c *Completer) done(res Result, span trace.Span) {
	span.SetAttributes(
		attribute.String("llm.mode", string(res.Metrics.Mode)),
		attribute.Float64("llm.first_token_s", res.Metrics.FirstTokenS),
		attribute.Float64("llm.total_s", res.Metrics.TotalS),
	)
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventLLMDone,
		Time:  c.cfg.Now(),
		Value: res.Metrics.TotalS,
		Tags: map[string]string{
			"provider":  c.adapter.Name(),
			"mode":      string(res.Metrics.Mode),
			"component": "llm",
		},
		Fields: map[string]any{
			"first_token_s": res.Metrics.FirstTokenS,
			"total_tokens":  res.Usage.TotalTokens,
		},
	})
}
