package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/resilience"
)

type Config struct {
	APIKey      string
	Model       string
	Language    string
	Host        string
	SmartFormat bool
	MaxRetries  int
	Backoff     time.Duration
}

// transcribeFunc runs one prerecorded request and returns the SDK response.
type transcribeFunc func(ctx context.Context, r io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (any, error)

// Transcriber sends each WAV window to Deepgram's prerecorded endpoint.
type Transcriber struct {
	cfg        Config
	transcribe transcribeFunc
	retry      resilience.RetryPolicy
	logger     *slog.Logger
}

var _ stt.Transcriber = (*Transcriber)(nil)

func New(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepgram: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: cfg.Host})
	dg := api.New(c)
	return newWithFunc(cfg, func(ctx context.Context, r io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (any, error) {
		res, err := dg.FromStream(ctx, r, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	}), nil
}

func newWithFunc(cfg Config, fn transcribeFunc) *Transcriber {
	return &Transcriber{
		cfg:        cfg,
		transcribe: fn,
		retry:      resilience.NewRetryPolicy(cfg.MaxRetries, cfg.Backoff),
		logger:     logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, opts stt.Options) (stt.Transcript, error) {
	lang := opts.Language
	if lang == "" {
		lang = t.cfg.Language
	}
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    lang,
		Punctuate:   true,
		SmartFormat: t.cfg.SmartFormat,
	}
	var out stt.Transcript
	err := t.retry.DoContext(ctx, func(ctx context.Context) error {
		res, err := t.transcribe(ctx, bytes.NewReader(wav), options)
		if err != nil {
			return err
		}
		out, err = decodeTranscript(res)
		if err != nil {
			return resilience.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return stt.Transcript{}, err
	}
	if out.Language == "" {
		out.Language = lang
	}
	t.logger.Debug("stt_transcribed",
		slog.Int("bytes", len(wav)),
		slog.Int("chars", len(out.Text)),
	)
	return out, nil
}

type prerecorded struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// decodeTranscript reads the first alternative of every channel from the
// SDK response via its JSON form.
func decodeTranscript(res any) (stt.Transcript, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: encode response: %w", err)
	}
	var pr prerecorded
	if err := json.Unmarshal(raw, &pr); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	out := stt.Transcript{Duration: pr.Metadata.Duration}
	var parts []string
	for _, ch := range pr.Results.Channels {
		if out.Language == "" {
			out.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(ch.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	out.Text = strings.Join(parts, " ")
	return out, nil
}
