// Package whisper transcribes audio through an HTTP /transcribe endpoint
// (faster-whisper style): multipart field "audio", optional language query.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/resilience"
)

type Config struct {
	BaseURL    string
	Language   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

type Transcriber struct {
	cfg    Config
	client *http.Client
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

var _ stt.Transcriber = (*Transcriber)(nil)

func New(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("whisper: base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("whisper: invalid base_url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  resilience.NewRetryPolicy(cfg.MaxRetries, cfg.Backoff),
		logger: logging.NewComponentLogger(slog.Default(), "whisper_stt"),
	}, nil
}

func (t *Transcriber) Name() string { return "whisper" }

type result struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Duration *float64 `json:"duration"`
}

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, opts stt.Options) (stt.Transcript, error) {
	lang := opts.Language
	if lang == "" {
		lang = t.cfg.Language
	}
	endpoint := t.cfg.BaseURL + "/transcribe"
	if lang != "" {
		endpoint += "?" + url.Values{"language": {lang}}.Encode()
	}

	var out stt.Transcript
	err := t.retry.DoContext(ctx, func(ctx context.Context) error {
		body, contentType, err := multipartBody(wav)
		if err != nil {
			return resilience.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return resilience.RateLimitFromResponse(t.Name(), resp, "rate limited")
		case resp.StatusCode >= 500:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("whisper: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		case resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return resilience.Permanent(fmt.Errorf("whisper: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}
		var res result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return resilience.Permanent(fmt.Errorf("whisper: decode response: %w", err))
		}
		out = stt.Transcript{Text: strings.TrimSpace(res.Text), Language: res.Language}
		if res.Duration != nil {
			out.Duration = *res.Duration
		}
		return nil
	})
	if err != nil {
		return stt.Transcript{}, err
	}
	t.logger.Debug("stt_transcribed",
		slog.Int("bytes", len(wav)),
		slog.String("language", out.Language),
		slog.Int("chars", len(out.Text)),
	)
	return out, nil
}

func multipartBody(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
