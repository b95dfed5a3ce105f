// Package chatterbox synthesizes speech through an HTTP /synthesize endpoint
// that returns a WAV container.
package chatterbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/resilience"
)

type Config struct {
	BaseURL      string
	VoiceID      string
	Exaggeration float64
	// MaxChars clips long replies before synthesis; 0 disables clipping.
	MaxChars   int
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

func New(cfg Config) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("chatterbox: base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Exaggeration <= 0 {
		cfg.Exaggeration = 0.5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  resilience.NewRetryPolicy(cfg.MaxRetries, cfg.Backoff),
		logger: logging.NewComponentLogger(slog.Default(), "chatterbox_tts"),
	}, nil
}

func (s *Synthesizer) Name() string { return "chatterbox" }

type synthesizeRequest struct {
	Text         string  `json:"text"`
	Exaggeration float64 `json:"exaggeration"`
	VoiceID      string  `json:"voice_id,omitempty"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error) {
	text = ClipText(text, s.cfg.MaxChars)
	if text == "" {
		return nil, errors.New("chatterbox: text is empty")
	}
	body := synthesizeRequest{Text: text, Exaggeration: opts.Exaggeration, VoiceID: opts.Voice}
	if body.Exaggeration <= 0 {
		body.Exaggeration = s.cfg.Exaggeration
	}
	if body.VoiceID == "" {
		body.VoiceID = s.cfg.VoiceID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var wav []byte
	err = s.retry.DoContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/synthesize", bytes.NewReader(payload))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitFromResponse(s.Name(), resp, "rate limited")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("chatterbox: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode < 500 {
				return resilience.Permanent(err)
			}
			return err
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) <= audio.WAVHeaderSize {
			return resilience.Permanent(audio.ErrShortWAV)
		}
		wav = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("tts_synthesized", slog.Int("chars", len(text)), slog.Int("bytes", len(wav)))
	return wav, nil
}

// ClipText collapses whitespace and, past max runes, cuts back to the last
// sentence break (when one exists after the first 40 runes) and appends " ...".
func ClipText(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	clipped := string(runes[:max])
	if i := strings.LastIndex(clipped, ". "); i > 40 {
		clipped = clipped[:i+1]
	}
	return clipped + " ..."
}
