package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io/v1"

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	// OutputFormat must be a pcm_<rate> format.
	OutputFormat string
	BaseURL      string
	Stability    float64
	Similarity   float64
	MaxRetries   int
	Backoff      time.Duration
}

// Synthesizer renders a whole reply over the stream-input websocket and
// returns it as a WAV container.
type Synthesizer struct {
	cfg    Config
	rate   int
	dialer websocket.Dialer
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

func New(cfg Config) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("elevenlabs: api_key is required")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, errors.New("elevenlabs: voice_id is required")
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_22050"
	}
	rate, err := pcmRate(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Stability <= 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = 0.8
	}
	return &Synthesizer{
		cfg:    cfg,
		rate:   rate,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		retry:  resilience.NewRetryPolicy(cfg.MaxRetries, cfg.Backoff),
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}, nil
}

func pcmRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output_format must be pcm_<rate>, got %s", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output_format %s", format)
	}
	return rate, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

// SampleRate is the rate of the PCM inside returned WAVs.
func (s *Synthesizer) SampleRate() int { return s.rate }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text is empty")
	}
	voice := s.cfg.VoiceID
	if opts.Voice != "" {
		voice = opts.Voice
	}
	var pcm []byte
	err := s.retry.DoContext(ctx, func(ctx context.Context) error {
		out, err := s.stream(ctx, voice, text)
		if err != nil {
			return err
		}
		pcm = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("tts_synthesized", slog.Int("chars", len(text)), slog.Int("bytes", len(pcm)))
	return audio.EncodeWAV(pcm, s.rate, 1), nil
}

type inbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Synthesizer) stream(ctx context.Context, voice, text string) ([]byte, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.streamURL(voice), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.RateLimitFromResponse(s.Name(), resp, resp.Status)
		}
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resilience.Permanent(fmt.Errorf("elevenlabs: handshake status %d", resp.StatusCode))
		}
		return nil, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.Similarity,
			},
		},
		{"text": text + " ", "flush": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return nil, s.ctxErr(ctx, err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				return pcm, nil
			}
			return nil, s.ctxErr(ctx, err)
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return nil, resilience.Permanent(fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message))
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, resilience.Permanent(fmt.Errorf("elevenlabs: decode audio: %w", err))
			}
			pcm = append(pcm, raw...)
		}
		if msg.IsFinal {
			if len(pcm) == 0 {
				return nil, resilience.Permanent(errors.New("elevenlabs: no audio returned"))
			}
			return pcm, nil
		}
	}
}

func (s *Synthesizer) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Synthesizer) streamURL(voice string) string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	return s.cfg.BaseURL + "/text-to-speech/" + url.PathEscape(voice) + "/stream-input?" + q.Encode()
}
