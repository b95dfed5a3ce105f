package parley

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/configutil"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/providers/chatterbox"
	"github.com/harunnryd/parley/pkg/providers/deepgram"
	"github.com/harunnryd/parley/pkg/providers/elevenlabs"
	"github.com/harunnryd/parley/pkg/providers/mock"
	"github.com/harunnryd/parley/pkg/providers/openai"
	"github.com/harunnryd/parley/pkg/providers/whisper"
	"github.com/harunnryd/parley/pkg/resilience"
	"github.com/harunnryd/parley/pkg/transports"
	mocktransport "github.com/harunnryd/parley/pkg/transports/mock"
	"github.com/harunnryd/parley/pkg/transports/websocket"
)

type STTFactory func(cfg Config) (stt.Transcriber, error)
type TTSFactory func(cfg Config) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (llm.LLMAdapter, error)

// ProviderRegistry maps vendor names from the config file to constructors.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

// DefaultProviders returns a registry with every built-in vendor.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	RegisterDefaultProviders(r)
	return r
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(cfg Config) (stt.Transcriber, error) {
	fn := r.stt[providerKey(cfg.Vendors.STT.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Vendors.STT.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(cfg Config) (tts.Synthesizer, error) {
	fn := r.tts[providerKey(cfg.Vendors.TTS.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", cfg.Vendors.TTS.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(cfg Config) (llm.LLMAdapter, error) {
	fn := r.llm[providerKey(cfg.Vendors.LLM.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", cfg.Vendors.LLM.Provider)
	}
	return fn(cfg)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type whisperSettings struct {
	BaseURL    string `mapstructure:"base_url"`
	Language   string `mapstructure:"language"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
	MaxRetries *int   `mapstructure:"max_retries"`
	BackoffMS  int    `mapstructure:"backoff_ms"`
}

type deepgramSettings struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	Host        string `mapstructure:"host"`
	SmartFormat *bool  `mapstructure:"smart_format"`
	MaxRetries  *int   `mapstructure:"max_retries"`
	BackoffMS   int    `mapstructure:"backoff_ms"`
}

type chatterboxSettings struct {
	BaseURL    string `mapstructure:"base_url"`
	VoiceID    string `mapstructure:"voice_id"`
	MaxChars   int    `mapstructure:"max_chars"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
	MaxRetries *int   `mapstructure:"max_retries"`
	BackoffMS  int    `mapstructure:"backoff_ms"`
}

type elevenlabsSettings struct {
	APIKey       string  `mapstructure:"api_key"`
	VoiceID      string  `mapstructure:"voice_id"`
	ModelID      string  `mapstructure:"model_id"`
	OutputFormat string  `mapstructure:"output_format"`
	BaseURL      string  `mapstructure:"base_url"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity_boost"`
	MaxRetries   *int    `mapstructure:"max_retries"`
	BackoffMS    int     `mapstructure:"backoff_ms"`
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	TimeoutMS         int    `mapstructure:"timeout_ms"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type mockSTTSettings struct {
	Transcript string `mapstructure:"transcript"`
	Language   string `mapstructure:"language"`
}

type mockTTSSettings struct {
	SampleRate int `mapstructure:"sample_rate"`
	DurationMS int `mapstructure:"duration_ms"`
	Amplitude  int `mapstructure:"amplitude"`
}

type mockLLMSettings struct {
	ResponseText string   `mapstructure:"response_text"`
	StreamChunks []string `mapstructure:"stream_chunks"`
	DelayMS      int      `mapstructure:"delay_ms"`
}

// RegisterDefaultProviders registers the built-in STT, TTS and LLM vendors.
func RegisterDefaultProviders(reg *ProviderRegistry) {
	reg.RegisterSTT("whisper", func(cfg Config) (stt.Transcriber, error) {
		var settings whisperSettings
		if err := configutil.Decode("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"base_url"},
			Optional: []string{"language", "timeout_ms", "max_retries", "backoff_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.BaseURL, "vendors.stt.settings.base_url"); err != nil {
			return nil, err
		}
		if settings.Language == "" {
			settings.Language = cfg.Language
		}
		return whisper.New(whisper.Config{
			BaseURL:    settings.BaseURL,
			Language:   settings.Language,
			Timeout:    ms(settings.TimeoutMS),
			MaxRetries: configutil.IntValue(settings.MaxRetries, 1),
			Backoff:    ms(settings.BackoffMS),
		})
	})

	reg.RegisterSTT("deepgram", func(cfg Config) (stt.Transcriber, error) {
		var settings deepgramSettings
		if err := configutil.Decode("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "host", "smart_format", "max_retries", "backoff_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Language == "" {
			settings.Language = cfg.Language
		}
		return deepgram.New(deepgram.Config{
			APIKey:      settings.APIKey,
			Model:       settings.Model,
			Language:    settings.Language,
			Host:        settings.Host,
			SmartFormat: configutil.BoolValue(settings.SmartFormat, true),
			MaxRetries:  configutil.IntValue(settings.MaxRetries, 1),
			Backoff:     ms(settings.BackoffMS),
		})
	})

	reg.RegisterSTT("mock", func(cfg Config) (stt.Transcriber, error) {
		var settings mockSTTSettings
		if err := configutil.Decode("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: []string{"transcript", "language"},
		}, &settings); err != nil {
			return nil, err
		}
		return mock.NewSTT(mock.STTConfig{
			Transcript: settings.Transcript,
			Language:   settings.Language,
		}), nil
	})

	reg.RegisterTTS("chatterbox", func(cfg Config) (tts.Synthesizer, error) {
		var settings chatterboxSettings
		if err := configutil.Decode("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Required: []string{"base_url"},
			Optional: []string{"voice_id", "max_chars", "timeout_ms", "max_retries", "backoff_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.BaseURL, "vendors.tts.settings.base_url"); err != nil {
			return nil, err
		}
		voice := settings.VoiceID
		if voice == "" {
			voice = cfg.Playback.Voice
		}
		return chatterbox.New(chatterbox.Config{
			BaseURL:      settings.BaseURL,
			VoiceID:      voice,
			Exaggeration: cfg.Playback.Exaggeration,
			MaxChars:     settings.MaxChars,
			Timeout:      ms(settings.TimeoutMS),
			MaxRetries:   configutil.IntValue(settings.MaxRetries, 1),
			Backoff:      ms(settings.BackoffMS),
		})
	})

	reg.RegisterTTS("elevenlabs", func(cfg Config) (tts.Synthesizer, error) {
		var settings elevenlabsSettings
		if err := configutil.Decode("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "base_url", "stability", "similarity_boost", "max_retries", "backoff_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if settings.OutputFormat == "" {
			settings.OutputFormat = fmt.Sprintf("pcm_%d", cfg.Playback.SampleRate)
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       settings.APIKey,
			VoiceID:      settings.VoiceID,
			ModelID:      settings.ModelID,
			OutputFormat: settings.OutputFormat,
			BaseURL:      settings.BaseURL,
			Stability:    settings.Stability,
			Similarity:   settings.Similarity,
			MaxRetries:   configutil.IntValue(settings.MaxRetries, 1),
			Backoff:      ms(settings.BackoffMS),
		})
	})

	reg.RegisterTTS("mock", func(cfg Config) (tts.Synthesizer, error) {
		var settings mockTTSSettings
		if err := configutil.Decode("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Optional: []string{"sample_rate", "duration_ms", "amplitude"},
		}, &settings); err != nil {
			return nil, err
		}
		rate := settings.SampleRate
		if rate == 0 {
			rate = cfg.Playback.SampleRate
		}
		return mock.NewTTS(mock.TTSConfig{
			SampleRate: rate,
			Duration:   ms(settings.DurationMS),
			Amplitude:  int16(settings.Amplitude),
		}), nil
	})

	reg.RegisterLLM("openai", func(cfg Config) (llm.LLMAdapter, error) {
		var settings openAISettings
		if err := configutil.Decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"base_url", "timeout_ms", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.Model, "vendors.llm.settings.model"); err != nil {
			return nil, err
		}
		adapter := openai.New(openai.Config{
			APIKey:  settings.APIKey,
			Model:   settings.Model,
			BaseURL: settings.BaseURL,
			Timeout: ms(settings.TimeoutMS),
		})
		if !configutil.BoolValue(settings.UseCircuitBreaker, true) {
			return adapter, nil
		}
		threshold := settings.CircuitThreshold
		if threshold == 0 {
			threshold = 3
		}
		cooldown := settings.CircuitCooldownMs
		if cooldown == 0 {
			cooldown = 30000
		}
		breaker := resilience.NewCircuitBreaker(threshold, time.Duration(cooldown)*time.Millisecond)
		return llm.NewCircuitBreakerAdapter(adapter, breaker), nil
	})

	reg.RegisterLLM("mock", func(cfg Config) (llm.LLMAdapter, error) {
		var settings mockLLMSettings
		if err := configutil.Decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Optional: []string{"response_text", "stream_chunks", "delay_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: settings.ResponseText,
			StreamChunks: settings.StreamChunks,
			Delay:        ms(settings.DelayMS),
		}), nil
	})
}

// BuildTransport constructs the transport named by transports.provider.
func BuildTransport(cfg Config) (transports.Transport, error) {
	switch providerKey(cfg.Transports.Provider) {
	case "websocket":
		var settings websocket.Config
		if err := configutil.Decode("transports.settings", cfg.Transports.Settings, configutil.Schema{
			Optional: []string{"server_addr", "ws_path", "sample_rate", "channels", "allow_any_origin", "allowed_origins", "send_buffer"},
		}, &settings); err != nil {
			return nil, err
		}
		if settings.SampleRate == 0 {
			settings.SampleRate = cfg.Audio.InputSampleRate
		}
		if settings.Channels == 0 {
			settings.Channels = cfg.Audio.Channels
		}
		return websocket.New(settings), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transports.Provider)
	}
}
