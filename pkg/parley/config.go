package parley

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/bargein"
	"github.com/harunnryd/parley/pkg/configutil"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/pipeline"
	"github.com/harunnryd/parley/pkg/voiceprofile"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	LogFormat   string         `mapstructure:"log_format"`
	Language    string         `mapstructure:"language"`
	Vendors     VendorsConfig  `mapstructure:"vendors"`
	Transports  VendorConfig   `mapstructure:"transports"`
	Audio       AudioConfig    `mapstructure:"audio"`
	BargeIn     BargeInConfig  `mapstructure:"bargein"`
	Playback    PlaybackConfig `mapstructure:"playback"`
	Profiles    ProfilesConfig `mapstructure:"profiles"`
	LLM         LLMConfig      `mapstructure:"llm"`
	Context     ContextConfig  `mapstructure:"context"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Privacy     PrivacyConfig  `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type AudioConfig struct {
	InputSampleRate int `mapstructure:"input_sample_rate"`
	Channels        int `mapstructure:"channels"`
	TurnTargetBytes int `mapstructure:"turn_target_bytes"`
	MaxEmpty        int `mapstructure:"max_empty"`
	OverflowFactor  int `mapstructure:"overflow_factor"`
	TTSCooldownMS   int `mapstructure:"tts_cooldown_ms"`
}

type BargeInConfig struct {
	Mode            string  `mapstructure:"mode"`
	RMSThreshold    float64 `mapstructure:"rms_threshold"`
	MinMS           int     `mapstructure:"min_ms"`
	MinWords        int     `mapstructure:"min_words"`
	ProbeCooldownMS int     `mapstructure:"probe_cooldown_ms"`
	ProbeWindowS    float64 `mapstructure:"probe_window_s"`
	ProbeMinBytes   int     `mapstructure:"probe_min_bytes"`
}

type PlaybackConfig struct {
	SampleRate   int     `mapstructure:"sample_rate"`
	ChunkMS      int     `mapstructure:"chunk_ms"`
	Pacing       float64 `mapstructure:"pacing"`
	Exaggeration float64 `mapstructure:"exaggeration"`
	Voice        string  `mapstructure:"voice"`
}

type ProfilesConfig struct {
	// Default is a profile name, alias or "auto".
	Default   string  `mapstructure:"default"`
	Dynamic   bool    `mapstructure:"dynamic"`
	Strict    bool    `mapstructure:"strict"`
	TargetS   float64 `mapstructure:"target_s"`
	CriticalS float64 `mapstructure:"critical_s"`
	FastS     float64 `mapstructure:"fast_s"`
	EMAAlpha  float64 `mapstructure:"ema_alpha"`
	File      string  `mapstructure:"file"`
}

type LLMConfig struct {
	Stream             bool   `mapstructure:"stream"`
	MinTranscriptChars int    `mapstructure:"min_transcript_chars"`
	ErrorReply         string `mapstructure:"error_reply"`
	SystemPrompt       string `mapstructure:"system_prompt"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	RetryBaseMS        int    `mapstructure:"retry_base_ms"`
}

type ContextConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	MaxLen   int64  `mapstructure:"max_len"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

type MetricsConfig struct {
	Enabled        bool        `mapstructure:"enabled"`
	Dir            string      `mapstructure:"dir"`
	Redis          RedisConfig `mapstructure:"redis"`
	PrometheusAddr string      `mapstructure:"prometheus_addr"`
	RetentionDays  int         `mapstructure:"retention_days"`
	Timeline       bool        `mapstructure:"timeline"`
	AsyncBuffer    int         `mapstructure:"async_buffer"`

	// SampleRate thins the event stream fed to the artifact observers.
	SampleRate float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("language", "en")
	v.SetDefault("transports.provider", "websocket")
	v.SetDefault("audio.input_sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.turn_target_bytes", 32000)
	v.SetDefault("audio.max_empty", 3)
	v.SetDefault("audio.overflow_factor", 4)
	v.SetDefault("audio.tts_cooldown_ms", 150)
	v.SetDefault("bargein.mode", "polite")
	v.SetDefault("bargein.rms_threshold", 700)
	v.SetDefault("bargein.min_ms", 300)
	v.SetDefault("bargein.min_words", 3)
	v.SetDefault("bargein.probe_cooldown_ms", 350)
	v.SetDefault("bargein.probe_window_s", 3.0)
	v.SetDefault("bargein.probe_min_bytes", 4096)
	v.SetDefault("playback.sample_rate", 22050)
	v.SetDefault("playback.chunk_ms", 40)
	v.SetDefault("playback.pacing", 0.9)
	v.SetDefault("playback.exaggeration", 0.5)
	v.SetDefault("playback.voice", "")
	v.SetDefault("profiles.default", "auto")
	v.SetDefault("profiles.dynamic", true)
	v.SetDefault("profiles.strict", false)
	v.SetDefault("profiles.target_s", 4.0)
	v.SetDefault("profiles.critical_s", 7.0)
	v.SetDefault("profiles.fast_s", 1.8)
	v.SetDefault("profiles.ema_alpha", 0.35)
	v.SetDefault("profiles.file", "")
	v.SetDefault("llm.stream", true)
	v.SetDefault("llm.min_transcript_chars", 2)
	v.SetDefault("llm.error_reply", "Sorry, I ran into a problem. Could you say that again?")
	v.SetDefault("llm.system_prompt", "You are a friendly voice assistant. Answer in plain spoken sentences.")
	v.SetDefault("llm.max_attempts", 2)
	v.SetDefault("llm.retry_base_ms", 250)
	v.SetDefault("context.max_history", 20)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.dir", "data/logs/voice_metrics")
	v.SetDefault("metrics.redis.addr", "")
	v.SetDefault("metrics.redis.prefix", "parley:turns:")
	v.SetDefault("metrics.redis.max_len", 500)
	v.SetDefault("metrics.redis.ttl_hours", 0)
	v.SetDefault("metrics.prometheus_addr", ":9464")
	v.SetDefault("metrics.retention_days", 0)
	v.SetDefault("metrics.timeline", true)
	v.SetDefault("metrics.sample_rate", 1.0)
	v.SetDefault("metrics.async_buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
}

// DefaultConfig returns the built-in defaults without reading a file.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Transports.Provider) == "" {
		errs = append(errs, errors.New("transports.provider is required"))
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		errs = append(errs, errors.New("vendors.stt.provider is required"))
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		errs = append(errs, errors.New("vendors.tts.provider is required"))
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		errs = append(errs, errors.New("vendors.llm.provider is required"))
	}
	if c.Audio.InputSampleRate <= 0 {
		errs = append(errs, errors.New("audio.input_sample_rate must be positive"))
	}
	if c.Playback.SampleRate <= 0 {
		errs = append(errs, errors.New("playback.sample_rate must be positive"))
	}
	if c.Playback.Pacing <= 0 || c.Playback.Pacing > 1 {
		errs = append(errs, fmt.Errorf("playback.pacing must be in (0, 1], got %v", c.Playback.Pacing))
	}
	if m := strings.ToLower(strings.TrimSpace(c.BargeIn.Mode)); m != "" && bargein.ParseMode(m) != bargein.Mode(m) {
		errs = append(errs, fmt.Errorf("bargein.mode must be one of [default, aggressive, polite, legacy], got %s", c.BargeIn.Mode))
	}
	if c.Profiles.CriticalS < c.Profiles.TargetS {
		errs = append(errs, errors.New("profiles.critical_s must not be below profiles.target_s"))
	}
	if c.Profiles.EMAAlpha <= 0 || c.Profiles.EMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("profiles.ema_alpha must be in (0, 1], got %v", c.Profiles.EMAAlpha))
	}
	if d := strings.TrimSpace(c.Profiles.Default); d != "" && !strings.EqualFold(d, "auto") {
		if _, ok := voiceprofile.Normalize(d); !ok {
			errs = append(errs, fmt.Errorf("profiles.default is not a known profile: %s", d))
		}
	}
	if c.Metrics.SampleRate < 0 || c.Metrics.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("metrics.sample_rate must be in [0, 1], got %v", c.Metrics.SampleRate))
	}
	return errors.Join(errs...)
}

// PipelineConfig maps the file layout onto a per-session pipeline config.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		InputSampleRate: c.Audio.InputSampleRate,
		InputChannels:   c.Audio.Channels,
		Ring: audio.RingConfig{
			TargetBytes:    c.Audio.TurnTargetBytes,
			OverflowFactor: c.Audio.OverflowFactor,
			MaxEmpty:       c.Audio.MaxEmpty,
		},
		TTSCooldown:        ms(c.Audio.TTSCooldownMS),
		PlaybackSampleRate: c.Playback.SampleRate,
		ChunkDuration:      ms(c.Playback.ChunkMS),
		Pacing:             c.Playback.Pacing,
		Exaggeration:       c.Playback.Exaggeration,
		Voice:              c.Playback.Voice,
		Language:           c.Language,
		Profile:            c.Profiles.Default,
		MinTranscriptChars: c.LLM.MinTranscriptChars,
		MaxHistory:         c.Context.MaxHistory,
		SystemPrompt:       c.LLM.SystemPrompt,
		ErrorReply:         c.LLM.ErrorReply,
	}
}

func (c Config) BargeInConfig() bargein.Config {
	return bargein.Config{
		Mode:          bargein.ParseMode(c.BargeIn.Mode),
		RMSThreshold:  c.BargeIn.RMSThreshold,
		MinSpeech:     ms(c.BargeIn.MinMS),
		MinWords:      c.BargeIn.MinWords,
		ProbeCooldown: ms(c.BargeIn.ProbeCooldownMS),
		ProbeWindow:   time.Duration(c.BargeIn.ProbeWindowS * float64(time.Second)),
		ProbeMinBytes: c.BargeIn.ProbeMinBytes,
	}
}

func (c Config) SelectorConfig() voiceprofile.SelectorConfig {
	return voiceprofile.SelectorConfig{
		Dynamic:   c.Profiles.Dynamic,
		Strict:    c.Profiles.Strict,
		TargetS:   c.Profiles.TargetS,
		CriticalS: c.Profiles.CriticalS,
		FastS:     c.Profiles.FastS,
	}
}

func (c Config) CompleterConfig() llm.CompleterConfig {
	return llm.CompleterConfig{
		Stream: c.LLM.Stream,
		Retry: llm.RetryConfig{
			MaxAttempts: c.LLM.MaxAttempts,
			BaseDelay:   ms(c.LLM.RetryBaseMS),
		},
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = configutil.ExpandEnv(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = configutil.ExpandEnv(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = configutil.ExpandEnv(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = configutil.ExpandEnv(cfg.Transports.Settings)
}

// expandValue walks typed string fields. Free-form settings maps are
// handled by configutil.ExpandEnv.
func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
