package parley

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/parley/pkg/bargein"
	"github.com/harunnryd/parley/pkg/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("PARLEY_TEST_KEY", "sk-test")
	t.Setenv("PARLEY_TEST_PROMPT", "Be brief.")
	path := writeConfig(t, `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: openai
    settings:
      api_key: ${PARLEY_TEST_KEY}
      model: gpt-4o-mini
llm:
  system_prompt: ${PARLEY_TEST_PROMPT}
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Vendors.LLM.Settings["api_key"])
	assert.Equal(t, "Be brief.", cfg.LLM.SystemPrompt)
	assert.Equal(t, "websocket", cfg.Transports.Provider)
	assert.Equal(t, 16000, cfg.Audio.InputSampleRate)
	assert.Equal(t, 32000, cfg.Audio.TurnTargetBytes)
	assert.Equal(t, 3, cfg.Audio.MaxEmpty)
	assert.Equal(t, 4, cfg.Audio.OverflowFactor)
	assert.Equal(t, "polite", cfg.BargeIn.Mode)
	assert.Equal(t, 700.0, cfg.BargeIn.RMSThreshold)
	assert.Equal(t, 22050, cfg.Playback.SampleRate)
	assert.Equal(t, 0.9, cfg.Playback.Pacing)
	assert.Equal(t, 0.35, cfg.Profiles.EMAAlpha)
	assert.True(t, cfg.Profiles.Dynamic)
	assert.Equal(t, 20, cfg.Context.MaxHistory)
	assert.Equal(t, ":9464", cfg.Metrics.PrometheusAddr)
	assert.Equal(t, "data/logs/voice_metrics", cfg.Metrics.Dir)
	assert.True(t, cfg.Privacy.RedactPII)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: mock
playback:
  pacing: 1.5
bargein:
  mode: loud
profiles:
  default: epic
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "playback.pacing")
	assert.Contains(t, err.Error(), "bargein.mode")
	assert.Contains(t, err.Error(), "profiles.default")
}

func TestLoadConfigRequiresVendors(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendors.stt.provider is required")
	assert.Contains(t, err.Error(), "vendors.llm.provider is required")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestComponentConfigs(t *testing.T) {
	cfg := DefaultConfig()

	pc := cfg.PipelineConfig()
	assert.Equal(t, 150*time.Millisecond, pc.TTSCooldown)
	assert.Equal(t, 40*time.Millisecond, pc.ChunkDuration)
	assert.Equal(t, 32000, pc.Ring.TargetBytes)
	assert.Equal(t, "auto", pc.Profile)
	assert.Equal(t, 1764, pc.ChunkBytes())

	bc := cfg.BargeInConfig()
	assert.Equal(t, bargein.ModePolite, bc.Mode)
	assert.Equal(t, 300*time.Millisecond, bc.MinSpeech)
	assert.Equal(t, 350*time.Millisecond, bc.ProbeCooldown)
	assert.Equal(t, 3*time.Second, bc.ProbeWindow)
	assert.Equal(t, 3, bc.MinWords)

	sc := cfg.SelectorConfig()
	assert.Equal(t, 4.0, sc.TargetS)
	assert.Equal(t, 7.0, sc.CriticalS)
	assert.Equal(t, 1.8, sc.FastS)

	assert.True(t, cfg.CompleterConfig().Stream)
}

func TestProviderRegistry(t *testing.T) {
	reg := DefaultProviders()
	cfg := DefaultConfig()

	cfg.Vendors.STT = VendorConfig{Provider: "nope"}
	_, err := reg.BuildSTT(cfg)
	require.ErrorContains(t, err, "stt provider not registered")

	cfg.Vendors.STT = VendorConfig{Provider: "Mock", Settings: map[string]any{"bogus": 1}}
	_, err = reg.BuildSTT(cfg)
	require.ErrorContains(t, err, "unknown: bogus")

	cfg.Vendors.LLM = VendorConfig{Provider: "openai", Settings: map[string]any{"model": "gpt-4o-mini"}}
	_, err = reg.BuildLLM(cfg)
	require.ErrorContains(t, err, "api_key")

	cfg.Vendors.LLM.Settings["api_key"] = "sk-test"
	adapter, err := reg.BuildLLM(cfg)
	require.NoError(t, err)
	_, ok := adapter.(*llm.CircuitBreakerAdapter)
	assert.True(t, ok, "openai adapter should be wrapped in a circuit breaker")

	cfg.Vendors.TTS = VendorConfig{Provider: "chatterbox", Settings: map[string]any{"base_url": "http://localhost:4123"}}
	synth, err := reg.BuildTTS(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, synth.Name())

	cfg.Transports = VendorConfig{Provider: "websocket", Settings: map[string]any{"server_addr": "127.0.0.1:0"}}
	tr, err := BuildTransport(cfg)
	require.NoError(t, err)
	assert.Equal(t, "websocket", tr.Name())
}

func TestElevenLabsFollowsPlaybackRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Playback.SampleRate = 16000
	cfg.Vendors.TTS = VendorConfig{Provider: "elevenlabs", Settings: map[string]any{"api_key": "k", "voice_id": "v"}}
	synth, err := DefaultProviders().BuildTTS(cfg)
	require.NoError(t, err)
	rated, ok := synth.(interface{ SampleRate() int })
	require.True(t, ok)
	assert.Equal(t, 16000, rated.SampleRate())
}
