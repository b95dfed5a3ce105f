package bargein

import (
	"math"
	"strings"
	"time"
)

// Mode trades interruption speed against tolerance for noise and pauses.
type Mode string

const (
	ModeDefault    Mode = "default"
	ModeAggressive Mode = "aggressive"
	ModePolite     Mode = "polite"
	ModeLegacy     Mode = "legacy"
)

// ParseMode maps a config value to a Mode. Unknown values fall back to default.
func ParseMode(v string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeAggressive:
		return ModeAggressive
	case ModePolite:
		return ModePolite
	case ModeLegacy:
		return ModeLegacy
	default:
		return ModeDefault
	}
}

type Config struct {
	Mode          Mode
	RMSThreshold  float64
	MinSpeech     time.Duration
	MinWords      int
	ProbeCooldown time.Duration
	ProbeWindow   time.Duration
	ProbeMinBytes int
	SampleRate    int
	Channels      int
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeDefault
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = 700
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 300 * time.Millisecond
	}
	if c.MinWords <= 0 {
		c.MinWords = 1
	}
	if c.ProbeCooldown < 0 {
		c.ProbeCooldown = 0
	}
	if c.ProbeWindow <= 0 {
		c.ProbeWindow = 3 * time.Second
	}
	if c.ProbeMinBytes <= 0 {
		c.ProbeMinBytes = 4096
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Threshold is the RMS level a frame must reach to count as speech.
func (c Config) Threshold() float64 {
	base := c.RMSThreshold
	switch c.Mode {
	case ModeAggressive:
		if base-150 > 250 {
			return base - 150
		}
		return 250
	case ModePolite:
		return base + 150
	default:
		return base
	}
}

// MinSpeechDuration is the accumulated speech needed before probing.
// Legacy mode commits on a single frame and has no minimum.
func (c Config) MinSpeechDuration() time.Duration {
	switch c.Mode {
	case ModeAggressive:
		return maxDuration(80*time.Millisecond, scale(c.MinSpeech, 0.6))
	case ModePolite:
		return maxDuration(200*time.Millisecond, scale(c.MinSpeech, 1.2))
	case ModeLegacy:
		return 0
	default:
		return maxDuration(120*time.Millisecond, c.MinSpeech)
	}
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(math.Round(float64(d) * f))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
