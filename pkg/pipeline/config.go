package pipeline

import (
	"time"

	"github.com/harunnryd/parley/pkg/audio"
)

// Config holds the per-session knobs of a Pipeline.
type Config struct {
	InputSampleRate int
	InputChannels   int
	Ring            audio.RingConfig
	// TTSCooldown drops inbound audio for this long after playback ends.
	TTSCooldown time.Duration

	PlaybackSampleRate int
	ChunkDuration      time.Duration
	// Pacing scales the wait after each chunk relative to its playback length.
	Pacing       float64
	Exaggeration float64
	Voice        string

	Language           string
	Profile            string
	MinTranscriptChars int
	MaxHistory         int
	SystemPrompt       string
	ErrorReply         string

	InboundBuffer int
}

func (c Config) withDefaults() Config {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = 16000
	}
	if c.InputChannels <= 0 {
		c.InputChannels = 1
	}
	if c.TTSCooldown < 0 {
		c.TTSCooldown = 0
	}
	if c.PlaybackSampleRate <= 0 {
		c.PlaybackSampleRate = 22050
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 40 * time.Millisecond
	}
	if c.Pacing <= 0 {
		c.Pacing = 0.9
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 2
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
	if c.ErrorReply == "" {
		c.ErrorReply = "Sorry, I ran into a problem. Could you say that again?"
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 256
	}
	return c
}

// ChunkBytes is the size of one playback chunk in bytes.
func (c Config) ChunkBytes() int {
	n := audio.BytesFor(c.ChunkDuration, c.PlaybackSampleRate, 1)
	if n < 2 {
		n = 2
	}
	return n
}
