package tts

import "context"

// Options tune a single synthesis call.
type Options struct {
	Exaggeration float64
	Voice        string
}

// Synthesizer defines the contract for any batch TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize returns a WAV container; the first 44 bytes are its header.
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}
