package stt

import "context"

// Options are per-call transcription hints.
type Options struct {
	Language   string
	SampleRate int
}

// Transcript is a final transcription. Empty Text means silence, not failure.
type Transcript struct {
	Text     string
	Language string
	Duration float64
}

// Transcriber defines the contract for any batch STT vendor implementation.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts a WAV buffer into text.
	Transcribe(ctx context.Context, wav []byte, opts Options) (Transcript, error)
}
