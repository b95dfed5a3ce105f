package transports

import (
	"context"
	"errors"

	"github.com/harunnryd/parley/pkg/frames"
)

// ErrClosed is returned by Send once the transport has stopped.
var ErrClosed = errors.New("transport: closed")

// Transport connects callers to sessions. Every frame carries
// frames.MetaStreamID.
//
// Inbound (Recv): PCM AudioFrames, typed TextFrames, Cancel and Flush
// controls, and SystemSessionStart/End around each stream.
// Outbound (Send): playback AudioFrames, transcript and reply TextFrames,
// ControlStartInterruption (drop queued audio) and ControlPlaybackDone.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// ReadyReporter exposes listen addresses and similar details for the
// engine_ready log line.
type ReadyReporter interface {
	ReadyFields() map[string]any
}

// StreamID returns the stream a frame belongs to.
func StreamID(f frames.Frame) string {
	return f.Meta()[frames.MetaStreamID]
}
