package turn

import (
	"github.com/harunnryd/parley/pkg/frames"
)

// NewInterruptFrame tells the transport to drop audio it has buffered for playback.
func NewInterruptFrame(streamID string, pts int64, meta map[string]string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, pts, frames.ControlStartInterruption, meta)
}

func NewPlaybackDoneFrame(streamID string, pts int64, meta map[string]string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, pts, frames.ControlPlaybackDone, meta)
}
