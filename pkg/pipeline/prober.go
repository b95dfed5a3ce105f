package pipeline

import (
	"context"

	"github.com/harunnryd/parley/pkg/adapters/stt"
	"github.com/harunnryd/parley/pkg/audio"
	"github.com/harunnryd/parley/pkg/bargein"
)

// TranscriberProber runs barge-in probes through a batch transcriber,
// wrapping the probe window in a WAV header first.
func TranscriberProber(t stt.Transcriber, opts stt.Options, channels int) bargein.Prober {
	return bargein.ProberFunc(func(ctx context.Context, pcm []byte) (string, error) {
		tr, err := t.Transcribe(ctx, audio.EncodeWAV(pcm, opts.SampleRate, channels), opts)
		if err != nil {
			return "", err
		}
		return tr.Text, nil
	})
}
