package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeat(n int, frame ...int16) []byte {
	var samples []int16
	for i := 0; i < n; i++ {
		samples = append(samples, frame...)
	}
	return pcmOf(samples...)
}

func TestConvertStereo48kToMono16k(t *testing.T) {
	// 20ms at 48 kHz stereo.
	in := repeat(960, 1000, 3000)
	out, err := Convert(in, Format{48000, 2}, Format{16000, 1})
	require.NoError(t, err)
	require.Len(t, out, 640)
	for i := 0; i < len(out); i += 2 {
		assert.Equal(t, int16(2000), int16(binary.LittleEndian.Uint16(out[i:])))
	}
	assert.Equal(t, Duration(len(in), 48000, 2), Duration(len(out), 16000, 1))
}

func TestConvertMonoUpmixAndUpsample(t *testing.T) {
	out, err := Convert(pcmOf(0, 100), Format{8000, 1}, Format{16000, 2})
	require.NoError(t, err)
	// 2 frames at 8 kHz become 4 stereo frames; the midpoint is interpolated.
	assert.Equal(t, pcmOf(0, 0, 50, 50, 100, 100, 100, 100), out)
}

func TestConvertSameFormatAndErrors(t *testing.T) {
	in := pcmOf(1, 2, 3)
	out, err := Convert(in, Format{16000, 1}, Format{16000, 1})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = Convert([]byte{1, 2, 3}, Format{16000, 2}, Format{16000, 1})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = Convert(in, Format{0, 1}, Format{16000, 1})
	assert.Error(t, err)
	_, err = Convert(in, Format{16000, 1}, Format{16000, 0})
	assert.Error(t, err)
}
