package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes interleaved 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

func (f Format) valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// Convert remixes and resamples pcm from one format to another. Channels are
// averaged down to mono or copied up; rates use linear interpolation. A
// trailing partial frame is dropped. When the formats match pcm is returned
// as is.
func Convert(pcm []byte, from, to Format) ([]byte, error) {
	if !from.valid() || !to.valid() {
		return nil, fmt.Errorf("audio: invalid conversion %s -> %s", from, to)
	}
	if from == to {
		return pcm, nil
	}
	in := len(pcm) / (2 * from.Channels)
	if in == 0 {
		return []byte{}, nil
	}

	mixed := make([]int16, in*to.Channels)
	for i := 0; i < in; i++ {
		base := i * from.Channels
		if to.Channels == 1 && from.Channels > 1 {
			sum := 0
			for c := 0; c < from.Channels; c++ {
				sum += int(sampleAt(pcm, base+c))
			}
			mixed[i] = int16(sum / from.Channels)
			continue
		}
		for c := 0; c < to.Channels; c++ {
			mixed[i*to.Channels+c] = sampleAt(pcm, base+min(c, from.Channels-1))
		}
	}

	out := in
	if from.SampleRate != to.SampleRate {
		out = int(int64(in) * int64(to.SampleRate) / int64(from.SampleRate))
	}
	buf := make([]byte, out*to.Channels*2)
	ratio := float64(from.SampleRate) / float64(to.SampleRate)
	for i := 0; i < out; i++ {
		pos := float64(i) * ratio
		idx := min(int(pos), in-1)
		frac := pos - float64(idx)
		for c := 0; c < to.Channels; c++ {
			v := float64(mixed[idx*to.Channels+c])
			if idx+1 < in {
				next := float64(mixed[(idx+1)*to.Channels+c])
				v += frac * (next - v)
			}
			binary.LittleEndian.PutUint16(buf[(i*to.Channels+c)*2:], uint16(int16(v)))
		}
	}
	return buf, nil
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[2*i:]))
}
