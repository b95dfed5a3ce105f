package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS returns the root-mean-square amplitude of little-endian 16-bit PCM.
// A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Duration is the playback length of n bytes of 16-bit PCM.
func Duration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	samples := n / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor is the number of 16-bit PCM bytes covering d.
func BytesFor(d time.Duration, sampleRate, channels int) int {
	if channels <= 0 {
		channels = 1
	}
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * 2 * channels
}

// Chunks splits pcm into consecutive slices of at most size bytes.
func Chunks(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[start:end])
	}
	return out
}
