package audio

import (
	"encoding/binary"
	"errors"
)

const WAVHeaderSize = 44

var ErrShortWAV = errors.New("wav: payload shorter than header")

// WAVHeader builds the canonical 44-byte RIFF header for PCM data.
func WAVHeader(dataLen, sampleRate, channels, bitsPerSample int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if bitsPerSample <= 0 {
		bitsPerSample = 16
	}
	blockAlign := channels * bitsPerSample / 8
	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// EncodeWAV wraps 16-bit PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, 0, WAVHeaderSize+len(pcm))
	out = append(out, WAVHeader(len(pcm), sampleRate, channels, 16)...)
	return append(out, pcm...)
}

// StripWAVHeader drops the fixed 44-byte header and returns the PCM body.
func StripWAVHeader(wav []byte) ([]byte, error) {
	if len(wav) < WAVHeaderSize {
		return nil, ErrShortWAV
	}
	return wav[WAVHeaderSize:], nil
}
