package frames

import (
	"testing"
	"time"
)

func TestAudioFrameDuration(t *testing.T) {
	f := NewAudioFrame("s1", 0, make([]byte, 32000), 16000, 1, nil)
	if got := f.Duration(); got != time.Second {
		t.Fatalf("expected 1s, got %s", got)
	}
	stereo := NewAudioFrame("s1", 0, make([]byte, 3200), 16000, 2, nil)
	if got := stereo.Duration(); got != 50*time.Millisecond {
		t.Fatalf("expected 50ms, got %s", got)
	}
	if got := NewAudioFrame("s1", 0, make([]byte, 10), 0, 1, nil).Duration(); got != 0 {
		t.Fatalf("expected 0 for unknown rate, got %s", got)
	}
}

func TestMetaIsCopied(t *testing.T) {
	f := NewTextFrame("s1", 1, "hi", map[string]string{MetaSource: "stt"})
	meta := f.Meta()
	meta[MetaSource] = "changed"
	if f.Meta()[MetaSource] != "stt" {
		t.Fatalf("expected frame meta to be immutable")
	}
	if f.Meta()[MetaStreamID] != "s1" {
		t.Fatalf("expected stream id in meta")
	}
}

func TestPooledAudioFrameRelease(t *testing.T) {
	f := NewAudioFrameFromPool("s1", 0, []byte{1, 2, 3, 4}, 16000, 1, nil)
	if len(f.RawPayload()) != 4 {
		t.Fatalf("expected payload copy")
	}
	if !ReleaseAudioFrame(f) {
		t.Fatalf("expected pooled frame to be released")
	}
	if ReleaseAudioFrame(NewTextFrame("s1", 0, "x", nil)) {
		t.Fatalf("text frame must not be released")
	}
}
