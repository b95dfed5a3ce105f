package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRingReadyAndDrain(t *testing.T) {
	r := NewRing(RingConfig{TargetBytes: 100})
	r.Push(make([]byte, 60))
	assert.False(t, r.Ready())
	r.Push(make([]byte, 40))
	require.True(t, r.Ready())

	out := r.Drain()
	assert.Len(t, out, 100)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Ready())
}

func TestRingEmptyKeepsWindowUntilLimit(t *testing.T) {
	r := NewRing(RingConfig{TargetBytes: 100, MaxEmpty: 3})
	r.Push(make([]byte, 100))

	assert.False(t, r.RecordEmpty())
	assert.Equal(t, 100, r.Len(), "window is kept after one empty result")
	r.Push(make([]byte, 100))
	assert.False(t, r.RecordEmpty())
	assert.True(t, r.RecordEmpty(), "third consecutive empty clears")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.EmptyCount())
}

func TestRingOverflowClears(t *testing.T) {
	r := NewRing(RingConfig{TargetBytes: 100, OverflowFactor: 4, MaxEmpty: 10})
	r.Push(make([]byte, 400))
	assert.True(t, r.RecordEmpty())
	assert.Equal(t, 0, r.Len())
}

func TestRingNeverGrowsPastOverflowWithEmptyTranscripts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		target := rapid.IntRange(2, 4000).Draw(rt, "target")
		r := NewRing(RingConfig{TargetBytes: target})
		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			r.Push(make([]byte, rapid.IntRange(1, target).Draw(rt, "chunk")))
			if r.Ready() {
				r.RecordEmpty()
			}
			if r.Len() >= target*5 {
				rt.Fatalf("ring grew to %d with target %d", r.Len(), target)
			}
		}
	})
}

func TestWindowKeepsTrailingBytes(t *testing.T) {
	w := NewWindow(8)
	w.Push([]byte{1, 2, 3, 4, 5, 6})
	w.Push([]byte{7, 8, 9, 10})
	assert.Equal(t, []byte{3, 4, 5, 6, 7, 8, 9, 10}, w.Bytes())

	w.Push([]byte{11, 12, 13, 14, 15, 16, 17, 18, 19, 20})
	assert.Equal(t, []byte{13, 14, 15, 16, 17, 18, 19, 20}, w.Bytes())

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestWindowBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(2, 512).Draw(rt, "cap") * 2
		w := NewWindow(capacity)
		for _, n := range rapid.SliceOfN(rapid.IntRange(0, 1024), 1, 20).Draw(rt, "pushes") {
			w.Push(make([]byte, n))
			if w.Len() > capacity {
				rt.Fatalf("window len %d exceeds cap %d", w.Len(), capacity)
			}
		}
	})
}
