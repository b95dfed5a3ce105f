package audio

// RingConfig sizes the turn window.
type RingConfig struct {
	TargetBytes    int
	OverflowFactor int
	MaxEmpty       int
}

func (c RingConfig) withDefaults() RingConfig {
	if c.TargetBytes <= 0 {
		c.TargetBytes = 32000
	}
	if c.OverflowFactor <= 0 {
		c.OverflowFactor = 4
	}
	if c.MaxEmpty <= 0 {
		c.MaxEmpty = 3
	}
	return c
}

// Ring accumulates inbound PCM until a turn-sized window is ready.
// It is owned by a single ingest goroutine and is not safe for concurrent use.
type Ring struct {
	cfg   RingConfig
	buf   []byte
	empty int
}

func NewRing(cfg RingConfig) *Ring {
	cfg = cfg.withDefaults()
	return &Ring{cfg: cfg, buf: make([]byte, 0, cfg.TargetBytes)}
}

func (r *Ring) Push(pcm []byte) {
	r.buf = append(r.buf, pcm...)
}

func (r *Ring) Ready() bool { return len(r.buf) >= r.cfg.TargetBytes }

func (r *Ring) Len() int { return len(r.buf) }

// Snapshot returns a copy of the buffered bytes without clearing them.
func (r *Ring) Snapshot() []byte {
	return append([]byte(nil), r.buf...)
}

// Drain returns the buffered bytes and clears the ring.
func (r *Ring) Drain() []byte {
	out := r.buf
	r.buf = make([]byte, 0, r.cfg.TargetBytes)
	r.empty = 0
	return out
}

func (r *Ring) Reset() {
	r.buf = r.buf[:0]
	r.empty = 0
}

// RecordEmpty notes an empty transcription of the current window. The
// window is kept so the next attempt covers more audio, unless it has grown
// past the overflow limit or too many empties happened in a row, in which
// case the ring is cleared and true is returned.
func (r *Ring) RecordEmpty() bool {
	r.empty++
	if len(r.buf) >= r.cfg.TargetBytes*r.cfg.OverflowFactor || r.empty >= r.cfg.MaxEmpty {
		r.Reset()
		return true
	}
	return false
}

// EmptyCount is the number of consecutive empty transcriptions.
func (r *Ring) EmptyCount() int { return r.empty }
