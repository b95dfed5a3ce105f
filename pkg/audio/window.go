package audio

// Window keeps only the trailing Cap bytes pushed into it.
type Window struct {
	cap int
	buf []byte
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 96000
	}
	return &Window{cap: capacity, buf: make([]byte, 0, capacity)}
}

func (w *Window) Push(pcm []byte) {
	if len(pcm) >= w.cap {
		w.buf = append(w.buf[:0], pcm[len(pcm)-w.cap:]...)
		return
	}
	if over := len(w.buf) + len(pcm) - w.cap; over > 0 {
		// keep sample alignment when trimming
		if over%2 == 1 {
			over++
		}
		if over > len(w.buf) {
			over = len(w.buf)
		}
		n := copy(w.buf, w.buf[over:])
		w.buf = w.buf[:n]
	}
	w.buf = append(w.buf, pcm...)
}

func (w *Window) Bytes() []byte { return append([]byte(nil), w.buf...) }

func (w *Window) Len() int { return len(w.buf) }

func (w *Window) Cap() int { return w.cap }

func (w *Window) Reset() { w.buf = w.buf[:0] }
