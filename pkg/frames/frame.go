package frames

import (
	"sync"
	"time"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindControl Kind = "control"
	KindSystem  Kind = "system"
)

type ControlCode string

const (
	ControlCancel            ControlCode = "cancel"
	ControlFlush             ControlCode = "flush"
	ControlStartInterruption ControlCode = "start_interruption"
	ControlPlaybackDone      ControlCode = "playback_done"
)

// System frame names emitted by transports.
const (
	SystemSessionStart = "session_start"
	SystemSessionEnd   = "session_end"
)

// Frame is a closed set: AudioFrame, TextFrame, ControlFrame and SystemFrame.
// Consumers switch on the concrete type and handle every case.
type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
	sealed()
}

type AudioFrame struct {
	pts    int64
	data   []byte
	rate   int
	ch     int
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(streamID, meta),
	}
}

func NewAudioFrameFromPool(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		pts:    pts,
		data:   buf,
		rate:   rate,
		ch:     ch,
		meta:   mergeMeta(streamID, meta),
		pooled: true,
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) StreamID() string        { return a.meta[MetaStreamID] }
func (AudioFrame) sealed()                   {}

// Duration is the playback length of the payload as 16-bit PCM.
func (a AudioFrame) Duration() time.Duration {
	rate, ch := a.rate, a.ch
	if rate <= 0 {
		return 0
	}
	if ch <= 0 {
		ch = 1
	}
	samples := len(a.data) / (2 * ch)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		return false
	}
	if af.pooled {
		ReleaseAudioBuf(af.data)
		return true
	}
	return false
}

type TextFrame struct {
	pts  int64
	text string
	meta map[string]string
}

func NewTextFrame(streamID string, pts int64, text string, meta map[string]string) TextFrame {
	return TextFrame{
		pts:  pts,
		text: text,
		meta: mergeMeta(streamID, meta),
	}
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) PTS() int64              { return t.pts }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }
func (TextFrame) sealed()                   {}

type ControlFrame struct {
	pts  int64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(streamID string, pts int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		pts:  pts,
		code: code,
		meta: mergeMeta(streamID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) PTS() int64              { return c.pts }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }
func (ControlFrame) sealed()                   {}

type SystemFrame struct {
	pts  int64
	name string
	meta map[string]string
}

func NewSystemFrame(streamID string, pts int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{
		pts:  pts,
		name: name,
		meta: mergeMeta(streamID, meta),
	}
}

func (s SystemFrame) Kind() Kind              { return KindSystem }
func (s SystemFrame) PTS() int64              { return s.pts }
func (s SystemFrame) Meta() map[string]string { return cloneMeta(s.meta) }
func (s SystemFrame) Name() string            { return s.name }
func (SystemFrame) sealed()                   {}

type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewPTSGen() *PTSGen {
	return &PTSGen{value: make(map[string]int64)}
}

func (g *PTSGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamID] + time.Millisecond.Nanoseconds()
	g.value[streamID] = v
	return v
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
