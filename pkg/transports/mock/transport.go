package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/transports"
)

// Transport is an in-memory transport. Tests push caller frames in and
// read what the engine sent back from Sent.
type Transport struct {
	mu     sync.RWMutex
	closed bool
	recvCh chan frames.Frame
	sentCh chan frames.Frame
	pts    *frames.PTSGen
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 1024),
		sentCh: make(chan frames.Frame, 4096),
		pts:    frames.NewPTSGen(),
	}
}

func (t *Transport) Name() string { return "mock" }

// Start stops the transport when ctx ends.
func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.recvCh)
	close(t.sentCh)
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Send records f. Frames beyond the outbound buffer are dropped.
func (t *Transport) Send(f frames.Frame) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return transports.ErrClosed
	}
	select {
	case t.sentCh <- f:
	default:
	}
	return nil
}

// Push injects an inbound frame, blocking while the receive buffer is full
// so tests never lose audio.
func (t *Transport) Push(f frames.Frame) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	t.recvCh <- f
}

// StartStream opens streamID the way a connecting caller would.
func (t *Transport) StartStream(streamID string, meta map[string]string) {
	t.Push(frames.NewSystemFrame(streamID, t.pts.Next(streamID), frames.SystemSessionStart, meta))
}

// PushPCM sends one chunk of caller audio on streamID.
func (t *Transport) PushPCM(streamID string, pcm []byte, rate int, meta map[string]string) {
	t.Push(frames.NewAudioFrame(streamID, t.pts.Next(streamID), pcm, rate, 1, meta))
}

// EndStream hangs up streamID.
func (t *Transport) EndStream(streamID, reason string) {
	t.Push(frames.NewSystemFrame(streamID, t.pts.Next(streamID), frames.SystemSessionEnd, map[string]string{
		frames.MetaReason: reason,
	}))
}

// Sent exposes outbound frames; it is closed by Stop.
func (t *Transport) Sent() <-chan frames.Frame { return t.sentCh }

var _ transports.Transport = (*Transport)(nil)
