package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/parley/pkg/turn"
)

// Context is the per-session state shared by the ingest loop, the barge-in
// detector and the playback task. Only playback begins and ends speaking;
// the detector may only request an interrupt.
type Context struct {
	ID       string
	StreamID string

	botSpeaking atomic.Bool
	interrupted atomic.Bool
	lastTTSEnd  atomic.Int64
	currentTurn atomic.Int64

	mu        sync.Mutex
	interrupt chan struct{}

	phases *turn.PhaseMachine
}

func New(id, streamID string) *Context {
	c := &Context{
		ID:        id,
		StreamID:  streamID,
		interrupt: make(chan struct{}),
		phases:    turn.NewPhaseMachine(),
	}
	return c
}

// BeginSpeaking clears any previous interrupt request, marks the bot as
// speaking and returns the channel closed by the next RequestInterrupt.
func (c *Context) BeginSpeaking() <-chan struct{} {
	c.mu.Lock()
	c.interrupt = make(chan struct{})
	ch := c.interrupt
	c.interrupted.Store(false)
	c.botSpeaking.Store(true)
	c.mu.Unlock()
	return ch
}

// EndSpeaking clears the speaking flag and records when playback ended.
func (c *Context) EndSpeaking(at time.Time) {
	c.botSpeaking.Store(false)
	c.lastTTSEnd.Store(at.UnixNano())
}

// RequestInterrupt asks the active playback to stop. It reports whether this
// call was the one that raised the request.
func (c *Context) RequestInterrupt() bool {
	if !c.botSpeaking.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interrupted.CompareAndSwap(false, true) {
		return false
	}
	close(c.interrupt)
	return true
}

func (c *Context) InterruptRequested() bool { return c.interrupted.Load() }

func (c *Context) BotSpeaking() bool { return c.botSpeaking.Load() }

// Listening reports whether inbound audio should go to the barge-in detector.
func (c *Context) Listening() bool {
	return c.botSpeaking.Load() && !c.interrupted.Load()
}

func (c *Context) LastTTSEnd() time.Time {
	v := c.lastTTSEnd.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// InCooldown reports whether now falls within d after the last playback.
func (c *Context) InCooldown(now time.Time, d time.Duration) bool {
	last := c.LastTTSEnd()
	if last.IsZero() || d <= 0 {
		return false
	}
	return now.Sub(last) < d
}

func (c *Context) SetCurrentTurn(id int64) { c.currentTurn.Store(id) }

func (c *Context) CurrentTurn() int64 { return c.currentTurn.Load() }

// ClearCurrentTurn unsets the current turn if it is still id.
func (c *Context) ClearCurrentTurn(id int64) bool {
	return c.currentTurn.CompareAndSwap(id, 0)
}

func (c *Context) Phases() *turn.PhaseMachine { return c.phases }
