package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/parley/pkg/session"
)

type Session struct {
	ID       string
	StreamID string
	TraceID  string
	Orch     Orchestrator
	Ctx      context.Context
	Cancel   context.CancelFunc
	Created  time.Time

	dropped atomic.Uint64
}

// RecordDrop counts an inbound frame lost to a full orchestrator buffer and
// returns the running total.
func (s *Session) RecordDrop() uint64 { return s.dropped.Add(1) }

func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// SessionFactory builds the orchestrator for a new stream. ctx is canceled
// when the session is removed.
type SessionFactory func(ctx context.Context, sessionID, streamID, traceID string) (Orchestrator, error)

// SessionRegistry holds one started orchestrator per transport stream.
type SessionRegistry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
	now      func() time.Time
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{factory: factory, now: time.Now}
}

// GetOrCreate returns the session for streamID, creating and starting it on
// first use. The bool reports whether a session was created. While draining
// no new sessions are created.
func (r *SessionRegistry) GetOrCreate(streamID, traceID string) (*Session, bool, error) {
	if streamID == "" {
		return nil, false, nil
	}
	if v, ok := r.sessions.Load(streamID); ok {
		return v.(*Session), false, nil
	}
	if r.draining.Load() {
		return nil, false, nil
	}
	now := r.now()
	id := session.NewID(now)
	ctx, cancel := context.WithCancel(context.Background())
	orch, err := r.factory(ctx, id, streamID, traceID)
	if err != nil {
		cancel()
		return nil, false, err
	}
	if err := orch.Start(); err != nil {
		cancel()
		return nil, false, err
	}
	sess := &Session{
		ID:       id,
		StreamID: streamID,
		TraceID:  traceID,
		Orch:     orch,
		Ctx:      ctx,
		Cancel:   cancel,
		Created:  now,
	}
	actual, loaded := r.sessions.LoadOrStore(streamID, sess)
	if loaded {
		_ = orch.Stop()
		cancel()
		return actual.(*Session), false, nil
	}
	r.count.Add(1)
	return sess, true, nil
}

func (r *SessionRegistry) Get(streamID string) (*Session, bool) {
	if v, ok := r.sessions.Load(streamID); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove stops the session for streamID, if any.
func (r *SessionRegistry) Remove(streamID string) {
	if v, ok := r.sessions.LoadAndDelete(streamID); ok {
		sess := v.(*Session)
		if sess.Orch != nil {
			_ = sess.Orch.Stop()
		}
		if sess.Cancel != nil {
			sess.Cancel()
		}
		r.count.Add(-1)
	}
}

func (r *SessionRegistry) CloseAll() {
	r.sessions.Range(func(key, value any) bool {
		if streamID, ok := key.(string); ok {
			r.Remove(streamID)
		}
		return true
	})
}

func (r *SessionRegistry) Count() int64 {
	return r.count.Load()
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *SessionRegistry) Draining() bool {
	return r.draining.Load()
}

func (r *SessionRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
