package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver forwards events to inner on a single goroutine. Events
// recorded while the buffer is full are dropped and counted.
type AsyncObserver struct {
	inner   Observer
	ch      chan MetricsEvent
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones are delivered.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
	})
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
