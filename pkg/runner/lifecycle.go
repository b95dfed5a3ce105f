package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("runner: drain timeout")

// LifecycleRunner runs until its context ends or Stop is called, then
// drains once under a deadline and calls the stop hook. Stop and Run may
// race; the drain happens exactly once and both see its result.
type LifecycleRunner struct {
	state   atomic.Int32
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
	hooks   Hooks
	drainer Drainer
	stopErr error
	timeout time.Duration
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		stopped: make(chan struct{}),
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("runner: cannot run from state %s", r.State())
	}
	PrintBanner(r.hooks.Banner)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	<-ctx.Done()
	return r.stop()
}

// Stop ends a running runner and waits for the drain. Stopping a runner
// that never ran still drains and fires the stop hook.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

// Stopped is closed once the stop hook has returned.
func (r *LifecycleRunner) Stopped() <-chan struct{} { return r.stopped }

func (r *LifecycleRunner) stop() error {
	r.once.Do(func() {
		defer close(r.stopped)
		r.state.Store(int32(StateDraining))
		r.stopErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	<-r.stopped
	return r.stopErr
}

func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.drainer.Drain(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}
