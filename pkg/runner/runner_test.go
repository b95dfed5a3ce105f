package runner

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type drainFunc func(context.Context) error

func (f drainFunc) Drain(ctx context.Context) error { return f(ctx) }

func TestLifecycleRunnerPrintsBannerAndStops(t *testing.T) {
	var out bytes.Buffer
	started := make(chan struct{})
	r := NewLifecycleRunner(nil, Hooks{Banner: &out, OnStart: func() { close(started) }}, time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	<-started
	require.NoError(t, r.Stop())
	require.NoError(t, <-errCh)

	assert.Equal(t, StateStopped, r.State())
	assert.Contains(t, out.String(), "Version: "+EngineVersion)
	assert.Error(t, r.Run(context.Background()))
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(drainFunc(func(context.Context) error {
		<-block
		return errors.New("unreachable")
	}), Hooks{}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), ErrDrainTimeout)
	assert.Equal(t, StateStopped, r.State())
}

func TestLifecycleRunnerStopWithoutRun(t *testing.T) {
	var drained bool
	r := NewLifecycleRunner(drainFunc(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		drained = ok
		return nil
	}), Hooks{}, time.Second)
	require.NoError(t, r.Stop())
	assert.True(t, drained)
	select {
	case <-r.Stopped():
	default:
		t.Fatal("stopped channel must be closed")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "unknown", State(42).String())
}
