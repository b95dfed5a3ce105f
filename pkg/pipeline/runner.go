package pipeline

import (
	"context"
	"time"

	"github.com/harunnryd/parley/pkg/runner"
)

// Runner drives an engine through the lifecycle runner: banner, start
// hook, wait, drain, stop hook.
type Runner struct {
	lc *runner.LifecycleRunner
}

type DrainerFunc func(ctx context.Context) error

func (r DrainerFunc) Drain(ctx context.Context) error { return r(ctx) }

func NewDrainRunner(drainer runner.Drainer, hooks runner.Hooks, timeout time.Duration) *Runner {
	return &Runner{lc: runner.NewLifecycleRunner(drainer, hooks, timeout)}
}

func (r *Runner) Run(ctx context.Context) error { return r.lc.Run(ctx) }
func (r *Runner) Stop() error                   { return r.lc.Stop() }
func (r *Runner) State() runner.State           { return r.lc.State() }
