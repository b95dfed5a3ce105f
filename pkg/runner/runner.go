package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
	// Banner receives the startup banner; nil prints nothing.
	Banner io.Writer
}

// Drainer winds down in-flight work. ctx expires at the drain deadline.
type Drainer interface {
	Drain(ctx context.Context) error
}

const EngineVersion = "dev"

func PrintBanner(w io.Writer) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"PARLEY\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
