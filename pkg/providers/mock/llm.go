package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	// StreamOpenErr fails Stream before any delta.
	StreamOpenErr error
	// StreamErr is delivered after StreamChunks.
	StreamErr   error
	GenerateErr error
	// Delay before the first delta or the blocking reply.
	Delay time.Duration
}

type LLMAdapter struct {
	cfg      LLMConfig
	mu       sync.Mutex
	requests []llm.Request
	streams  int
	blocking int
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.blocking++
	a.mu.Unlock()
	if err := wait(ctx, a.cfg.Delay); err != nil {
		return llm.Response{}, err
	}
	if a.cfg.GenerateErr != nil {
		return llm.Response{}, a.cfg.GenerateErr
	}
	return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
}

func (a *LLMAdapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.Delta, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.streams++
	a.mu.Unlock()
	if a.cfg.StreamOpenErr != nil {
		return nil, a.cfg.StreamOpenErr
	}
	chunks := a.cfg.StreamChunks
	if len(chunks) == 0 && a.cfg.StreamErr == nil {
		chunks = []string{a.cfg.ResponseText}
	}
	out := make(chan llm.Delta, len(chunks)+1)
	go func() {
		defer close(out)
		if err := wait(ctx, a.cfg.Delay); err != nil {
			return
		}
		for _, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			case out <- llm.Delta{Text: chunk}:
			}
		}
		if a.cfg.StreamErr != nil {
			out <- llm.Delta{Err: a.cfg.StreamErr}
		}
	}()
	return out, nil
}

// Requests returns every request seen by either path.
func (a *LLMAdapter) Requests() []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Request(nil), a.requests...)
}

func (a *LLMAdapter) Calls() (streams, blocking int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streams, a.blocking
}

var ErrScripted = errors.New("mock: scripted failure")

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
