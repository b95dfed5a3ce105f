package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/resilience"
)

// ErrIncompleteStream is reported when the event stream ends without [DONE].
var ErrIncompleteStream = errors.New("openai: stream ended before [DONE]")

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Adapter talks to any OpenAI-compatible chat completions endpoint.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

var _ llm.LLMAdapter = (*Adapter)(nil)

func NewAdapter(apiKey, model string) *Adapter {
	return New(Config{APIKey: apiKey, Model: model})
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Adapter{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *Adapter) Name() string { return "openai" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Generate(ctx context.Context, input llm.Request) (llm.Response, error) {
	resp, err := a.post(ctx, input, false)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return llm.Response{}, errors.New("openai: no choices")
	}
	out := llm.Response{
		Text:         payload.Choices[0].Message.Content,
		FinishReason: payload.Choices[0].FinishReason,
	}
	if payload.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (a *Adapter) Stream(ctx context.Context, input llm.Request) (<-chan llm.Delta, error) {
	resp, err := a.post(ctx, input, true)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Delta, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		send := func(d llm.Delta) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- d:
				return true
			}
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(llm.Delta{Err: fmt.Errorf("openai: malformed event: %w", err)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !send(llm.Delta{Text: text}) {
					return
				}
			}
		}
		err := scanner.Err()
		if err == nil {
			err = ErrIncompleteStream
		}
		send(llm.Delta{Err: err})
	}()
	return out, nil
}

func (a *Adapter) post(ctx context.Context, input llm.Request, stream bool) (*http.Response, error) {
	body := chatRequest{
		Model:       a.Model,
		Messages:    input.Messages,
		Stream:      stream,
		Temperature: input.Temperature,
		MaxTokens:   input.MaxTokens,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, resilience.RateLimitFromResponse("openai", resp, string(msg))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
