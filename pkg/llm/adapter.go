package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat completion call.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Delta is one streamed increment. A non-nil Err ends the stream.
type Delta struct {
	Text string
	Err  error
}

type LLMAdapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
	// Stream returns a channel closed when the stream ends. A protocol
	// failure mid-stream arrives as a final Delta with Err set.
	Stream(ctx context.Context, req Request) (<-chan Delta, error)
	Name() string
}
