package driver

import (
	"context"

	"github.com/chatlens/chatlens/internal/ailink/content"
)

// Driver defines the interface for AI completion providers.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Stream sends a completion request and returns incremental chunks.
	Stream(ctx context.Context, req *Request) (Stream, error)
	// Name returns the driver identifier (e.g., "openai").
	Name() string
}

// Stream yields completion chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Chunk is one increment of a streamed completion. Usage is only set on the
// final chunk and only when the provider reports it.
type Chunk struct {
	Delta        string
	FinishReason string
	Usage        *Usage
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	Messages    []content.Message
	Temperature *float32
	MaxTokens   *int
	PromptSlug  string
}

// Response is a provider-agnostic completion response.
type Response struct {
	Content      []content.ContentBlock
	FinishReason string
	Usage        *Usage
}

// Text joins the response's content blocks.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return content.Message{Content: r.Content}.Text()
}
