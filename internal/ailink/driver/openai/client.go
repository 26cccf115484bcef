// Package openai implements the completion driver for OpenAI-compatible chat
// APIs. xAI and other compatible hosts are reached by overriding the base URL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/chatlens/chatlens/internal/ailink/driver"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	XAIBaseURL     = "https://api.x.ai/v1"
)

// Client implements driver.Driver on top of go-openai.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration

	// Provider names the upstream in errors and traces ("openai", "xai").
	Provider string
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = DefaultBaseURL
	}

	return &Client{
		BaseURL:  url,
		APIKey:   strings.TrimSpace(apiKey),
		Provider: "openai",
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	if c == nil || strings.TrimSpace(c.Provider) == "" {
		return "openai"
	}
	return c.Provider
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	api, err := c.api()
	if err != nil {
		return nil, err
	}

	payload, err := buildChatRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	start := time.Now()
	resp, err := api.CreateChatCompletion(ctx, payload)
	if err != nil {
		perr := c.providerError(err)
		c.trace(req, false, 0, time.Since(start), perr)
		return nil, perr
	}

	out, err := toDriverResponse(&resp)
	c.trace(req, false, len(out.Text()), time.Since(start), err)
	return out, err
}

// Stream sends a streaming chat completion request. The returned stream owns
// the timeout; callers must Close it.
func (c *Client) Stream(ctx context.Context, req *driver.Request) (driver.Stream, error) {
	api, err := c.api()
	if err != nil {
		return nil, err
	}

	payload, err := buildChatRequest(req)
	if err != nil {
		return nil, err
	}
	payload.Stream = true
	payload.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	ctx, cancel := withTimeout(ctx, c.Timeout)

	start := time.Now()
	stream, err := api.CreateChatCompletionStream(ctx, payload)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		perr := c.providerError(err)
		c.trace(req, true, 0, time.Since(start), perr)
		return nil, perr
	}

	return &chatStream{
		client: c,
		req:    req,
		stream: stream,
		cancel: cancel,
		start:  start,
	}, nil
}

func (c *Client) api() (*goopenai.Client, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	cfg := goopenai.DefaultConfig(c.APIKey)
	cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	}
	return goopenai.NewClientWithConfig(cfg), nil
}

// providerError normalizes go-openai failures into driver.ProviderError.
func (c *Client) providerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &driver.ProviderError{Provider: c.Name(), StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &driver.ProviderError{Provider: c.Name(), StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &driver.ProviderError{Provider: c.Name(), Message: err.Error(), Err: err}
}

func (c *Client) trace(req *driver.Request, streamed bool, outputChars int, elapsed time.Duration, err error) {
	if !driver.IsTracingEnabled() {
		return
	}
	entry := driver.TraceEntry{
		Driver:      c.Name(),
		Streamed:    streamed,
		OutputChars: outputChars,
		DurationMs:  elapsed.Milliseconds(),
	}
	if req != nil {
		entry.Model = req.Model
		entry.PromptSlug = req.PromptSlug
		for _, msg := range req.Messages {
			entry.InputChars += len(msg.Text())
		}
	}
	if err != nil {
		entry.Error = err.Error()
		var perr *driver.ProviderError
		if errors.As(err, &perr) {
			entry.StatusCode = perr.StatusCode
		}
	}
	driver.Trace(entry)
}

// chatStream adapts a go-openai stream to driver.Stream.
type chatStream struct {
	client *Client
	req    *driver.Request
	stream *goopenai.ChatCompletionStream
	cancel context.CancelFunc
	start  time.Time

	outputChars int
	done        bool
}

func (s *chatStream) Recv() (driver.Chunk, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return driver.Chunk{}, io.EOF
		}
		if err != nil {
			perr := s.client.providerError(err)
			s.finish(perr)
			return driver.Chunk{}, perr
		}

		chunk := driver.Chunk{}
		if len(resp.Choices) > 0 {
			chunk.Delta = resp.Choices[0].Delta.Content
			chunk.FinishReason = string(resp.Choices[0].FinishReason)
		}
		if resp.Usage != nil {
			chunk.Usage = &driver.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		// Role-only and empty keepalive chunks carry nothing for the caller.
		if chunk.Delta == "" && chunk.Usage == nil && chunk.FinishReason == "" {
			continue
		}
		s.outputChars += len(chunk.Delta)
		return chunk, nil
	}
}

func (s *chatStream) Close() error {
	s.finish(nil)
	err := s.stream.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

func (s *chatStream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.client.trace(s.req, true, s.outputChars, time.Since(s.start), err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
