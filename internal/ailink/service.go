package ailink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/ailink/content"
	"github.com/chatlens/chatlens/internal/ailink/driver"
	"github.com/chatlens/chatlens/internal/ailink/prompt"
	"github.com/chatlens/chatlens/internal/metrics"
	"github.com/chatlens/chatlens/internal/observability"
)

const (
	defaultTimeout = 60 * time.Second
	maxTimeout     = 5 * time.Minute
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response content")

// Service coordinates prompt loading, provider selection, and driver execution.
// It implements Invoker.
type Service struct {
	Providers *Registry
	Prompts   prompt.Registry

	// Now stamps the {{date}} prompt variable; defaults to time.Now.
	Now func() time.Time
}

var _ Invoker = (*Service)(nil)

// Invoke runs a stage to completion and returns its trimmed text.
func (s *Service) Invoke(ctx context.Context, inv Invocation) (string, error) {
	req, resolved, err := s.prepare(inv)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	resp, err := resolved.Driver.Complete(ctx, req)
	if err != nil {
		return "", mapProviderError(inv.Stage, err)
	}
	if resp.Usage != nil {
		metrics.RecordProviderUsage(resolved.ProviderID, string(inv.Stage), resp.Usage.TotalTokens)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &InvokeError{Stage: inv.Stage, Code: "AILINK_EMPTY_RESPONSE", Message: "provider returned no text", Err: ErrEmptyResponse}
	}
	return text, nil
}

// InvokeStreaming starts a streaming stage call. The stage timeout spans the
// whole stream and is released by Close.
func (s *Service) InvokeStreaming(ctx context.Context, inv Invocation) (TokenStream, error) {
	req, resolved, err := s.prepare(inv)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	stream, err := resolved.Driver.Stream(ctx, req)
	if err != nil {
		cancel()
		return nil, mapProviderError(inv.Stage, err)
	}

	return &tokenStream{
		stage:    inv.Stage,
		provider: resolved.ProviderID,
		stream:   stream,
		cancel:   cancel,
	}, nil
}

func (s *Service) prepare(inv Invocation) (*driver.Request, *ResolvedProvider, error) {
	if s == nil || s.Providers == nil {
		return nil, nil, errors.New("ailink provider registry not configured")
	}
	if s.Prompts == nil {
		return nil, nil, errors.New("ailink prompt registry not configured")
	}
	if strings.TrimSpace(inv.Prompt) == "" {
		return nil, nil, fmt.Errorf("%s: prompt is required", inv.Stage)
	}

	promptDef, err := s.Prompts.Get(string(inv.Stage))
	if err != nil {
		return nil, nil, err
	}

	resolved, err := s.Providers.Resolve(string(inv.Stage), promptDef, inv.Model)
	if err != nil {
		return nil, nil, err
	}

	system := renderSystem(promptDef, s.now())
	user := inv.Prompt
	if tmpl := strings.TrimSpace(promptDef.Config.UserTemplate); tmpl != "" {
		user = applyVars(tmpl, map[string]string{"input": inv.Prompt})
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Debug("Invoking stage",
			zap.String("stage", string(inv.Stage)),
			zap.String("provider", resolved.ProviderID),
			zap.String("model", resolved.Model),
		)
	}

	return &driver.Request{
		Model: resolved.Model,
		Messages: []content.Message{
			content.TextMessage(content.RoleSystem, system),
			content.TextMessage(content.RoleUser, user),
		},
		Temperature: promptDef.Config.Temperature,
		MaxTokens:   promptDef.Config.MaxTokens,
		PromptSlug:  promptDef.Config.Slug,
	}, resolved, nil
}

func (s *Service) timeout() time.Duration {
	duration := s.Providers.Config().DefaultTimeout
	if duration <= 0 {
		duration = defaultTimeout
	}
	if duration > maxTimeout {
		duration = maxTimeout
	}
	return duration
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func renderSystem(def *prompt.Prompt, now time.Time) string {
	return applyVars(def.Config.SystemTemplate, map[string]string{
		"date": now.UTC().Format("2006-01-02"),
	})
}

func applyVars(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// tokenStream adapts a driver stream to TokenStream, dropping empty chunks and
// recording provider usage when the stream ends.
type tokenStream struct {
	stage    Stage
	provider string
	stream   driver.Stream
	cancel   context.CancelFunc
	closed   bool
}

func (t *tokenStream) Recv() (string, error) {
	for {
		chunk, err := t.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", mapProviderError(t.stage, err)
		}
		if chunk.Usage != nil {
			metrics.RecordProviderUsage(t.provider, string(t.stage), chunk.Usage.TotalTokens)
		}
		if chunk.Delta != "" {
			return chunk.Delta, nil
		}
	}
}

func (t *tokenStream) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.stream.Close()
	t.cancel()
	return err
}
