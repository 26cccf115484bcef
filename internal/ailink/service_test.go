package ailink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatlens/chatlens/internal/ailink/prompt"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestService(t *testing.T, handler func(w http.ResponseWriter, req capturedRequest)) *Service {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(server.Close)

	provider := providerWithKey("openai", map[string]string{"default": "gpt-test", "synthesis": "gpt-synth"})
	provider.BaseURL = server.URL

	prompts, err := prompt.DefaultRegistry()
	require.NoError(t, err)

	return &Service{
		Providers: NewRegistry(Config{
			DefaultProvider: "main",
			DefaultTimeout:  5 * time.Second,
			Providers:       map[string]ProviderInstanceConfig{"main": provider},
		}),
		Prompts: prompts,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestServiceInvoke(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, req capturedRequest) {
		require.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Contains(t, req.Messages[0].Content, "2026")
		require.NotContains(t, req.Messages[0].Content, "{{date}}")
		require.Equal(t, "quantum computing breakthroughs", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  quantum computing breakthroughs 2026 \n"},"finish_reason":"stop"}]}`))
	})

	text, err := svc.Invoke(context.Background(), Invocation{Stage: StageQueryRewriter, Prompt: "quantum computing breakthroughs"})
	require.NoError(t, err)
	require.Equal(t, "quantum computing breakthroughs 2026", text)
}

func TestServiceInvokeEmptyResponse(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, req capturedRequest) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "},"finish_reason":"stop"}]}`))
	})

	_, err := svc.Invoke(context.Background(), Invocation{Stage: StageWebSearch, Prompt: "q"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestServiceInvokeProviderFailure(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, req capturedRequest) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	})

	_, err := svc.Invoke(context.Background(), Invocation{Stage: StageWebSearch, Prompt: "q"})
	var ie *InvokeError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, StageWebSearch, ie.Stage)
	require.Equal(t, "AILINK_PROVIDER_UNAVAILABLE", ie.Code)
}

func TestServiceInvokeRequiresPrompt(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, req capturedRequest) {
		t.Fatal("provider must not be called")
	})

	_, err := svc.Invoke(context.Background(), Invocation{Stage: StageQueryRewriter, Prompt: "  "})
	require.Error(t, err)

	_, err = (&Service{}).Invoke(context.Background(), Invocation{Stage: StageQueryRewriter, Prompt: "q"})
	require.Error(t, err)
}

func TestServiceInvokeStreaming(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, req capturedRequest) {
		require.True(t, req.Stream)
		require.Equal(t, "gpt-synth", req.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"", "Hello", ", ", "world"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := svc.InvokeStreaming(context.Background(), Invocation{Stage: StageSynthesis, Prompt: "write it"})
	require.NoError(t, err)

	var deltas []string
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		deltas = append(deltas, delta)
	}
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "close is idempotent")
	require.Equal(t, []string{"Hello", ", ", "world"}, deltas)
}
