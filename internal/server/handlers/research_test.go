package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlens/chatlens/internal/ailink"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/server/middleware"
)

const (
	testRequestID = "0b7d2c1e-4a3f-4e59-9d6b-2f1c8e7a6b5d"
	testChatID    = "6f1e2d3c-4b5a-4978-8a6b-5c4d3e2f1a0b"
)

type stageInvoker struct {
	rewritten string
	results   string
	deltas    []string
	failStage ailink.Stage
}

func (s *stageInvoker) Invoke(ctx context.Context, inv ailink.Invocation) (string, error) {
	if inv.Stage == s.failStage {
		return "", errors.New("upstream exploded with secret detail")
	}
	if inv.Stage == ailink.StageQueryRewriter {
		return s.rewritten, nil
	}
	return s.results, nil
}

func (s *stageInvoker) InvokeStreaming(ctx context.Context, inv ailink.Invocation) (ailink.TokenStream, error) {
	if inv.Stage == s.failStage {
		return nil, errors.New("upstream exploded")
	}
	return &sliceStream{deltas: append([]string(nil), s.deltas...)}, nil
}

type sliceStream struct {
	deltas []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

type recordingPersister struct {
	mu      sync.Mutex
	batches []research.MessageBatch
}

func (p *recordingPersister) SaveMessages(ctx context.Context, batch research.MessageBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func newTestOrchestrator(inv ailink.Invoker, p research.Persister) *research.Orchestrator {
	return &research.Orchestrator{Invoker: inv, Persister: p, PersistTimeout: time.Second}
}

func researchRequest(t *testing.T, body string, user string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req = req.WithContext(middleware.WithSession(req.Context(), &middleware.Session{UserID: user}))
	}
	return req
}

func validBody(query string) string {
	payload, _ := json.Marshal(map[string]string{"id": testRequestID, "query": query, "chatId": testChatID})
	return string(payload)
}

func readFrames(t *testing.T, body io.Reader) []research.Event {
	t.Helper()
	reader := research.NewFrameReader(body)
	var events []research.Event
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func frameTypes(events []research.Event) []research.EventType {
	out := make([]research.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type())
	}
	return out
}

func decodeErrorCode(t *testing.T, body io.Reader) (string, map[string]any) {
	t.Helper()
	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp.Error.Code, resp.Error.Details
}

func TestResearchHandlerStreamsCompleteRun(t *testing.T) {
	persister := &recordingPersister{}
	inv := &stageInvoker{
		rewritten: "go errgroup usage",
		results:   "See [errgroup docs](https://pkg.go.dev/golang.org/x/sync/errgroup).",
		deltas:    []string{"Use ", "errgroup."},
	}
	handler := NewResearchHandler(newTestOrchestrator(inv, persister), ResearchOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, researchRequest(t, validBody("how do I use errgroup"), "alice"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, research.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := readFrames(t, rec.Body)
	assert.Equal(t, []research.EventType{
		research.EventStatus,
		research.EventQueryRewritten,
		research.EventStatus,
		research.EventSearchResults,
		research.EventSources,
		research.EventStatus,
		research.EventSynthesisStart,
		research.EventTextDelta,
		research.EventTextDelta,
		research.EventStatus,
		research.EventComplete,
	}, frameTypes(events))

	sources, ok := events[4].(research.SourcesEvent)
	require.True(t, ok)
	require.Len(t, sources.Sources, 1)
	assert.Equal(t, "pkg.go.dev", sources.Sources[0].Domain)

	require.NoError(t, handler.Drain(context.Background()))
	require.Equal(t, 1, persister.count())
	batch := persister.batches[0]
	assert.Equal(t, testChatID, batch.ConversationID)
	assert.Equal(t, "alice", batch.OwnerID)
	assert.Equal(t, int64(0), handler.Active())
}

func TestResearchHandlerStageFailure(t *testing.T) {
	persister := &recordingPersister{}
	inv := &stageInvoker{rewritten: "q", failStage: ailink.StageWebSearch}
	handler := NewResearchHandler(newTestOrchestrator(inv, persister), ResearchOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, researchRequest(t, validBody("q"), "alice"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "secret detail")

	events := readFrames(t, strings.NewReader(body))
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, research.StatusEvent{Status: research.StatusError}, events[len(events)-2])
	assert.Equal(t, research.ErrorEvent{Message: research.GenericFailureMessage}, events[len(events)-1])
	assert.Zero(t, persister.count())
}

func TestResearchHandlerRejectsBadRequests(t *testing.T) {
	handler := NewResearchHandler(newTestOrchestrator(&stageInvoker{}, &recordingPersister{}), ResearchOptions{MaxQueryLength: 5})

	tests := []struct {
		name       string
		body       string
		user       string
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{name: "NoSession", body: validBody("q"), wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "MalformedJSON", body: "{", user: "alice", wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "BadChatID", body: `{"id":"` + testRequestID + `","query":"q","chatId":"nope"}`, user: "alice", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED", wantField: "chatId"},
		{name: "QueryTooLong", body: validBody("toolongquery"), user: "alice", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED", wantField: "query"},
		{name: "BlankQuery", body: validBody("   "), user: "alice", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED", wantField: "query"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, researchRequest(t, tc.body, tc.user))

			require.Equal(t, tc.wantStatus, rec.Code)
			code, details := decodeErrorCode(t, rec.Body)
			assert.Equal(t, tc.wantCode, code)
			if tc.wantField != "" {
				assert.Contains(t, details, tc.wantField)
			}
		})
	}
}

// brokenWriter accepts the headers and the first frame, then fails.
type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int)     {}
func (b *brokenWriter) Flush()              {}

func (b *brokenWriter) Write(p []byte) (int, error) {
	b.writes++
	if b.writes > 1 {
		return 0, errors.New("connection reset")
	}
	return len(p), nil
}

func TestResearchHandlerSkipsPersistenceWhenDeliveryFails(t *testing.T) {
	persister := &recordingPersister{}
	inv := &stageInvoker{rewritten: "q", results: "none", deltas: []string{"a"}}
	handler := NewResearchHandler(newTestOrchestrator(inv, persister), ResearchOptions{ChannelBuffer: 1})

	w := &brokenWriter{header: http.Header{}}
	handler.ServeHTTP(w, researchRequest(t, validBody("q"), "alice"))

	assert.Zero(t, persister.count())
	assert.Equal(t, int64(0), handler.Active())
}

type slowRunner struct {
	delay    time.Duration
	finished atomic.Bool
}

func (s *slowRunner) Run(ctx context.Context, req research.Request, ch *research.Channel) (*research.Outcome, error) {
	defer ch.Close()
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := ch.Emit(ctx, research.StatusEvent{Status: research.StatusRewritingQuery}); err != nil {
		return nil, err
	}
	return &research.Outcome{Request: req}, nil
}

func (s *slowRunner) Finish(ctx context.Context, outcome *research.Outcome) error {
	s.finished.Store(true)
	return nil
}

func TestResearchHandlerSendsKeepalive(t *testing.T) {
	runner := &slowRunner{delay: 60 * time.Millisecond}
	handler := NewResearchHandler(runner, ResearchOptions{KeepaliveInterval: 10 * time.Millisecond})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, researchRequest(t, validBody("q"), "alice"))

	assert.Contains(t, rec.Body.String(), ": ping\n\n")
	require.NoError(t, handler.Drain(context.Background()))
	assert.True(t, runner.finished.Load())
}

func TestResearchHandlerEnforcesMaxDuration(t *testing.T) {
	runner := &slowRunner{delay: time.Second}
	handler := NewResearchHandler(runner, ResearchOptions{MaxDuration: 20 * time.Millisecond})

	start := time.Now()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, researchRequest(t, validBody("q"), "alice"))

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.NoError(t, handler.Drain(context.Background()))
	assert.False(t, runner.finished.Load())
}

// gatedPersister blocks every save until release is closed.
type gatedPersister struct {
	release chan struct{}
	saved   atomic.Int32
}

func (p *gatedPersister) SaveMessages(ctx context.Context, batch research.MessageBatch) error {
	select {
	case <-p.release:
		p.saved.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestResearchHandlerEndsResponseBeforePersisting(t *testing.T) {
	persister := &gatedPersister{release: make(chan struct{})}
	inv := &stageInvoker{rewritten: "q", results: "none", deltas: []string{"done"}}
	orch := &research.Orchestrator{Invoker: inv, Persister: persister, PersistTimeout: 5 * time.Second}
	handler := NewResearchHandler(orch, ResearchOptions{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(middleware.WithSession(r.Context(), &middleware.Session{UserID: "alice"}))
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(validBody("q")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	reader := research.NewFrameReader(resp.Body)
	var completedAt time.Time
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if _, ok := ev.(research.CompleteEvent); ok {
			completedAt = time.Now()
		}
	}
	require.False(t, completedAt.IsZero(), "stream must end with a complete frame")
	assert.Less(t, time.Since(completedAt), time.Second, "EOF must not wait for the store")
	assert.Zero(t, persister.saved.Load())

	close(persister.release)
	require.NoError(t, handler.Drain(context.Background()))
	assert.Equal(t, int32(1), persister.saved.Load())
}

func TestResearchHandlerDrainHonorsContext(t *testing.T) {
	persister := &gatedPersister{release: make(chan struct{})}
	defer close(persister.release)
	inv := &stageInvoker{rewritten: "q", results: "none", deltas: []string{"done"}}
	orch := &research.Orchestrator{Invoker: inv, Persister: persister, PersistTimeout: 5 * time.Second}
	handler := NewResearchHandler(orch, ResearchOptions{})

	handler.ServeHTTP(httptest.NewRecorder(), researchRequest(t, validBody("q"), "alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, handler.Drain(ctx), context.DeadlineExceeded)
}
