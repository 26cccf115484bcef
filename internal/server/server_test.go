package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlens/chatlens/internal/config"
	apperrors "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/server/handlers"
	servermw "github.com/chatlens/chatlens/internal/server/middleware"
	"github.com/chatlens/chatlens/internal/store"
)

type quickRunner struct {
	owners []string
}

func (q *quickRunner) Run(ctx context.Context, req research.Request, ch *research.Channel) (*research.Outcome, error) {
	defer ch.Close()
	q.owners = append(q.owners, req.OwnerID)
	if err := ch.Emit(ctx, research.StatusEvent{Status: research.StatusRewritingQuery}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (q *quickRunner) Finish(ctx context.Context, outcome *research.Outcome) error { return nil }

type emptyConversations struct{}

func (emptyConversations) ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error) {
	return []store.Conversation{{ID: "c-" + ownerID}}, nil
}

func (emptyConversations) GetMessages(ctx context.Context, ownerID, id string) ([]research.Message, error) {
	return nil, store.ErrNotFound
}

func (emptyConversations) DeleteConversation(ctx context.Context, ownerID, id string) error {
	return store.ErrNotFound
}

var _ handlers.ConversationStore = emptyConversations{}

func newTestServer(runner *quickRunner) *Server {
	return New(Options{
		Server:        config.ServerConfig{Host: "127.0.0.1"},
		Auth:          servermw.AuthConfig{Tokens: map[string]string{"tok-alice": "alice"}},
		RateLimit:     config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2},
		Research:      runner,
		Conversations: emptyConversations{},
	})
}

const researchBody = `{"id":"0b7d2c1e-4a3f-4e59-9d6b-2f1c8e7a6b5d","query":"q","chatId":"6f1e2d3c-4b5a-4978-8a6b-5c4d3e2f1a0b"}`

func postResearch(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(researchBody))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get(servermw.RequestIDHeader))
}

func TestResearchRouteRequiresToken(t *testing.T) {
	runner := &quickRunner{}
	srv := newTestServer(runner)

	rec := postResearch(srv.Handler(), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postResearch(srv.Handler(), "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.owners)
}

func TestResearchRouteStreamsForSessionUser(t *testing.T) {
	runner := &quickRunner{}
	srv := newTestServer(runner)

	rec := postResearch(srv.Handler(), "tok-alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, research.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: status\ndata: \"rewriting-query\"\n\n")
	assert.Equal(t, []string{"alice"}, runner.owners)
}

func TestResearchRouteIsRateLimited(t *testing.T) {
	srv := newTestServer(&quickRunner{})

	require.Equal(t, http.StatusOK, postResearch(srv.Handler(), "tok-alice").Code)
	require.Equal(t, http.StatusOK, postResearch(srv.Handler(), "tok-alice").Code)

	rec := postResearch(srv.Handler(), "tok-alice")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
}

func TestConversationRoutes(t *testing.T) {
	srv := newTestServer(&quickRunner{})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"c-alice"`)

	req = httptest.NewRequest(http.MethodDelete, "/conversations/other", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptionalRoutesUnregistered(t *testing.T) {
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1"}, Auth: servermw.AuthConfig{AllowAnonymous: true}})

	rec := postResearch(srv.Handler(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddr(t *testing.T) {
	srv := New(Options{Server: config.ServerConfig{Host: "127.0.0.1", Port: 8181}})
	assert.Equal(t, "127.0.0.1:8181", srv.Addr())
	assert.Equal(t, 8181, srv.Port())
	require.NoError(t, srv.Shutdown(context.Background()))
}
