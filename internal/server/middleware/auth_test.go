package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(session.UserID))
	})
}

func TestAuthenticate_BearerToken(t *testing.T) {
	handler := Authenticate(AuthConfig{Tokens: map[string]string{"s3cret": "alice"}})(sessionEcho())

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestAuthenticate_RejectsMissingAndUnknownTokens(t *testing.T) {
	handler := Authenticate(AuthConfig{Tokens: map[string]string{"s3cret": "alice"}})(sessionEcho())

	for name, header := range map[string]string{
		"missing": "",
		"unknown": "Bearer nope",
		"scheme":  "Basic s3cret",
		"empty":   "Bearer   ",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/research", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
		})
	}
}

func TestAuthenticate_AnonymousAllowed(t *testing.T) {
	handler := Authenticate(AuthConfig{AllowAnonymous: true})(sessionEcho())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AnonymousUserID, rec.Body.String())
}

func TestAuthenticate_AnonymousDoesNotMaskBadToken(t *testing.T) {
	handler := Authenticate(AuthConfig{AllowAnonymous: true})(sessionEcho())

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionFrom_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, ok := SessionFrom(nil)
	assert.False(t, ok)
}

func TestRateLimiter_PerUserBudget(t *testing.T) {
	limiter := NewRateLimiter(60, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("alice"))
	assert.True(t, limiter.Allow("alice"))
	assert.False(t, limiter.Allow("alice"))
	assert.True(t, limiter.Allow("bob"), "budgets are per user")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("alice"))
}

func TestRateLimiter_DisabledWhenRateIsZero(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	for range 100 {
		require.True(t, limiter.Allow("alice"))
	}
}

func TestRateLimiter_MiddlewareReturns429(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := withSessionFor("alice", limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/research", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/research", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

// withSessionFor attaches a fixed session, standing in for Authenticate.
func withSessionFor(userID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), &Session{UserID: userID})))
	})
}
