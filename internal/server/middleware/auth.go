package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
)

// Session identifies the authenticated caller of a request.
type Session struct {
	UserID    string
	Anonymous bool
}

type sessionContextKey struct{}

// AnonymousUserID owns conversations created when anonymous access is allowed.
const AnonymousUserID = "local"

// AuthConfig maps bearer tokens to user IDs.
type AuthConfig struct {
	Tokens         map[string]string
	AllowAnonymous bool
}

// Authenticate resolves the caller's session from the Authorization header and
// rejects the request with 401 when none can be established.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := resolveSession(cfg, r.Header.Get("Authorization"))
			if !ok {
				env := errors.NewErrorEnvelope("UNAUTHORIZED", "authentication required").
					WithCorrelationID(GetRequestID(r.Context()))
				errorResponder(w, r, env)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// WithSession stores a session on the context.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFrom returns the session attached by Authenticate.
func SessionFrom(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	session, ok := ctx.Value(sessionContextKey{}).(*Session)
	return session, ok && session != nil
}

func resolveSession(cfg AuthConfig, header string) (*Session, bool) {
	token, hasToken := bearerToken(header)
	if hasToken {
		for candidate, userID := range cfg.Tokens {
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 && strings.TrimSpace(userID) != "" {
				return &Session{UserID: userID}, true
			}
		}
		return nil, false
	}

	if cfg.AllowAnonymous {
		return &Session{UserID: AnonymousUserID, Anonymous: true}, true
	}
	return nil, false
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
