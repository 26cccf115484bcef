package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

// RateLimiter hands out one token bucket per session user.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerMinute per user with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
		now:      time.Now,
	}
}

// Allow reports whether the user may issue another request now.
func (l *RateLimiter) Allow(userID string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	return l.limiterFor(userID).AllowN(l.now(), 1)
}

func (l *RateLimiter) limiterFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.limiters[userID]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	for id, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, id)
		}
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters[userID] = &userLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// Middleware rejects requests over the per-user budget with 429. It must run
// after Authenticate so the session is known.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := AnonymousUserID
		if session, ok := SessionFrom(r.Context()); ok {
			userID = session.UserID
		}

		if !l.Allow(userID) {
			if l.limit > 0 {
				retry := time.Duration(float64(time.Second) / float64(l.limit))
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			}
			env := errors.NewErrorEnvelope("RATE_LIMITED", "too many research requests").
				WithCorrelationID(GetRequestID(r.Context()))
			errorResponder(w, r, env)
			return
		}
		next.ServeHTTP(w, r)
	})
}
