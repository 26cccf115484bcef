package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/appid"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/server/handlers"
	servermw "github.com/chatlens/chatlens/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Standard health endpoints
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Exporter output republished on the API port
	s.router.Get("/metrics", newMetricsProxy().ServeHTTP)

	s.router.Group(func(r chi.Router) {
		r.Use(servermw.Authenticate(s.opts.Auth))

		if s.research != nil {
			r.With(s.limiter.Middleware).Post("/research", s.research.ServeHTTP)
		}

		if s.opts.Conversations != nil {
			conversations := handlers.ConversationHandlers{Store: s.opts.Conversations}
			r.Get("/conversations", conversations.List)
			r.Get("/conversations/{id}/messages", conversations.Messages)
			r.Delete("/conversations/{id}", conversations.Delete)
		}
	})

	// Admin signal endpoint (optional, requires CHATLENS_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	identity, _ := appid.Get(context.Background())
	envPrefix := "CHATLENS_"
	if identity != nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	// Bearer token auth and its own rate limit, independent of user sessions
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"))
	}
}
