package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/config"
	apperrors "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/server/handlers"
	servermw "github.com/chatlens/chatlens/internal/server/middleware"
)

// Options wires the HTTP surface to the application services. A nil Research
// or Conversations leaves the matching routes unregistered.
type Options struct {
	Server        config.ServerConfig
	Auth          servermw.AuthConfig
	RateLimit     config.RateLimitConfig
	Research      handlers.ResearchRunner
	ResearchOpts  handlers.ResearchOptions
	Conversations handlers.ConversationStore
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	opts     Options
	research *handlers.ResearchHandler
	limiter  *servermw.RateLimiter
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// Our custom middleware in correct order (RequestID → Metrics → Recovery)
	r.Use(servermw.RequestID)      // 1. Request ID (early for correlation)
	r.Use(servermw.RequestMetrics) // 2. Metrics (measure everything)
	r.Use(servermw.Recovery)       // 3. Panic recovery

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewNotFoundError("The requested resource was not found")
		HandleError(w, req, err)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource")
		HandleError(w, req, err)
	})

	s := &Server{
		router:  r,
		opts:    opts,
		limiter: servermw.NewRateLimiter(opts.RateLimit.RequestsPerMinute, opts.RateLimit.Burst),
	}
	if opts.Research != nil {
		s.research = handlers.NewResearchHandler(opts.Research, opts.ResearchOpts)
	}

	// Ensure handlers and middleware use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)
	servermw.SetErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	cfg := s.opts.Server
	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("addr", ln.Addr().String()))
	}

	return s.server.Serve(ln)
}

// Shutdown stops accepting requests, waits for open streams, then waits for
// completed runs that are still being persisted.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return s.drainResearch(ctx)
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	err := s.server.Shutdown(ctx)
	if drainErr := s.drainResearch(ctx); err == nil {
		err = drainErr
	}
	return err
}

func (s *Server) drainResearch(ctx context.Context) error {
	if s.research == nil {
		return nil
	}
	return s.research.Drain(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Server.Host, fmt.Sprintf("%d", s.opts.Server.Port))
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Server.Port
}
