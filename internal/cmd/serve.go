package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/ailink/driver"
	"github.com/chatlens/chatlens/internal/config"
	errwrap "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/server"
	"github.com/chatlens/chatlens/internal/server/handlers"
	servermw "github.com/chatlens/chatlens/internal/server/middleware"
	"github.com/chatlens/chatlens/internal/store"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research HTTP server",
	Long: `Start the HTTP server that streams research runs as server-sent events
and serves stored conversation history.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read config and apply logging changes`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides server.port)")
}

// serveOverrides maps explicitly set flags onto config keys.
func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server.host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = serverPort
	}
	return overrides
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()
	overrides := serveOverrides(cmd)

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "config load failed")
	}

	if err := observability.InitServerLogger(serverLogOptions(cfg, identity.BinaryName, namespace)); err != nil {
		return errwrap.WrapInternal(ctx, err, "logger initialization failed")
	}
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	if traceFile == "" && cfg.AILink.TraceFile != "" {
		cleanup, err := driver.EnableTracing(cfg.AILink.TraceFile)
		if err != nil {
			logger.Warn("Failed to enable tracing", zap.String("file", cfg.AILink.TraceFile), zap.Error(err))
		} else {
			defer cleanup()
		}
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "store open failed")
	}
	defer func() { _ = st.Close() }()
	if err := st.Migrate(ctx); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "store migration failed")
	}

	invoker, err := buildInvoker(cfg)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "provider setup failed")
	}
	models := researchModels(cfg.Research)

	orchestrator := &research.Orchestrator{
		Invoker:        invoker,
		Persister:      st,
		Models:         models,
		PersistTimeout: cfg.Research.PersistTimeout,
	}

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", st.Driver()),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	for _, res := range resolveStages(invoker, models) {
		if res.Err != nil {
			logger.Warn("Stage has no usable provider", zap.String("stage", string(res.Stage)), zap.Error(res.Err))
			continue
		}
		if res.Warning != "" {
			logger.Warn("Stage model may not support its prompt", zap.String("stage", string(res.Stage)), zap.String("model", res.Model), zap.String("reason", res.Warning))
		}
	}

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	handlers.SetAppIdentity(identity)

	if cfg.Health.Enabled {
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", handlers.HealthCheckFunc(st.Ping))
		hm.RegisterChecker("providers", providerHealthChecker{svc: invoker, models: models})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
	}

	srv := server.New(server.Options{
		Server:        cfg.Server,
		Auth:          servermw.AuthConfig{Tokens: cfg.Auth.Tokens, AllowAnonymous: cfg.Auth.AllowAnonymous},
		RateLimit:     cfg.RateLimit,
		Research:      orchestrator,
		ResearchOpts:  researchOptions(cfg.Research),
		Conversations: st,
	})

	done := make(chan struct{})

	// Reload replaces the server logger, so handlers read it at call time.
	// Shutdown handlers run LIFO: the HTTP server stops before the logger flushes.
	signals.OnShutdown(func(ctx context.Context) error {
		defer close(done)
		if err := observability.ServerLogger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			observability.ServerLogger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		observability.ServerLogger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		observability.ServerLogger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		observability.ServerLogger.Info("Received SIGHUP: reloading config")
		reloaded, err := config.Load(ctx, overrides)
		if err != nil {
			observability.ServerLogger.Error("Failed to reload config", zap.String("file", config.ConfigFileUsed()), zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		if err := observability.InitServerLogger(serverLogOptions(reloaded, identity.BinaryName, namespace)); err != nil {
			return errwrap.WrapInternal(ctx, err, "logger reload failed")
		}
		observability.ServerLogger.Info("Configuration reloaded; listener, store and provider changes apply on restart",
			zap.String("file", config.ConfigFileUsed()),
			zap.String("log_level", reloaded.Logging.Level))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("Starting HTTP server...", zap.String("addr", srv.Addr()))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return errwrap.WrapInternal(ctx, err, "server error")
	case <-done:
		return nil
	}
}

func serverLogOptions(cfg *config.Config, service, namespace string) observability.ServerLogOptions {
	return observability.ServerLogOptions{
		Service:   service,
		Level:     cfg.Logging.Level,
		Profile:   cfg.Logging.Profile,
		Namespace: namespace,
	}
}

func researchOptions(cfg config.ResearchConfig) handlers.ResearchOptions {
	return handlers.ResearchOptions{
		MaxQueryLength:    cfg.MaxQueryLength,
		MaxDuration:       cfg.MaxDuration,
		ChannelBuffer:     cfg.ChannelBuffer,
		KeepaliveInterval: cfg.KeepaliveInterval,
	}
}
