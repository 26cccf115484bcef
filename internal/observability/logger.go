package observability

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used by CLI commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger is used by the HTTP server and the research pipeline (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// ServerLogOptions controls the structured server logger.
type ServerLogOptions struct {
	Service     string
	Level       string
	Profile     string
	Environment string
	Namespace   string
}

// InitCLILogger initializes the CLI logger with the SIMPLE profile.
func InitCLILogger(serviceName string, verbose bool) error {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		return fmt.Errorf("init cli logger: %w", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
	return nil
}

// InitServerLogger initializes the server logger. The simple profile writes
// human-readable console lines; everything else emits JSON to stderr with the
// correlation middleware enabled.
func InitServerLogger(opts ServerLogOptions) error {
	staticFields := make(map[string]any)
	if ns := strings.TrimSpace(opts.Namespace); ns != "" {
		staticFields["namespace"] = ns
	}

	environment := strings.TrimSpace(opts.Environment)
	if environment == "" {
		environment = "production"
	}

	config := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(opts.Level),
		Service:      opts.Service,
		Environment:  environment,
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	if strings.EqualFold(strings.TrimSpace(opts.Profile), "simple") {
		config.Profile = logging.ProfileSimple
		config.Middleware = nil
		config.Sinks[0].Format = "console"
		config.EnableStacktrace = false
	}

	logger, err := logging.New(config)
	if err != nil {
		return fmt.Errorf("init server logger: %w", err)
	}

	ServerLogger = logger
	return nil
}

// parseLogLevel converts a config log level to a gofulmen severity string.
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}
