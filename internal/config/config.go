package config

import (
	"time"

	"github.com/chatlens/chatlens/internal/ailink"
)

// Config represents the complete application configuration.
// Values resolve in order: defaults, config file, environment, runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	AILink    ailink.Config   `mapstructure:"ailink"`
	Research  ResearchConfig  `mapstructure:"research"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ResearchConfig bounds a single research run.
type ResearchConfig struct {
	MaxQueryLength int           `mapstructure:"max_query_length"`
	MaxDuration    time.Duration `mapstructure:"max_duration"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`

	// ChannelBuffer is the number of events queued between the pipeline and the response writer.
	ChannelBuffer int `mapstructure:"channel_buffer"`

	// KeepaliveInterval spaces SSE comment pings while a stage is running. Zero disables them.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`

	Models ResearchModels `mapstructure:"models"`
}

// ResearchModels pins a model per stage. Empty values defer to ailink routing.
type ResearchModels struct {
	QueryRewriter string `mapstructure:"query_rewriter"`
	WebSearch     string `mapstructure:"web_search"`
	Synthesis     string `mapstructure:"synthesis"`
}

// AuthConfig maps bearer tokens to user ids.
type AuthConfig struct {
	Tokens map[string]string `mapstructure:"tokens"`

	// AllowAnonymous admits requests without a token as the local user.
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}

// RateLimitConfig is the per-user research budget.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port; /metrics on the main port proxies it.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
