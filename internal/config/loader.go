// Package config provides centralized configuration management for ChatLens.
// Values are layered with viper:
// Layer 1: Defaults registered in setDefaults
// Layer 2: User config file (XDG config dir, or --config)
// Layer 3: Environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/chatlens/chatlens/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configFile  string
	usedFile    string
	configMu    sync.RWMutex
	appIdentity *appid.Identity
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins the config file used by subsequent Load calls.
// An empty path restores XDG discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// ConfigFileUsed returns the file read by the last Load, if any.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return usedFile
}

// Load resolves configuration from defaults, the user config file, environment
// variables and runtime overrides, later layers winning.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	prefix := envPrefix()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	path, err := resolveConfigFile(explicit)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	applyAILinkDynamicEnvOverrides(prefix, envOverrides)

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		for key, value := range flatten("", overrides) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToStringMapHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	usedFile = path
	configMu.Unlock()

	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Research.MaxQueryLength <= 0 {
		problems = append(problems, "research.max_query_length must be positive")
	}
	if c.Research.MaxDuration <= 0 {
		problems = append(problems, "research.max_duration must be positive")
	}
	if c.Research.PersistTimeout <= 0 {
		problems = append(problems, "research.persist_timeout must be positive")
	}
	if c.Research.KeepaliveInterval < 0 {
		problems = append(problems, "research.keepalive_interval must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		problems = append(problems, "rate_limit.burst must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// Research responses stream for up to research.max_duration; no write deadline.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// AILink defaults
	v.SetDefault("ailink.default_provider", "")
	v.SetDefault("ailink.default_timeout", "60s")
	v.SetDefault("ailink.prompts_dir", "")
	v.SetDefault("ailink.trace_file", "")

	// Research defaults
	v.SetDefault("research.max_query_length", 2000)
	v.SetDefault("research.max_duration", "120s")
	v.SetDefault("research.persist_timeout", "10s")
	v.SetDefault("research.channel_buffer", 32)
	v.SetDefault("research.keepalive_interval", "15s")
	v.SetDefault("research.models.query_rewriter", "")
	v.SetDefault("research.models.web_search", "")
	v.SetDefault("research.models.synthesis", "")

	// Auth defaults
	_ = v.BindEnv("auth.tokens")
	v.SetDefault("auth.allow_anonymous", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.requests_per_minute", 10)
	v.SetDefault("rate_limit.burst", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

func resolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, candidate := range getUserConfigPaths() {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("inspect config file %s: %w", candidate, err)
		}
	}
	return "", nil
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()

	legacyNames := []string{}
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}

	return gfconfig.GetAppConfigPaths(configName, legacyNames...)
}

func envPrefix() string {
	prefix := "CHATLENS_"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns the short environment aliases. Every key is also
// reachable through its full dotted name, e.g. CHATLENS_RESEARCH_MAX_DURATION.
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// AILink config
		{Name: prefix + "AILINK_DEFAULT_PROVIDER", Path: []string{"ailink", "default_provider"}, Type: EnvString},
		{Name: prefix + "AILINK_DEFAULT_TIMEOUT", Path: []string{"ailink", "default_timeout"}, Type: EnvString},
		{Name: prefix + "AILINK_PROMPTS_DIR", Path: []string{"ailink", "prompts_dir"}, Type: EnvString},

		// Research config
		{Name: prefix + "MAX_QUERY_LENGTH", Path: []string{"research", "max_query_length"}, Type: EnvInt},
		{Name: prefix + "MAX_DURATION", Path: []string{"research", "max_duration"}, Type: EnvString},

		// Auth config
		{Name: prefix + "ALLOW_ANONYMOUS", Path: []string{"auth", "allow_anonymous"}, Type: EnvBool},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "chatlens" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "chatlens"
	binaryName = "chatlens"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// stringToStringMapHookFunc decodes "a=b,c=d" into map[string]string so maps
// such as auth.tokens can come from a single environment variable.
func stringToStringMapHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		out := map[string]string{}
		if raw == "" {
			return out, nil
		}
		for _, pair := range strings.Split(raw, ",") {
			key, value, ok := strings.Cut(pair, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid map entry %q: want key=value", pair)
			}
			out[key] = strings.TrimSpace(value)
		}
		return out, nil
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}
