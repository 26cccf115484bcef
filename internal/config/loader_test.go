package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("chatlens"), "chatlens.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)

		assert.Equal(t, 2000, cfg.Research.MaxQueryLength)
		assert.Equal(t, 120*time.Second, cfg.Research.MaxDuration)
		assert.Equal(t, 10*time.Second, cfg.Research.PersistTimeout)
		assert.Equal(t, 32, cfg.Research.ChannelBuffer)
		assert.Equal(t, 15*time.Second, cfg.Research.KeepaliveInterval)
		assert.Equal(t, 60*time.Second, cfg.AILink.DefaultTimeout)

		assert.False(t, cfg.Auth.AllowAnonymous)
		assert.Empty(t, cfg.Auth.Tokens)
		assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
		assert.Equal(t, 3, cfg.RateLimit.Burst)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.Empty(t, ConfigFileUsed())
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := writeConfig(t, `
server:
  port: 9100
research:
  max_duration: 45s
  models:
    synthesis: grok-4
auth:
  tokens:
    secret-a: alice
ailink:
  default_provider: primary
  providers:
    primary:
      enabled: true
      ai_provider: xai
      credentials:
        - label: main
          api_key: k1
`)
		SetConfigFile(path)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, path, ConfigFileUsed())
		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, 45*time.Second, cfg.Research.MaxDuration)
		assert.Equal(t, "grok-4", cfg.Research.Models.Synthesis)
		assert.Equal(t, map[string]string{"secret-a": "alice"}, cfg.Auth.Tokens)
		require.Contains(t, cfg.AILink.Providers, "primary")
		assert.Equal(t, "xai", cfg.AILink.Providers["primary"].AIProvider)
		require.Len(t, cfg.AILink.Providers["primary"].Credentials, 1)
		assert.Equal(t, "k1", cfg.AILink.Providers["primary"].Credentials[0].APIKey)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("CHATLENS_PORT", "3000")
		t.Setenv("CHATLENS_LOG_LEVEL", "warn")
		t.Setenv("CHATLENS_METRICS_ENABLED", "false")
		t.Setenv("CHATLENS_RESEARCH_PERSIST_TIMEOUT", "3s")
		t.Setenv("CHATLENS_AUTH_TOKENS", "t1=alice, t2=bob")
		t.Setenv("CHATLENS_RATE_LIMIT_BURST", "7")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 3*time.Second, cfg.Research.PersistTimeout)
		assert.Equal(t, map[string]string{"t1": "alice", "t2": "bob"}, cfg.Auth.Tokens)
		assert.Equal(t, 7, cfg.RateLimit.Burst)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		SetConfigFile(writeConfig(t, "server:\n  port: 3500\n"))
		t.Setenv("CHATLENS_PORT", "4000")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4000, cfg.Server.Port)

		cfg, err = Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		isolate(t)

		_, err := Load(ctx, map[string]any{"research": map[string]any{"max_query_length": 0}})
		require.ErrorContains(t, err, "research.max_query_length")
	})
}

func TestAILinkDynamicEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_ENABLED", "true")
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_AI_PROVIDER", "OpenAI")
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_MODELS_DEFAULT", "gpt-4o-mini")
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_SELECTION_POLICY", "round_robin")
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_ROLES", "query-rewriter,synthesis")
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_CREDENTIALS_0_API_KEY", "sk-test")
	t.Setenv("CHATLENS_AILINK_PROVIDERS_WORK_OPENAI_CREDENTIALS_0_PRIORITY", "2")
	t.Setenv("CHATLENS_AILINK_ROUTING_WEB_SEARCH", "work-openai")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	provider, ok := cfg.AILink.Providers["work-openai"]
	require.True(t, ok)
	assert.True(t, provider.Enabled)
	assert.Equal(t, "openai", provider.AIProvider)
	assert.Equal(t, "gpt-4o-mini", provider.Models["default"])
	assert.Equal(t, "round_robin", provider.SelectionPolicy)
	assert.Equal(t, []string{"query-rewriter", "synthesis"}, provider.Roles)
	require.Len(t, provider.Credentials, 1)
	assert.Equal(t, "sk-test", provider.Credentials[0].APIKey)
	assert.Equal(t, 2, provider.Credentials[0].Priority)
	assert.Equal(t, "work-openai", cfg.AILink.Routing["web-search"])
}

func TestGetConfig(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, envSpec := range specs {
		envVarNames[envSpec.Name] = true
	}

	for _, name := range []string{"CHATLENS_LOG_LEVEL", "CHATLENS_PORT", "CHATLENS_HOST", "CHATLENS_METRICS_PORT", "CHATLENS_DB_PATH"} {
		assert.True(t, envVarNames[name], "%s must be mapped", name)
	}
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("CHATLENS_READ_TIMEOUT", "45s")
	t.Setenv("CHATLENS_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestStringToStringMapHook(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background(), map[string]any{"auth": map[string]any{"tokens": "novalue"}})
	require.ErrorContains(t, err, "want key=value")
}

func TestFlatten(t *testing.T) {
	out := flatten("", map[string]any{
		"server": map[string]any{"port": 1},
		"auth":   map[string]any{},
		"top":    "x",
	})
	assert.Equal(t, map[string]any{"server.port": 1, "auth": map[string]any{}, "top": "x"}, out)
}
