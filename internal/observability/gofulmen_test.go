package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/observability"
)

func TestInitCLILogger(t *testing.T) {
	require.NoError(t, observability.InitCLILogger("chatlens-test", true))
	require.NotNil(t, observability.CLILogger)

	observability.CLILogger.Debug("cli logger ready", zap.String("test", "value"))
}

func TestInitServerLoggerProfiles(t *testing.T) {
	for _, profile := range []string{"structured", "simple", ""} {
		t.Run("profile="+profile, func(t *testing.T) {
			err := observability.InitServerLogger(observability.ServerLogOptions{
				Service:     "chatlens-test",
				Level:       "debug",
				Profile:     profile,
				Environment: "test",
				Namespace:   "chatlens",
			})
			require.NoError(t, err)
			require.NotNil(t, observability.ServerLogger)

			observability.ServerLogger.Info("server logger ready",
				zap.String("component", "test"),
				zap.String("request_id", "abc"))
		})
	}
}

func TestCrucibleVersionAvailable(t *testing.T) {
	version := crucible.GetVersion()
	require.NotEmpty(t, version.Gofulmen)
	require.NotEmpty(t, version.Crucible)
}
