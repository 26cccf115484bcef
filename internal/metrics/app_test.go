package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlens/chatlens/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestResearchMetricsEmitted(t *testing.T) {
	collector := setupTelemetry(t)

	RecordResearchRun("complete")
	RecordStage("searching", true, 25*time.Millisecond)
	RecordPersist(false)
	RecordTokens(3)
	SetActiveStreams(2)
	RecordProviderUsage("openai", "synthesis", 42)

	assert.Greater(t, collector.CountMetricsByName(ResearchRunsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(ResearchStageDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(ResearchPersistTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(ResearchTokensTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(ActiveResearchStreams), 0)
	assert.Greater(t, collector.CountMetricsByName(ProviderTokensTotal), 0)
}

func TestRecordTokensSkipsZero(t *testing.T) {
	collector := setupTelemetry(t)

	RecordTokens(0)

	assert.Equal(t, 0, collector.CountMetricsByName(ResearchTokensTotal))
}

func TestMetricsNoopWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	defer func() { observability.TelemetrySystem = original }()

	RecordResearchRun("error")
	RecordError("INTERNAL_ERROR", 500)
	RecordPanic()
}
