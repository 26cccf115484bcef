package metrics

import (
	"time"

	"github.com/chatlens/chatlens/internal/observability"
)

// Research pipeline metric names.
const (
	ResearchRunsTotal     = "research_runs_total"
	ResearchStageDuration = "research_stage_duration_ms"
	ResearchPersistTotal  = "research_persist_total"
	ResearchTokensTotal   = "research_tokens_total"
	ActiveResearchStreams = "research_active_streams"
	ProviderTokensTotal   = "ailink_provider_tokens_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
)

// RecordResearchRun counts a finished research run by terminal status
// ("complete", "error" or "cancelled").
func RecordResearchRun(status string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		ResearchRunsTotal,
		1,
		map[string]string{"status": status},
	)
}

// RecordStage records how long one pipeline stage took.
func RecordStage(stage string, success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Histogram(
		ResearchStageDuration,
		duration,
		map[string]string{
			"stage":  stage,
			"status": status,
		},
	)
}

// RecordPersist counts message batch writes after a completed run.
func RecordPersist(success bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(
		ResearchPersistTotal,
		1,
		map[string]string{"status": status},
	)
}

// RecordTokens counts synthesis text deltas forwarded to clients.
func RecordTokens(count int) {
	if observability.TelemetrySystem == nil || count <= 0 {
		return
	}
	_ = observability.TelemetrySystem.Counter(ResearchTokensTotal, float64(count), nil)
}

// RecordProviderUsage counts tokens billed by a provider for one stage call.
func RecordProviderUsage(provider, stage string, totalTokens int) {
	if observability.TelemetrySystem == nil || totalTokens <= 0 {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		ProviderTokensTotal,
		float64(totalTokens),
		map[string]string{
			"provider": provider,
			"stage":    stage,
		},
	)
}

// SetActiveStreams sets the number of research streams currently open.
func SetActiveStreams(count int64) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(ActiveResearchStreams, float64(count), nil)
}

// RecordHealthCheck records a health check execution.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{
			"check":  checkName,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": checkName},
	)
}
