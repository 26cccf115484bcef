package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/chatlens/chatlens/internal/metrics"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc adapts a plain probe, such as a store ping, to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f HealthCheckFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager runs the registered checkers for the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// runHealthChecks runs every checker in name order. Checkers not reached
// before ctx expires are reported as "timeout".
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = "timeout"
			continue
		}
		start := time.Now()
		err := checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))
		if err != nil {
			checks[name] = "unhealthy"
		} else {
			checks[name] = "healthy"
		}
	}
	return checks
}

// determineOverallStatus folds check results: any unhealthy check wins, then
// degraded or timed-out checks.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "degraded" || status == "timeout" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

// probe describes one health endpoint.
type probe struct {
	name    string
	message string
	timeout time.Duration
	// skipChecks answers from process state alone.
	skipChecks bool
}

var (
	aggregateProbe = probe{name: "", message: "aggregate health check failed", timeout: 5 * time.Second}
	livenessProbe  = probe{name: "live", message: "liveness probe failed", skipChecks: true}
	readinessProbe = probe{name: "ready", message: "readiness probe failed", timeout: 5 * time.Second}
	startupProbe   = probe{name: "startup", message: "startup probe failed", timeout: 3 * time.Second}
)

// evaluate runs the checks a probe needs. On an unhealthy result it writes the
// error envelope and returns ok=false.
func (hm *HealthManager) evaluate(w http.ResponseWriter, r *http.Request, p probe) (string, map[string]string, bool) {
	if p.skipChecks {
		return "healthy", nil, true
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	checks := hm.runHealthChecks(ctx)
	status := hm.determineOverallStatus(checks)
	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", p.message)
		respondWithError(w, r, enrichHealthEnvelope(envelope, p.name, status, checks))
		return status, checks, false
	}
	return status, checks, true
}

// HealthHandler reports every check with the running version.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks, ok := hm.evaluate(w, r, aggregateProbe)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving. Dependency failures
// are a readiness concern and never fail liveness.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, livenessProbe)
}

// ReadinessHandler fails while any dependency check is unhealthy.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, readinessProbe)
}

// StartupHandler fails until the dependency checks pass once.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, startupProbe)
}

func (hm *HealthManager) probeHandler(w http.ResponseWriter, r *http.Request, p probe) {
	status, _, ok := hm.evaluate(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probeName, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probeName != "" {
		details["probe"] = probeName
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)
	contextData := map[string]interface{}{"status": status}
	if probeName != "" {
		contextData["probe"] = probeName
	}
	if len(unhealthy) > 0 {
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// withGlobalManager serves p from the global manager, or 503 before serve
// has installed one.
func withGlobalManager(p probe, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			serve(hm, w, r)
			return
		}
		name := p.name
		if name == "" {
			name = "aggregate"
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, name, "unknown", nil))
	}
}

// Package-level handlers route to the global manager.
var (
	HealthHandler    = withGlobalManager(aggregateProbe, (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobalManager(livenessProbe, (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager(readinessProbe, (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager(startupProbe, (*HealthManager).StartupHandler)
)
