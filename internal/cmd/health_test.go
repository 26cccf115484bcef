package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeHealthHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"healthy","version":"1.0.0","checks":{"store":"healthy","providers":"healthy"}}`)
	}))
	defer srv.Close()

	report, err := probeHealth(context.Background(), srv.Client(), srv.URL, time.Second)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, map[string]string{"store": "healthy", "providers": "healthy"}, report.Checks)
}

func TestProbeHealthUnhealthyEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"code":"SERVICE_UNAVAILABLE","message":"aggregate health check failed","details":{"status":"unhealthy","checks":{"store":"unhealthy: database is locked"}}}}`)
	}))
	defer srv.Close()

	report, err := probeHealth(context.Background(), srv.Client(), srv.URL, time.Second)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "unhealthy: database is locked", report.Checks["store"])
}

func TestProbeHealthRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>proxy</html>")
	}))
	defer srv.Close()

	_, err := probeHealth(context.Background(), srv.Client(), srv.URL, time.Second)
	assert.Error(t, err)
}
