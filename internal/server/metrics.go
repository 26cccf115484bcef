package server

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/config"
	"github.com/chatlens/chatlens/internal/observability"
)

const (
	defaultExporterPort   = 9090
	prometheusContentType = "text/plain; version=0.0.4"
)

// hopByHop headers describe the exporter connection, not the scrape payload.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// metricsProxy republishes the loopback Prometheus exporter on the API
// listener so one port serves research traffic and scrapes.
type metricsProxy struct {
	client *http.Client
	port   func() int
}

func newMetricsProxy() *metricsProxy {
	return &metricsProxy{
		client: &http.Client{Timeout: 5 * time.Second},
		port:   exporterPort,
	}
}

// exporterPort prefers the port the exporter actually bound, then the
// configured one.
func exporterPort() int {
	if port := observability.GetMetricsPort(); port != 0 {
		return port
	}
	if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port != 0 {
		return cfg.Metrics.Port
	}
	return defaultExporterPort
}

func (p *metricsProxy) target() *url.URL {
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port())),
		Path:   "/metrics",
	}
}

func (p *metricsProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics exporter not initialized"))
		return
	}

	target := p.target()
	resp, err := p.scrape(r, target)
	if err != nil {
		env, _ := errors.NewErrorEnvelope("EXTERNAL_SERVICE_ERROR", "Prometheus exporter unavailable").
			WithContext(map[string]interface{}{
				"metrics_url":    target.String(),
				"original_error": err.Error(),
			})
		HandleError(w, r, env)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logMetricsWarning("Failed to close exporter response", err)
		}
	}()

	copyEndToEndHeaders(w.Header(), resp.Header)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", prometheusContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logMetricsWarning("Failed to relay exporter output", err)
	}
}

// scrape fetches the exporter, forwarding Accept for content negotiation.
func (p *metricsProxy) scrape(r *http.Request, target *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	return p.client.Do(req)
}

// copyEndToEndHeaders copies src into dst minus hop-by-hop headers, including
// any the upstream named in its Connection header.
func copyEndToEndHeaders(dst, src http.Header) {
	named := map[string]struct{}{}
	for _, value := range src.Values("Connection") {
		for _, field := range strings.Split(value, ",") {
			if field = strings.TrimSpace(field); field != "" {
				named[http.CanonicalHeaderKey(field)] = struct{}{}
			}
		}
	}

	for key, values := range src {
		key = http.CanonicalHeaderKey(key)
		if _, skip := hopByHop[key]; skip {
			continue
		}
		if _, skip := named[key]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func logMetricsWarning(msg string, err error) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn(msg, zap.Error(err))
	}
}
