package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/config"
	errwrap "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/observability"
)

var (
	healthServer  string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running server's health",
	Long:  "Query /health on a running server and print each registered check. Exits non-zero when the server is unhealthy, for use as a container health check.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		baseURL := strings.TrimSpace(healthServer)
		if baseURL == "" {
			cfg, err := config.Load(ctx)
			if err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Config load failed", err)
				return
			}
			baseURL = "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		}

		report, err := probeHealth(ctx, http.DefaultClient, baseURL, healthTimeout)
		if err != nil {
			wrapped := errwrap.WrapExternalService(ctx, err, "health probe failed")
			if errors.Is(err, context.DeadlineExceeded) {
				wrapped = errwrap.WrapTimeout(ctx, err, fmt.Sprintf("no answer from %s within %s", baseURL, healthTimeout))
			}
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Health probe failed", wrapped)
			return
		}

		names := make([]string, 0, len(report.Checks))
		for name := range report.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			observability.CLILogger.Info(fmt.Sprintf("  %s: %s", name, report.Checks[name]))
		}

		if !report.Healthy {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Server unhealthy", errwrap.NewUnavailableError("status "+report.Status))
			return
		}
		observability.CLILogger.Info("✅ Server healthy", zap.String("server", baseURL), zap.String("status", report.Status))
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthServer, "server", "", "server base URL (default derived from server.host and server.port)")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "probe timeout")
}

// healthReport is what the probe learned from /health.
type healthReport struct {
	Healthy bool
	Status  string
	Checks  map[string]string
}

// probeHealth reads both the success body and the 503 error envelope,
// which carries the checks in its details.
func probeHealth(ctx context.Context, httpClient *http.Client, baseURL string, timeout time.Duration) (*healthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}

	report := &healthReport{Healthy: resp.StatusCode == http.StatusOK, Checks: map[string]string{}}
	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
		Error  struct {
			Details struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode health response (HTTP %d): %w", resp.StatusCode, err)
	}

	report.Status = payload.Status
	for name, status := range payload.Checks {
		report.Checks[name] = status
	}
	if payload.Error.Details.Status != "" {
		report.Status = payload.Error.Details.Status
	}
	for name, status := range payload.Error.Details.Checks {
		report.Checks[name] = status
	}
	if report.Status == "" {
		report.Status = http.StatusText(resp.StatusCode)
	}
	return report, nil
}
