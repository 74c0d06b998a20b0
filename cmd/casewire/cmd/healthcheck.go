package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckTimeout int
	healthcheckURL     string
	healthcheckReady   bool
)

func newHealthcheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check against a running casewire server.

This command is used by Docker HEALTHCHECK to monitor container health.
It exits with code 0 if the server is healthy, non-zero otherwise.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		RunE: runHealthcheck,
	}

	cmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds")
	cmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/healthz)")
	cmd.Flags().BoolVar(&healthcheckReady, "ready", false, "probe /readyz instead of /healthz to include the database ping")

	return cmd
}

// healthCheckResult is one probe's outcome, kept apart from the exit code
// mapping so tests can assert on it.
type healthCheckResult struct {
	StatusCode int
	Status     string
	Healthy    bool
	Invalid    bool
	Err        error
}

func performHealthCheck(url string, timeout time.Duration) healthCheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return healthCheckResult{Err: err}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return healthCheckResult{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return healthCheckResult{StatusCode: resp.StatusCode, Invalid: true, Err: err}
	}

	return healthCheckResult{
		StatusCode: resp.StatusCode,
		Status:     body.Status,
		Healthy:    resp.StatusCode == http.StatusOK && body.Status == "ok",
	}
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	url := healthcheckURL
	if url == "" {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		path := "/healthz"
		if healthcheckReady {
			path = "/readyz"
		}
		url = fmt.Sprintf("http://localhost:%s%s", port, path)
	}

	result := performHealthCheck(url, time.Duration(healthcheckTimeout)*time.Second)
	switch {
	case result.Invalid:
		fmt.Fprintf(os.Stderr, "invalid response from %s: %v\n", url, result.Err)
		os.Exit(2)
	case result.Err != nil:
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", result.Err)
		os.Exit(1)
	case !result.Healthy:
		fmt.Fprintf(os.Stderr, "server status %q (http %d)\n", result.Status, result.StatusCode)
		os.Exit(1)
	}
	return nil
}
