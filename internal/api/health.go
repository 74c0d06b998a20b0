package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casewire/casewire/internal/metrics"
)

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// HealthChecker serves liveness and readiness. Liveness is unconditional;
// readiness pings the database, which also covers the queue (river runs on
// the same pool).
type HealthChecker struct {
	pool    *pgxpool.Pool
	version string
}

func NewHealthChecker(pool *pgxpool.Pool, version string) *HealthChecker {
	return &HealthChecker{pool: pool, version: version}
}

// Healthz reports process liveness.
func (h *HealthChecker) Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, healthResponse{
			Status:    "ok",
			Version:   h.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// Readyz reports whether the server can do work right now.
func (h *HealthChecker) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbCheck := h.checkDatabase(ctx)

		status := "ready"
		statusCode := http.StatusOK
		healthy := 1.0
		if dbCheck.Status == "fail" {
			status = "unready"
			statusCode = http.StatusServiceUnavailable
			healthy = 0
		}
		metrics.HealthStatus.Set(healthy)
		metrics.HealthCheckStatus.WithLabelValues("database").Set(healthy)

		respondJSON(w, statusCode, healthResponse{
			Status:    status,
			Version:   h.version,
			Checks:    map[string]CheckResult{"database": dbCheck},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()

	if h.pool == nil {
		return CheckResult{
			Status:  "fail",
			Message: "database pool not initialized",
		}
	}

	var result int
	err := h.pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{
			Status:    "fail",
			Message:   "database ping failed",
			LatencyMs: latency,
			Details:   map[string]any{"error": err.Error()},
		}
	}

	stats := h.pool.Stat()
	return CheckResult{
		Status:    "pass",
		LatencyMs: latency,
		Details: map[string]any{
			"max_connections":      stats.MaxConns(),
			"total_connections":    stats.TotalConns(),
			"acquired_connections": stats.AcquiredConns(),
		},
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
