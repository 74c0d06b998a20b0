package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all casewire metrics
const namespace = "casewire"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

// AppInfo is a gauge that exposes application version information as labels
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// HealthStatus is a gauge that tracks overall server health status
// Values: 0 = unhealthy, 1 = healthy
var HealthStatus = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_status",
		Help:      "Overall server health status (0=unhealthy, 1=healthy)",
	},
)

// HealthCheckStatus tracks individual health check results
// Values: 0 = fail, 1 = pass
var HealthCheckStatus = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_check_status",
		Help:      "Individual health check status (0=fail, 1=pass)",
	},
	[]string{"check"},
)

// Pipeline metrics

// StageDuration records per-stage execution time. Buckets stretch to minutes;
// transcription and video analysis regularly run that long.
var StageDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Processing stage execution time in seconds",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
	},
	[]string{"file_type", "stage"},
)

// StageFailures counts required-stage failures that failed the artifact.
// Optional-stage fallbacks (translation, text rewrite) are not counted here.
var StageFailures = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_stage_failures_total",
		Help:      "Total number of stage failures that failed an artifact",
	},
	[]string{"file_type", "stage"},
)

// ArtifactsTerminal counts artifacts reaching a terminal status
var ArtifactsTerminal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_terminal_total",
		Help:      "Total number of artifacts reaching COMPLETED or FAILED",
	},
	[]string{"file_type", "status"},
)

// JobsTerminal counts jobs flipped to a terminal status by the completion check
var JobsTerminal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_terminal_total",
		Help:      "Total number of jobs reaching COMPLETED or FAILED",
	},
	[]string{"status"},
)

// GraphSyncFailures counts swallowed graph-store sync failures. A rising
// counter with a flat jobs_terminal_total means the graph store is down and
// the sweep is carrying the retries.
var GraphSyncFailures = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "graph_sync_failures_total",
		Help:      "Total number of failed graph store syncs",
	},
)

// Init initializes the metrics registry and sets version information
func Init(version, commit, buildDate string) {
	// Register default Go metrics (memory, goroutines, GC, etc.)
	Registry.MustRegister(collectors.NewGoCollector())

	// Register process metrics (CPU, memory, file descriptors)
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Set application version info (value is always 1, info is in labels)
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
