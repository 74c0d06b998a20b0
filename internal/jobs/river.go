package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/casewire/casewire/internal/config"
	"github.com/casewire/casewire/internal/domain/cases"
)

const (
	JobKindCaseFile        = "case_file"
	JobKindGraphBuild      = "graph_build"
	JobKindCompletionSweep = "completion_sweep"
)

const (
	CaseFileMaxAttempts        = 5
	GraphBuildMaxAttempts      = 5
	CompletionSweepMaxAttempts = 1
)

// Queue names. Each file type gets its own queue so pool sizes can be tuned
// per workload; graph builds run in a separate pool behind the source
// pipelines.
const (
	QueueDocument = "document"
	QueueAudio    = "audio"
	QueueVideo    = "video"
	QueueCDR      = "cdr"
	QueueGraph    = "graph"
)

// QueueForFileType maps a file type to the queue its pipeline runs on.
func QueueForFileType(fileType cases.FileType) string {
	switch fileType {
	case cases.FileTypeAudio:
		return QueueAudio
	case cases.FileTypeVideo:
		return QueueVideo
	case cases.FileTypeCDR:
		return QueueCDR
	default:
		return QueueDocument
	}
}

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy returns the default retry policy configuration.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: CaseFileMaxAttempts,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindCaseFile: {
				MaxAttempts: CaseFileMaxAttempts,
				BaseDelay:   30 * time.Second,
				MaxDelay:    30 * time.Minute,
			},
			JobKindGraphBuild: {
				MaxAttempts: GraphBuildMaxAttempts,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    1 * time.Hour,
			},
			JobKindCompletionSweep: {
				MaxAttempts: CompletionSweepMaxAttempts,
				BaseDelay:   0,
				MaxDelay:    0,
			},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}

	return time.Now().Add(delay)
}

// InsertOptsForKind returns default insert options for a job kind.
func InsertOptsForKind(kind string) river.InsertOpts {
	config := NewRetryPolicy().configFor(kind)
	return river.InsertOpts{MaxAttempts: config.MaxAttempts}
}

// ClientParams collects the pieces a River client is assembled from. Alert
// receives jobs that exhausted their retries; leave it nil to only log them.
type ClientParams struct {
	Queues       config.QueuesConfig
	Workers      *river.Workers
	Logger       *slog.Logger
	Hooks        []rivertype.Hook
	PeriodicJobs []*river.PeriodicJob
	Alert        AlertFunc
}

// NewClientConfig builds a River client configuration with the per-file-type
// queue pools sized from config.
func NewClientConfig(params ClientParams) *river.Config {
	policy := NewRetryPolicy()
	config := &river.Config{
		Workers:      params.Workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: params.PeriodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			QueueDocument:      {MaxWorkers: params.Queues.DocumentWorkers},
			QueueAudio:         {MaxWorkers: params.Queues.AudioWorkers},
			QueueVideo:         {MaxWorkers: params.Queues.VideoWorkers},
			QueueCDR:           {MaxWorkers: params.Queues.CDRWorkers},
			QueueGraph:         {MaxWorkers: params.Queues.GraphWorkers},
		},
		Hooks:        params.Hooks,
		ErrorHandler: NewAlertingErrorHandler(params.Logger, params.Alert),
	}
	if params.Logger != nil {
		config.Logger = params.Logger
	}
	return config
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, params ClientParams) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(params))
}

// NewInsertOnlyClient creates a client that can insert jobs but runs no
// workers. The ingest CLI uses it to enqueue without joining the worker
// fleet.
func NewInsertOnlyClient(pool *pgxpool.Pool) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), &river.Config{})
}

// NewPeriodicJobs creates the periodic job schedule. The completion sweep
// runs on start so jobs stranded by a crash recover as soon as a server
// comes back.
func NewPeriodicJobs(queues config.QueuesConfig) []*river.PeriodicJob {
	interval := queues.SweepInterval.Std()
	if interval <= 0 {
		interval = time.Minute
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CompletionSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: CaseFileMaxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute}
	}
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}
