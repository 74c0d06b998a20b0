package jobs

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/config"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/kg"
	"github.com/casewire/casewire/internal/metrics"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/pipeline"
	"github.com/casewire/casewire/internal/storage"
)

// Wire-level action values for case_file messages.
const (
	ActionProcessFile = "process_file"
	ActionProcess     = "process"
)

var validate = validator.New()

// FileMetadata is the per-file metadata attached at enqueue time. Language is
// the submitter's declared hint; the checksum is computed during upload and
// recorded on the artifact row.
type FileMetadata struct {
	Language string `json:"language,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// CaseFileArgs is the message schema of both processing modes; Action
// discriminates them. Field names keep the legacy gcs_path/gcs_prefix wire
// spelling.
type CaseFileArgs struct {
	JobID     string       `json:"job_id" validate:"required"`
	Action    string       `json:"action" validate:"required,oneof=process_file process"`
	GCSPath   string       `json:"gcs_path,omitempty" validate:"required_if=Action process_file"`
	GCSPrefix string       `json:"gcs_prefix,omitempty" validate:"required_if=Action process"`
	Filename  string       `json:"filename,omitempty" validate:"required_if=Action process_file"`
	Metadata  FileMetadata `json:"metadata,omitempty"`
}

func (CaseFileArgs) Kind() string { return JobKindCaseFile }

// GraphBuildArgs hands one artifact's pipeline text to the graph pool.
type GraphBuildArgs struct {
	JobID      string `json:"job_id" validate:"required"`
	ArtifactID string `json:"artifact_id" validate:"required"`
	TextPath   string `json:"text_path" validate:"required"`
	Language   string `json:"language,omitempty"`
}

func (GraphBuildArgs) Kind() string { return JobKindGraphBuild }

// CompletionSweepArgs triggers the periodic completion sweep.
type CompletionSweepArgs struct{}

func (CompletionSweepArgs) Kind() string { return JobKindCompletionSweep }

// JobInserter is the slice of river's client the workers use to enqueue
// follow-up work. *river.Client[pgx.Tx] satisfies it.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

var _ JobInserter = (*river.Client[pgx.Tx])(nil)

// contextInserter resolves the inserter for a running job. Workers are
// registered before the river client exists, so the Inserter field stays nil
// in production and the client is pulled from the job context instead; tests
// inject a fake.
func contextInserter(ctx context.Context, configured JobInserter) JobInserter {
	if configured != nil {
		return configured
	}
	return river.ClientFromContext[pgx.Tx](ctx)
}

// WorkerDeps carries the shared dependencies of the queue workers.
type WorkerDeps struct {
	Repo       storage.Repository
	Blobs      blobstore.Store
	Runner     *pipeline.Runner
	Extractor  ml.GraphExtractor
	Resolver   *kg.Resolver
	Sync       *kg.Sync
	Completion *cases.Completion
	Queues     config.QueuesConfig
	Inserter   JobInserter
	Logger     zerolog.Logger
}

// NewWorkers registers every worker the serve process runs.
func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[CaseFileArgs](workers, CaseFileWorker{
		Repo:       deps.Repo,
		Blobs:      deps.Blobs,
		Runner:     deps.Runner,
		Completion: deps.Completion,
		Inserter:   deps.Inserter,
		Logger:     deps.Logger,
	})
	river.AddWorker[GraphBuildArgs](workers, GraphBuildWorker{
		Repo:       deps.Repo,
		Blobs:      deps.Blobs,
		Runner:     deps.Runner,
		Extractor:  deps.Extractor,
		Resolver:   deps.Resolver,
		Sync:       deps.Sync,
		Completion: deps.Completion,
		Logger:     deps.Logger,
	})
	river.AddWorker[CompletionSweepArgs](workers, CompletionSweepWorker{
		Repo:         deps.Repo,
		Completion:   deps.Completion,
		StalledAfter: deps.Queues.StalledAfter.Std(),
		Inserter:     deps.Inserter,
		Logger:       deps.Logger,
	})
	return workers
}

// failArtifact records a required-stage failure: the artifact flips to FAILED
// with the failing stage and message, watchers get a final event, and the
// job-level completion check runs so a job whose last artifact just failed
// still reaches a terminal status. The message is cancelled, not retried.
func failArtifact(ctx context.Context, repo cases.Repository, runner *pipeline.Runner, completion *cases.Completion, artifact *cases.Artifact, stage string, cause error) error {
	if err := repo.FailArtifact(ctx, artifact.ID, stage, cause.Error()); err != nil {
		return fmt.Errorf("fail artifact: %w", err)
	}
	artifact.Status = cases.ArtifactFailed
	artifact.CurrentStage = stage
	artifact.ErrorMessage = cause.Error()
	metrics.StageFailures.WithLabelValues(string(artifact.FileType), stage).Inc()
	metrics.ArtifactsTerminal.WithLabelValues(string(artifact.FileType), string(cases.ArtifactFailed)).Inc()
	runner.PublishStatus(ctx, artifact)
	if status, changed, err := completion.Check(ctx, artifact.JobID); err != nil {
		return fmt.Errorf("completion check: %w", err)
	} else if changed {
		metrics.JobsTerminal.WithLabelValues(string(status)).Inc()
	}
	return river.JobCancel(cause)
}

// completeArtifact records a terminal success. CompleteArtifact reports
// whether this call made the transition; only the transitioning caller
// increments processed_files, so duplicate deliveries count each artifact
// once.
func completeArtifact(ctx context.Context, repo cases.Repository, runner *pipeline.Runner, completion *cases.Completion, artifact *cases.Artifact) error {
	transitioned, err := repo.CompleteArtifact(ctx, artifact.ID)
	if err != nil {
		return fmt.Errorf("complete artifact: %w", err)
	}
	if transitioned {
		if err := repo.IncrementProcessedFiles(ctx, artifact.JobID); err != nil {
			return fmt.Errorf("increment processed files: %w", err)
		}
		artifact.Status = cases.ArtifactCompleted
		artifact.CurrentStage = cases.StageCompleted
		metrics.ArtifactsTerminal.WithLabelValues(string(artifact.FileType), string(cases.ArtifactCompleted)).Inc()
		runner.PublishStatus(ctx, artifact)
	}
	if status, changed, err := completion.Check(ctx, artifact.JobID); err != nil {
		return fmt.Errorf("completion check: %w", err)
	} else if changed {
		metrics.JobsTerminal.WithLabelValues(string(status)).Inc()
	}
	return nil
}
