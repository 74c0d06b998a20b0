package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/kg"
	"github.com/casewire/casewire/internal/metrics"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/pipeline"
	"github.com/casewire/casewire/internal/storage"
)

// GraphBuildWorker turns an artifact's pipeline text into case graph state:
// extraction, resolution into the store, then the external graph-store sync.
// It is the only worker that sets source-pipeline artifacts COMPLETED.
type GraphBuildWorker struct {
	river.WorkerDefaults[GraphBuildArgs]
	Repo       storage.Repository
	Blobs      blobstore.Store
	Runner     *pipeline.Runner
	Extractor  ml.GraphExtractor
	Resolver   *kg.Resolver
	Sync       *kg.Sync
	Completion *cases.Completion
	Logger     zerolog.Logger
}

func (GraphBuildWorker) Kind() string { return JobKindGraphBuild }

func (w GraphBuildWorker) Work(ctx context.Context, job *river.Job[GraphBuildArgs]) error {
	if w.Repo == nil {
		return fmt.Errorf("repository not configured")
	}
	if w.Blobs == nil {
		return fmt.Errorf("blob store not configured")
	}
	if w.Runner == nil {
		return fmt.Errorf("pipeline runner not configured")
	}
	if w.Extractor == nil {
		return fmt.Errorf("graph extractor not configured")
	}
	if w.Resolver == nil {
		return fmt.Errorf("resolver not configured")
	}
	if w.Sync == nil {
		return fmt.Errorf("graph sync not configured")
	}
	if w.Completion == nil {
		return fmt.Errorf("completion checker not configured")
	}

	args := job.Args
	if err := validate.Struct(args); err != nil {
		w.Logger.Error().Err(err).Str("job_id", args.JobID).Str("artifact_id", args.ArtifactID).Msg("malformed graph_build message")
		return river.JobCancel(fmt.Errorf("malformed graph_build message: %w", err))
	}
	artifactID, err := uuid.Parse(args.ArtifactID)
	if err != nil {
		w.Logger.Error().Err(err).Str("artifact_id", args.ArtifactID).Msg("malformed graph_build message")
		return river.JobCancel(fmt.Errorf("malformed artifact id %q: %w", args.ArtifactID, err))
	}

	repo := w.Repo.Cases()
	artifact, err := repo.GetArtifact(ctx, artifactID)
	if errors.Is(err, cases.ErrArtifactNotFound) {
		w.Logger.Warn().Str("artifact_id", args.ArtifactID).Msg("graph build for unknown artifact")
		return river.JobCancel(err)
	}
	if err != nil {
		return fmt.Errorf("load artifact: %w", err)
	}

	logger := w.Logger.With().
		Stringer("job_id", artifact.JobID).
		Stringer("artifact_id", artifact.ID).
		Str("filename", artifact.Filename).
		Logger()

	if artifact.Status.Terminal() {
		logger.Info().Str("status", string(artifact.Status)).Msg("duplicate delivery, artifact already terminal")
		return nil
	}

	if err := w.Runner.MarkStage(ctx, artifact, cases.StageGraphBuilding); err != nil {
		return err
	}

	text, err := w.Blobs.DownloadText(ctx, args.TextPath)
	if errors.Is(err, blobstore.ErrNotFound) {
		logger.Error().Err(err).Str("text_path", args.TextPath).Msg("pipeline text missing")
		return failArtifact(ctx, repo, w.Runner, w.Completion, artifact, cases.StageGraphBuilding, fmt.Errorf("pipeline text missing: %w", err))
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", args.TextPath, err)
	}

	payload, err := w.Extractor.ExtractGraph(ctx, text)
	if err != nil {
		logger.Error().Err(err).Msg("graph extraction failed")
		return failArtifact(ctx, repo, w.Runner, w.Completion, artifact, cases.StageGraphBuilding, err)
	}

	resolution, err := w.Resolver.Resolve(ctx, artifact.JobID, artifact.ID, payload)
	if err != nil {
		return fmt.Errorf("resolve graph: %w", err)
	}

	caseJob, err := repo.GetJob(ctx, artifact.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	// The store write above is the source of truth; a failed sync leaves the
	// artifact non-terminal so river retries and the sweep retriggers it.
	if err := w.Sync.SyncDocument(ctx, kg.DocumentSync{
		JobID:      artifact.JobID,
		OwnerID:    caseJob.OwnerID,
		ArtifactID: artifact.ID,
		Filename:   artifact.Filename,
		Resolution: resolution,
	}); err != nil {
		metrics.GraphSyncFailures.Inc()
		logger.Error().Err(err).Msg("graph store sync failed")
		return fmt.Errorf("graph store sync: %w", err)
	}

	if err := completeArtifact(ctx, repo, w.Runner, w.Completion, artifact); err != nil {
		return err
	}
	logger.Info().
		Int("entities", resolution.EntitiesInserted).
		Int("edges", len(resolution.Edges)).
		Int("cross_doc", len(resolution.CrossDoc)).
		Msg("graph build finished")
	return nil
}
