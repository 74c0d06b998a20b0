package jobs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/pipeline"
	"github.com/casewire/casewire/internal/storage"
)

// CaseFileWorker runs a file's source pipeline. It owns the idempotency guard
// around artifact creation and the hand-off to the graph queue; the stage
// sequences themselves live in the pipeline package.
type CaseFileWorker struct {
	river.WorkerDefaults[CaseFileArgs]
	Repo       storage.Repository
	Blobs      blobstore.Store
	Runner     *pipeline.Runner
	Completion *cases.Completion
	Inserter   JobInserter
	Logger     zerolog.Logger
}

func (CaseFileWorker) Kind() string { return JobKindCaseFile }

func (w CaseFileWorker) Work(ctx context.Context, job *river.Job[CaseFileArgs]) error {
	if w.Repo == nil {
		return fmt.Errorf("repository not configured")
	}
	if w.Blobs == nil {
		return fmt.Errorf("blob store not configured")
	}
	if w.Runner == nil {
		return fmt.Errorf("pipeline runner not configured")
	}
	if w.Completion == nil {
		return fmt.Errorf("completion checker not configured")
	}

	args := job.Args
	if err := validate.Struct(args); err != nil {
		w.Logger.Error().Err(err).Str("job_id", args.JobID).Str("action", args.Action).Msg("malformed case_file message")
		return river.JobCancel(fmt.Errorf("malformed case_file message: %w", err))
	}
	jobID, err := uuid.Parse(args.JobID)
	if err != nil {
		w.Logger.Error().Err(err).Str("job_id", args.JobID).Msg("malformed case_file message")
		return river.JobCancel(fmt.Errorf("malformed job id %q: %w", args.JobID, err))
	}

	if args.Action == ActionProcess {
		return w.workJob(ctx, jobID, args)
	}
	return w.workFile(ctx, jobID, args)
}

func (w CaseFileWorker) workFile(ctx context.Context, jobID uuid.UUID, args CaseFileArgs) error {
	repo := w.Repo.Cases()
	fileType := cases.ClassifyFilename(args.Filename)
	logger := w.Logger.With().
		Stringer("job_id", jobID).
		Str("filename", args.Filename).
		Str("file_type", string(fileType)).
		Logger()

	artifact, created, err := w.resolveArtifact(ctx, jobID, args, fileType)
	if err != nil {
		return err
	}
	if !created && artifact.SourcePipelineDone() {
		logger.Info().
			Str("status", string(artifact.Status)).
			Str("current_stage", artifact.CurrentStage).
			Msg("duplicate delivery, artifact already handed off")
		return nil
	}

	if err := repo.MarkJobProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	content, err := w.Blobs.Download(ctx, args.GCSPath)
	if errors.Is(err, blobstore.ErrNotFound) {
		// A missing source object never heals on retry.
		logger.Error().Err(err).Str("gcs_path", args.GCSPath).Msg("source blob missing")
		return failArtifact(ctx, repo, w.Runner, w.Completion, artifact, firstStage(fileType), err)
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", args.GCSPath, err)
	}

	if err := w.runPipeline(ctx, artifact, args.GCSPath, content); err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			logger.Error().Err(stageErr.Err).Str("stage", stageErr.Stage).Msg("stage failed")
			return failArtifact(ctx, repo, w.Runner, w.Completion, artifact, stageErr.Stage, stageErr.Err)
		}
		return err
	}

	// CDR pipelines are terminal on their own; everything else hands off to
	// the graph queue and completes there.
	if fileType == cases.FileTypeCDR {
		if err := completeArtifact(ctx, repo, w.Runner, w.Completion, artifact); err != nil {
			return err
		}
		logger.Info().Msg("cdr pipeline finished")
		return nil
	}

	if err := w.Runner.MarkStage(ctx, artifact, cases.StageAwaitingGraph); err != nil {
		return err
	}
	insertArgs, opts := graphBuildInsert(artifact.JobID, artifact.ID, artifact.PreferredTextPath(), artifact.DetectedLanguage)
	if _, err := contextInserter(ctx, w.Inserter).Insert(ctx, insertArgs, opts); err != nil {
		return fmt.Errorf("enqueue graph build: %w", err)
	}
	logger.Info().Msg("source pipeline finished, graph build enqueued")
	return nil
}

// resolveArtifact is the optimistic insert at the heart of the idempotency
// guard: try to create, and on the uniqueness violation adopt the winner's
// row instead.
func (w CaseFileWorker) resolveArtifact(ctx context.Context, jobID uuid.UUID, args CaseFileArgs, fileType cases.FileType) (*cases.Artifact, bool, error) {
	repo := w.Repo.Cases()
	artifact, err := repo.CreateArtifact(ctx, cases.ArtifactCreateParams{
		ID:       uuid.New(),
		JobID:    jobID,
		Filename: args.Filename,
		FileType: fileType,
		Language: args.Metadata.Language,
		Checksum: args.Metadata.Checksum,
	})
	if err == nil {
		return artifact, true, nil
	}
	if !errors.Is(err, cases.ErrArtifactExists) {
		return nil, false, fmt.Errorf("create artifact: %w", err)
	}
	artifact, err = repo.GetArtifactByJobAndFilename(ctx, jobID, args.Filename)
	if err != nil {
		return nil, false, fmt.Errorf("load existing artifact: %w", err)
	}
	return artifact, false, nil
}

func (w CaseFileWorker) runPipeline(ctx context.Context, artifact *cases.Artifact, sourcePath string, content []byte) error {
	switch artifact.FileType {
	case cases.FileTypeAudio:
		return w.Runner.RunAudio(ctx, artifact, sourcePath, content)
	case cases.FileTypeVideo:
		return w.Runner.RunVideo(ctx, artifact, sourcePath, content)
	case cases.FileTypeCDR:
		return w.Runner.RunCDR(ctx, artifact, content)
	default:
		return w.Runner.RunDocument(ctx, artifact, sourcePath, content)
	}
}

// workJob is the legacy whole-job mode: list the prefix and fan out one
// process_file message per source object. Derived outputs live under the
// same prefix and are skipped.
func (w CaseFileWorker) workJob(ctx context.Context, jobID uuid.UUID, args CaseFileArgs) error {
	paths, err := w.Blobs.ListByPrefix(ctx, args.GCSPrefix)
	if err != nil {
		return fmt.Errorf("list prefix %s: %w", args.GCSPrefix, err)
	}

	inserter := contextInserter(ctx, w.Inserter)
	enqueued := 0
	for _, p := range paths {
		if strings.Contains(p, "/derived/") {
			continue
		}
		filename := path.Base(p)
		insertArgs, opts := caseFileInsert(jobID, p, filename, cases.ClassifyFilename(filename), args.Metadata)
		if _, err := inserter.Insert(ctx, insertArgs, opts); err != nil {
			return fmt.Errorf("enqueue %s: %w", p, err)
		}
		enqueued++
	}
	w.Logger.Info().Stringer("job_id", jobID).Int("files", enqueued).Msg("expanded legacy job message")
	return nil
}

// firstStage names the stage a pipeline would have started with, for failures
// that happen before any stage runs.
func firstStage(fileType cases.FileType) string {
	if seq := pipeline.Sequence(fileType); len(seq) > 0 {
		return seq[0]
	}
	return cases.StageExtraction
}
