package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/domain/cases"
)

// caseFileInsert builds one process_file message. Uniqueness by args makes a
// re-enqueue of the same file a no-op while an earlier message is pending.
func caseFileInsert(jobID uuid.UUID, gcsPath, filename string, fileType cases.FileType, metadata FileMetadata) (CaseFileArgs, *river.InsertOpts) {
	args := CaseFileArgs{
		JobID:    jobID.String(),
		Action:   ActionProcessFile,
		GCSPath:  gcsPath,
		Filename: filename,
		Metadata: metadata,
	}
	opts := InsertOptsForKind(JobKindCaseFile)
	opts.Queue = QueueForFileType(fileType)
	opts.UniqueOpts = river.UniqueOpts{ByArgs: true}
	return args, &opts
}

// graphBuildInsert builds one graph_build message, unique by args so the
// sweep never stacks duplicates behind a build that is still pending.
func graphBuildInsert(jobID, artifactID uuid.UUID, textPath, language string) (GraphBuildArgs, *river.InsertOpts) {
	args := GraphBuildArgs{
		JobID:      jobID.String(),
		ArtifactID: artifactID.String(),
		TextPath:   textPath,
		Language:   language,
	}
	opts := InsertOptsForKind(JobKindGraphBuild)
	opts.Queue = QueueGraph
	opts.UniqueOpts = river.UniqueOpts{ByArgs: true}
	return args, &opts
}

// Enqueuer is the submit side of the queue, used by ingest and the CLI.
// Workers insert follow-up jobs through their job context instead.
type Enqueuer struct {
	client JobInserter
	db     *pgxpool.Pool
	logger zerolog.Logger
}

func NewEnqueuer(client JobInserter, db *pgxpool.Pool, logger zerolog.Logger) *Enqueuer {
	return &Enqueuer{
		client: client,
		db:     db,
		logger: logger.With().Str("component", "enqueuer").Logger(),
	}
}

// Enqueue appends one process_file message to the file type's queue and
// returns the queue's depth after the insert.
func (e *Enqueuer) Enqueue(ctx context.Context, jobID uuid.UUID, gcsPath, filename string, fileType cases.FileType, metadata FileMetadata) (int, error) {
	args, opts := caseFileInsert(jobID, gcsPath, filename, fileType, metadata)
	if _, err := e.client.Insert(ctx, args, opts); err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", filename, err)
	}
	return e.queueDepth(ctx, opts.Queue), nil
}

// EnqueueJob appends one legacy whole-job message on the default queue.
func (e *Enqueuer) EnqueueJob(ctx context.Context, jobID uuid.UUID, gcsPrefix string) (int, error) {
	args := CaseFileArgs{
		JobID:     jobID.String(),
		Action:    ActionProcess,
		GCSPrefix: gcsPrefix,
	}
	opts := InsertOptsForKind(JobKindCaseFile)
	if _, err := e.client.Insert(ctx, args, &opts); err != nil {
		return 0, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return e.queueDepth(ctx, river.QueueDefault), nil
}

// EnqueueGraph appends one graph_build message.
func (e *Enqueuer) EnqueueGraph(ctx context.Context, jobID, artifactID uuid.UUID, textPath, language string) error {
	args, opts := graphBuildInsert(jobID, artifactID, textPath, language)
	if _, err := e.client.Insert(ctx, args, opts); err != nil {
		return fmt.Errorf("enqueue graph build: %w", err)
	}
	return nil
}

// queueDepth counts the queue's available jobs. The river client lists jobs
// in pages and has no count call, so this reads river's own table directly.
// Depth is informational; a count failure downgrades to zero with a warning.
func (e *Enqueuer) queueDepth(ctx context.Context, queue string) int {
	if e.db == nil {
		return 0
	}
	var depth int
	err := e.db.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE queue = $1 AND state = 'available'`, queue).Scan(&depth)
	if err != nil {
		e.logger.Warn().Err(err).Str("queue", queue).Msg("queue depth count failed")
		return 0
	}
	return depth
}
