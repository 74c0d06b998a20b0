package cases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("job not found")

var ErrArtifactNotFound = errors.New("artifact not found")

// ErrArtifactExists reports that the (job_id, filename) uniqueness constraint
// fired: a concurrent worker won the creation race. Callers re-read the
// winner's row and continue against it.
var ErrArtifactExists = errors.New("artifact already exists")

type JobCreateParams struct {
	ID            uuid.UUID
	TotalFiles    int
	CaseNumber    string
	ParentJobID   *uuid.UUID
	OwnerID       string
	StoragePrefix string
}

type ArtifactCreateParams struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	Filename string
	FileType FileType
	Language string
	Checksum string
}

// StageUpdateParams persists one stage boundary. Nil output pointers leave the
// stored value untouched; the full timings slice is rewritten each time.
type StageUpdateParams struct {
	ArtifactID       uuid.UUID
	CurrentStage     string
	Stages           StageTimings
	DetectedLanguage *string
	ExtractedPath    *string
	TranscriptPath   *string
	TranslatedPath   *string
	SummaryPath      *string
}

// StatusCounts groups a job's artifacts by status.
type StatusCounts struct {
	Processing int
	Completed  int
	Failed     int
}

// Terminal is the number of artifacts that can make no further progress.
func (c StatusCounts) Terminal() int {
	return c.Completed + c.Failed
}

// Repository is the store surface for jobs and artifacts. Implementations
// must make CreateArtifact surface ErrArtifactExists on the uniqueness
// constraint and keep CompleteJobIfDone/FailJobIfStuck single-statement
// idempotent writes; several workers race on them.
type Repository interface {
	CreateJob(ctx context.Context, params JobCreateParams) (*Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobsByCase(ctx context.Context, caseNumber string) ([]Job, error)
	ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	MarkJobProcessing(ctx context.Context, id uuid.UUID) error
	IncrementProcessedFiles(ctx context.Context, id uuid.UUID) error
	CompleteJobIfDone(ctx context.Context, id uuid.UUID) (bool, error)
	FailJobIfStuck(ctx context.Context, id uuid.UUID) (bool, error)

	CreateArtifact(ctx context.Context, params ArtifactCreateParams) (*Artifact, error)
	GetArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error)
	GetArtifactByJobAndFilename(ctx context.Context, jobID uuid.UUID, filename string) (*Artifact, error)
	ListArtifactsByJob(ctx context.Context, jobID uuid.UUID) ([]Artifact, error)
	UpdateArtifactStage(ctx context.Context, params StageUpdateParams) error
	CompleteArtifact(ctx context.Context, id uuid.UUID) (bool, error)
	FailArtifact(ctx context.Context, id uuid.UUID, stage string, message string) error
	CountCompletedArtifacts(ctx context.Context, jobID uuid.UUID) (int, error)
	CountArtifactsByStatus(ctx context.Context, jobID uuid.UUID) (StatusCounts, error)
	ListStalledArtifacts(ctx context.Context, olderThan time.Time) ([]Artifact, error)
}
