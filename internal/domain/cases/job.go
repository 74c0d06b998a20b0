package cases

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus tracks one ingestion batch through its lifecycle. QUEUED is set by
// the producer; the first worker to touch any of the job's artifacts flips it
// to PROCESSING; COMPLETED and FAILED are terminal and set exactly once.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further status transition may occur.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one ingestion batch of case files. total_files is fixed at creation
// and is the denominator of the completion protocol; processed_files only ever
// increases. A job extending an existing case carries the parent job's id and
// the shared case number.
type Job struct {
	ID             uuid.UUID
	Status         JobStatus
	TotalFiles     int
	ProcessedFiles int
	CaseNumber     string
	ParentJobID    *uuid.UUID
	OwnerID        string
	StoragePrefix  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}
