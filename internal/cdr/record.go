// Package cdr parses call-detail-record files and matches their phone
// numbers against the entities of the owning case's graph.
package cdr

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("cdr record not found")

// Call is one parsed CDR row. Numbers are stored normalized (NormalizePhone);
// StartTime is zero when the source row had no parsable timestamp.
type Call struct {
	Caller          string    `json:"caller"`
	Callee          string    `json:"callee"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
	CellID          string    `json:"cell_id,omitempty"`
	CallType        string    `json:"call_type,omitempty"`
}

// Match links a CDR number to a graph entity whose label or properties carry
// the same number.
type Match struct {
	Number   string `json:"number"`
	EntityID string `json:"entity_id"`
	Label    string `json:"label"`
}

// Record is the persisted parse result for one CDR artifact.
type Record struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	ArtifactID     uuid.UUID
	RecordCount    int
	Calls          []Call
	MatchedNumbers []Match
	CreatedAt      time.Time
}

type CreateParams struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	ArtifactID uuid.UUID
	Calls      []Call
	Matches    []Match
}

// Repository is the store surface for CDR records.
type Repository interface {
	Insert(ctx context.Context, params CreateParams) error
	GetByArtifact(ctx context.Context, artifactID uuid.UUID) (*Record, error)
	ListNumbersByJob(ctx context.Context, jobID uuid.UUID) ([]string, error)
}
