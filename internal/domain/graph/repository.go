package graph

import (
	"context"

	"github.com/google/uuid"
)

type EntityCreateParams struct {
	ID             string
	JobID          uuid.UUID
	ArtifactID     uuid.UUID
	Label          string
	CanonicalLabel string
	Type           string
	Properties     map[string]any
}

type RelationshipCreateParams struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	SourceID   string
	TargetID   string
	Type       string
	Properties map[string]any
}

// Repository is the store surface for the per-job graph. Both insert methods
// skip rows whose deterministic id already exists (graph rows are immutable,
// re-resolution is a no-op); InsertEntities reports how many rows it actually
// wrote.
type Repository interface {
	InsertEntities(ctx context.Context, params []EntityCreateParams) (int, error)
	InsertRelationships(ctx context.Context, params []RelationshipCreateParams) error
	ListEntitiesByJob(ctx context.Context, jobID uuid.UUID) ([]Entity, error)
	ListEntitiesByCanonical(ctx context.Context, jobID uuid.UUID, canonical string) ([]Entity, error)
	ListRelationshipsByJob(ctx context.Context, jobID uuid.UUID) ([]Relationship, error)
	SearchEntities(ctx context.Context, jobID *uuid.UUID, query string, limit int) ([]Entity, error)
}
