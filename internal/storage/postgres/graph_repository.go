package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/casewire/casewire/internal/domain/graph"
)

var _ graph.Repository = (*GraphRepository)(nil)

const entityColumns = `id, job_id, artifact_id, label, canonical_label, entity_type, properties, created_at`

const relationshipColumns = `id, job_id, source_id, target_id, rel_type, properties, created_at`

// InsertEntities writes entity rows, skipping any whose deterministic id is
// already present. Returns the number of rows actually written.
func (r *GraphRepository) InsertEntities(ctx context.Context, params []graph.EntityCreateParams) (int, error) {
	q := r.queryer()

	inserted := 0
	for _, p := range params {
		tag, err := q.Exec(ctx, `
INSERT INTO graph_entities (id, job_id, artifact_id, label, canonical_label, entity_type, properties)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING
`,
			p.ID,
			p.JobID,
			p.ArtifactID,
			p.Label,
			p.CanonicalLabel,
			p.Type,
			propertiesOrEmpty(p.Properties),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert entity %s: %w", p.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *GraphRepository) InsertRelationships(ctx context.Context, params []graph.RelationshipCreateParams) error {
	q := r.queryer()

	for _, p := range params {
		_, err := q.Exec(ctx, `
INSERT INTO graph_relationships (id, job_id, source_id, target_id, rel_type, properties)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`,
			p.ID,
			p.JobID,
			p.SourceID,
			p.TargetID,
			p.Type,
			propertiesOrEmpty(p.Properties),
		)
		if err != nil {
			return fmt.Errorf("insert relationship %s: %w", p.ID, err)
		}
	}
	return nil
}

func (r *GraphRepository) ListEntitiesByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Entity, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+entityColumns+`
  FROM graph_entities
 WHERE job_id = $1
 ORDER BY created_at ASC, id ASC
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list entities by job: %w", err)
	}
	return collectEntities(rows)
}

func (r *GraphRepository) ListEntitiesByCanonical(ctx context.Context, jobID uuid.UUID, canonical string) ([]graph.Entity, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+entityColumns+`
  FROM graph_entities
 WHERE job_id = $1
   AND canonical_label = $2
 ORDER BY created_at ASC, id ASC
`, jobID, canonical)
	if err != nil {
		return nil, fmt.Errorf("list entities by canonical: %w", err)
	}
	return collectEntities(rows)
}

func (r *GraphRepository) ListRelationshipsByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Relationship, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+relationshipColumns+`
  FROM graph_relationships
 WHERE job_id = $1
 ORDER BY created_at ASC, id ASC
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list relationships by job: %w", err)
	}
	defer rows.Close()

	var relationships []graph.Relationship
	for rows.Next() {
		var rel graph.Relationship
		if err := rows.Scan(
			&rel.ID,
			&rel.JobID,
			&rel.SourceID,
			&rel.TargetID,
			&rel.Type,
			&rel.Properties,
			&rel.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		relationships = append(relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return relationships, nil
}

// SearchEntities matches the query against surface and canonical labels. A nil
// jobID searches across all jobs.
func (r *GraphRepository) SearchEntities(ctx context.Context, jobID *uuid.UUID, query string, limit int) ([]graph.Entity, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.queryer().Query(ctx, `
SELECT `+entityColumns+`
  FROM graph_entities
 WHERE ($1::uuid IS NULL OR job_id = $1)
   AND ($2 = '' OR label ILIKE '%' || $2 || '%' OR canonical_label ILIKE '%' || $2 || '%')
 ORDER BY canonical_label ASC, created_at ASC
 LIMIT $3
`, jobID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	return collectEntities(rows)
}

func collectEntities(rows pgx.Rows) ([]graph.Entity, error) {
	defer rows.Close()

	var entities []graph.Entity
	for rows.Next() {
		var entity graph.Entity
		if err := rows.Scan(
			&entity.ID,
			&entity.JobID,
			&entity.ArtifactID,
			&entity.Label,
			&entity.CanonicalLabel,
			&entity.Type,
			&entity.Properties,
			&entity.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

// propertiesOrEmpty keeps the jsonb column NOT NULL; a nil map would encode as
// SQL NULL.
func propertiesOrEmpty(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
