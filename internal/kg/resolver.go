package kg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/domain/graph"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/sanitize"
)

// GraphStore defines the slice of the graph repository the resolver needs;
// the postgres repository satisfies it.
type GraphStore interface {
	InsertEntities(ctx context.Context, params []graph.EntityCreateParams) (int, error)
	InsertRelationships(ctx context.Context, params []graph.RelationshipCreateParams) error
	ListEntitiesByCanonical(ctx context.Context, jobID uuid.UUID, canonical string) ([]graph.Entity, error)
}

// compile-time assertion: the full repository interface must satisfy GraphStore.
var _ GraphStore = graph.Repository(nil)

// CrossDocLink records that one of this document's entities shares a
// canonical label with an entity persisted earlier for another document of
// the same job. The sync layer turns these into SHARES_ENTITY edges between
// Document nodes.
type CrossDocLink struct {
	EntityID        string
	OtherEntityID   string
	OtherArtifactID uuid.UUID
	Canonical       string
}

// Resolution is everything one Resolve call persisted, returned so the graph
// sync can mirror it without re-reading the store.
type Resolution struct {
	Entities []graph.EntityCreateParams
	Edges    []graph.RelationshipCreateParams
	CrossDoc []CrossDocLink

	EntitiesInserted int
	SkippedNodes     int
	DroppedEdges     int
}

// Resolver turns extraction payloads into persisted case-scoped entities and
// relationships. Every ID it writes is deterministic, so re-resolving the
// same document regenerates identical rows and the store skips them.
type Resolver struct {
	store  GraphStore
	logger zerolog.Logger
}

func NewResolver(store GraphStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With().Str("component", "graph_resolver").Logger(),
	}
}

// Resolve canonicalizes the payload's nodes into entities, remaps its edges
// from doc-local ids to entity IDs, persists both, and links this document's
// entities to same-canonical entities of other documents in the job via
// CROSS_DOC_MATCH. Cross-document links never leave the job and never connect
// two entities of the same document.
func (r *Resolver) Resolve(ctx context.Context, jobID, artifactID uuid.UUID, payload *ml.GraphPayload) (*Resolution, error) {
	res := &Resolution{}
	if payload == nil {
		return res, nil
	}

	// 1. Canonicalize nodes into entities with deterministic IDs. The
	// occurrence index counts repeats of one canonical label within this
	// document, so two distinct "John Smith" nodes stay two entities.
	localToEntity := make(map[string]string, len(payload.Nodes))
	occurrences := make(map[string]int)
	canonicalOrder := make([]string, 0, len(payload.Nodes))
	oursByCanonical := make(map[string][]string)
	for _, node := range payload.Nodes {
		if _, dup := localToEntity[node.ID]; dup {
			r.logger.Warn().
				Str("artifact_id", artifactID.String()).
				Str("local_id", node.ID).
				Msg("dropping node with duplicate local id")
			res.SkippedNodes++
			continue
		}
		label := sanitize.Text(node.Label)
		canonical := Canonical(label)
		if canonical == "" {
			r.logger.Warn().
				Str("artifact_id", artifactID.String()).
				Str("local_id", node.ID).
				Str("label", node.Label).
				Msg("dropping node with empty canonical label")
			res.SkippedNodes++
			continue
		}
		if occurrences[canonical] == 0 {
			canonicalOrder = append(canonicalOrder, canonical)
		}
		occ := occurrences[canonical]
		occurrences[canonical]++

		entityID := graph.EntityID(jobID, artifactID, canonical, occ)
		localToEntity[node.ID] = entityID
		oursByCanonical[canonical] = append(oursByCanonical[canonical], entityID)
		res.Entities = append(res.Entities, graph.EntityCreateParams{
			ID:             entityID,
			JobID:          jobID,
			ArtifactID:     artifactID,
			Label:          label,
			CanonicalLabel: canonical,
			Type:           node.Type,
			Properties:     node.Properties,
		})
	}

	// 2. Remap edges onto entity IDs. An edge naming a local id that never
	// resolved to an entity is dropped, not failed: one bad edge must not
	// sink the document.
	type edgeKey struct {
		source, target, relType string
	}
	edgeSeen := make(map[edgeKey]int)
	for _, edge := range payload.Edges {
		sourceID, okSource := localToEntity[edge.Source]
		targetID, okTarget := localToEntity[edge.Target]
		if !okSource || !okTarget {
			r.logger.Warn().
				Str("artifact_id", artifactID.String()).
				Str("source", edge.Source).
				Str("target", edge.Target).
				Str("type", edge.Type).
				Msg("dropping edge referencing unknown node")
			res.DroppedEdges++
			continue
		}
		key := edgeKey{source: sourceID, target: targetID, relType: edge.Type}
		occ := edgeSeen[key]
		edgeSeen[key]++
		res.Edges = append(res.Edges, graph.RelationshipCreateParams{
			ID:         graph.RelationshipID(jobID, sourceID, targetID, edge.Type, occ),
			JobID:      jobID,
			SourceID:   sourceID,
			TargetID:   targetID,
			Type:       edge.Type,
			Properties: edge.Properties,
		})
	}

	// 3. Persist entities before anything references them.
	if len(res.Entities) > 0 {
		inserted, err := r.store.InsertEntities(ctx, res.Entities)
		if err != nil {
			return nil, fmt.Errorf("insert entities: %w", err)
		}
		res.EntitiesInserted = inserted
	}

	// 4. Link against other documents of the job that already persisted an
	// entity with the same canonical label. Two documents resolving at the
	// same instant can each miss the other's rows; deterministic IDs make a
	// re-run converge on the same links.
	crossDoc := make([]graph.RelationshipCreateParams, 0)
	for _, canonical := range canonicalOrder {
		others, err := r.store.ListEntitiesByCanonical(ctx, jobID, canonical)
		if err != nil {
			return nil, fmt.Errorf("list entities for canonical %q: %w", canonical, err)
		}
		for _, ourID := range oursByCanonical[canonical] {
			for _, other := range others {
				if other.ArtifactID == artifactID {
					continue
				}
				crossDoc = append(crossDoc, graph.RelationshipCreateParams{
					ID:         graph.RelationshipID(jobID, ourID, other.ID, graph.RelCrossDocMatch, 0),
					JobID:      jobID,
					SourceID:   ourID,
					TargetID:   other.ID,
					Type:       graph.RelCrossDocMatch,
					Properties: map[string]any{"canonical_label": canonical},
				})
				res.CrossDoc = append(res.CrossDoc, CrossDocLink{
					EntityID:        ourID,
					OtherEntityID:   other.ID,
					OtherArtifactID: other.ArtifactID,
					Canonical:       canonical,
				})
			}
		}
	}

	// 5. Persist resolved edges and cross-document links together.
	all := make([]graph.RelationshipCreateParams, 0, len(res.Edges)+len(crossDoc))
	all = append(all, res.Edges...)
	all = append(all, crossDoc...)
	if len(all) > 0 {
		if err := r.store.InsertRelationships(ctx, all); err != nil {
			return nil, fmt.Errorf("insert relationships: %w", err)
		}
	}

	r.logger.Debug().
		Str("job_id", jobID.String()).
		Str("artifact_id", artifactID.String()).
		Int("entities", len(res.Entities)).
		Int("edges", len(res.Edges)).
		Int("cross_doc_links", len(res.CrossDoc)).
		Int("skipped_nodes", res.SkippedNodes).
		Int("dropped_edges", res.DroppedEdges).
		Msg("graph payload resolved")

	return res, nil
}
