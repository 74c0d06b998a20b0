package kg

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/casewire/casewire/internal/domain/graph"
	"github.com/casewire/casewire/internal/kg/graphdb"
	"github.com/casewire/casewire/internal/telemetry"
)

var tracer = telemetry.GetTracer("github.com/casewire/casewire/internal/kg")

// GraphMerger defines the external graph-store surface the sync layer writes
// through. Both merges are upserts, keyed on node id and on (type, from, to),
// so repeated syncs converge instead of duplicating.
type GraphMerger interface {
	MergeNode(ctx context.Context, label, id string, props map[string]any) error
	MergeEdge(ctx context.Context, relType, fromID, toID string, props map[string]any) error
}

// compile-time assertion: *graphdb.Client must satisfy GraphMerger.
var _ GraphMerger = (*graphdb.Client)(nil)

// DocumentSync is everything the graph store needs about one resolved
// document.
type DocumentSync struct {
	JobID      uuid.UUID
	OwnerID    string
	ArtifactID uuid.UUID
	Filename   string
	Resolution *Resolution
}

// Sync mirrors resolved documents into the external graph store. The store is
// a projection: Postgres stays the source of truth, and a failed sync is
// retried rather than unwound.
type Sync struct {
	merger GraphMerger
	logger zerolog.Logger
}

func NewSync(merger GraphMerger, logger zerolog.Logger) *Sync {
	return &Sync{
		merger: merger,
		logger: logger.With().Str("component", "graph_sync").Logger(),
	}
}

// SyncDocument pushes one document's slice of the case graph: the owner's
// User node, the Document node and its OWNS edge, every resolved entity with
// a CONTAINS_ENTITY edge, the extracted relationships, and SHARES_ENTITY
// edges to the other documents this one shares canonical labels with.
func (s *Sync) SyncDocument(ctx context.Context, doc DocumentSync) (err error) {
	ctx, span := tracer.Start(ctx, "kg.sync_document",
		trace.WithAttributes(
			attribute.String("job_id", doc.JobID.String()),
			attribute.String("artifact_id", doc.ArtifactID.String()),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync failed")
		}
		span.End()
	}()

	res := doc.Resolution
	if res == nil {
		res = &Resolution{}
	}
	userNode := graph.UserNodeID(doc.OwnerID)
	docNode := graph.DocumentNodeID(doc.ArtifactID)

	// 1. Owner and document skeleton.
	if err := s.merger.MergeNode(ctx, graph.NodeUser, userNode, map[string]any{
		"user_id": doc.OwnerID,
	}); err != nil {
		return fmt.Errorf("merge user node: %w", err)
	}
	if err := s.merger.MergeNode(ctx, graph.NodeDocument, docNode, map[string]any{
		"filename":    doc.Filename,
		"job_id":      doc.JobID.String(),
		"artifact_id": doc.ArtifactID.String(),
	}); err != nil {
		return fmt.Errorf("merge document node: %w", err)
	}
	if err := s.merger.MergeEdge(ctx, graph.RelOwns, userNode, docNode, nil); err != nil {
		return fmt.Errorf("merge owns edge: %w", err)
	}

	// 2. Entities and their containment edges.
	for _, e := range res.Entities {
		props := make(map[string]any, len(e.Properties)+3)
		for k, v := range e.Properties {
			props[k] = v
		}
		props["label"] = e.Label
		props["canonical_label"] = e.CanonicalLabel
		props["entity_type"] = e.Type
		if err := s.merger.MergeNode(ctx, graph.NodeEntity, e.ID, props); err != nil {
			return fmt.Errorf("merge entity node %s: %w", e.ID, err)
		}
		if err := s.merger.MergeEdge(ctx, graph.RelContainsEntity, docNode, e.ID, nil); err != nil {
			return fmt.Errorf("merge contains edge for %s: %w", e.ID, err)
		}
	}

	// 3. Extracted relationships.
	for _, rel := range res.Edges {
		if err := s.merger.MergeEdge(ctx, rel.Type, rel.SourceID, rel.TargetID, rel.Properties); err != nil {
			return fmt.Errorf("merge relationship %s: %w", rel.ID, err)
		}
	}

	// 4. Document-level sharing, derived from the cross-document links.
	shared := make(map[uuid.UUID][]string)
	var sharedOrder []uuid.UUID
	for _, link := range res.CrossDoc {
		if _, ok := shared[link.OtherArtifactID]; !ok {
			sharedOrder = append(sharedOrder, link.OtherArtifactID)
		}
		if !slices.Contains(shared[link.OtherArtifactID], link.Canonical) {
			shared[link.OtherArtifactID] = append(shared[link.OtherArtifactID], link.Canonical)
		}
	}
	for _, other := range sharedOrder {
		if err := s.merger.MergeEdge(ctx, graph.RelSharesEntity, docNode, graph.DocumentNodeID(other), map[string]any{
			"canonical_labels": shared[other],
		}); err != nil {
			return fmt.Errorf("merge shares edge: %w", err)
		}
	}

	s.logger.Debug().
		Str("job_id", doc.JobID.String()).
		Str("artifact_id", doc.ArtifactID.String()).
		Int("entities", len(res.Entities)).
		Int("relationships", len(res.Edges)).
		Int("shared_documents", len(sharedOrder)).
		Msg("document synced to graph store")

	return nil
}
