package kg

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casewire/casewire/internal/domain/graph"
	"github.com/casewire/casewire/internal/ml"
)

// fakeGraphStore is an in-memory GraphStore with the same skip-existing
// semantics as the postgres repository.
type fakeGraphStore struct {
	entities      map[string]graph.Entity
	order         []string
	relationships []graph.RelationshipCreateParams
	insertErr     error
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{entities: make(map[string]graph.Entity)}
}

func (f *fakeGraphStore) InsertEntities(_ context.Context, params []graph.EntityCreateParams) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	inserted := 0
	for _, p := range params {
		if _, ok := f.entities[p.ID]; ok {
			continue
		}
		f.entities[p.ID] = graph.Entity{
			ID:             p.ID,
			JobID:          p.JobID,
			ArtifactID:     p.ArtifactID,
			Label:          p.Label,
			CanonicalLabel: p.CanonicalLabel,
			Type:           p.Type,
			Properties:     p.Properties,
		}
		f.order = append(f.order, p.ID)
		inserted++
	}
	return inserted, nil
}

func (f *fakeGraphStore) InsertRelationships(_ context.Context, params []graph.RelationshipCreateParams) error {
	seen := make(map[uuid.UUID]bool, len(f.relationships))
	for _, r := range f.relationships {
		seen[r.ID] = true
	}
	for _, p := range params {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		f.relationships = append(f.relationships, p)
	}
	return nil
}

func (f *fakeGraphStore) ListEntitiesByCanonical(_ context.Context, jobID uuid.UUID, canonical string) ([]graph.Entity, error) {
	var out []graph.Entity
	for _, id := range f.order {
		e := f.entities[id]
		if e.JobID == jobID && e.CanonicalLabel == canonical {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestResolve_SingleDocument(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())
	jobID := uuid.New()
	artifactID := uuid.New()

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "Lawrence Bishnoi", Type: "PERSON"},
			{ID: "n2", Label: "Delhi", Type: "LOCATION"},
			{ID: "n3", Label: "+91 98765 43210", Type: "PHONE", Properties: map[string]any{"country": "IN"}},
		},
		Edges: []ml.GraphEdge{
			{Source: "n1", Target: "n2", Type: "LOCATED_IN"},
			{Source: "n1", Target: "n3", Type: "USES_PHONE", Properties: map[string]any{"since": "2023"}},
		},
	}

	res, err := resolver.Resolve(context.Background(), jobID, artifactID, payload)
	require.NoError(t, err)

	require.Len(t, res.Entities, 3)
	assert.Equal(t, 3, res.EntitiesInserted)
	assert.Equal(t, 0, res.SkippedNodes)
	assert.Equal(t, 0, res.DroppedEdges)
	assert.Empty(t, res.CrossDoc)

	assert.Equal(t, "lawrence-bishnoi", res.Entities[0].CanonicalLabel)
	assert.Equal(t, "delhi", res.Entities[1].CanonicalLabel)
	assert.Equal(t, "91-98765-43210", res.Entities[2].CanonicalLabel)
	assert.Equal(t, graph.EntityID(jobID, artifactID, "lawrence-bishnoi", 0), res.Entities[0].ID)
	assert.Equal(t, "Lawrence Bishnoi", res.Entities[0].Label)
	assert.Equal(t, "PERSON", res.Entities[0].Type)
	assert.Equal(t, map[string]any{"country": "IN"}, res.Entities[2].Properties)

	require.Len(t, res.Edges, 2)
	assert.Equal(t, res.Entities[0].ID, res.Edges[0].SourceID)
	assert.Equal(t, res.Entities[1].ID, res.Edges[0].TargetID)
	assert.Equal(t, "LOCATED_IN", res.Edges[0].Type)
	assert.Equal(t, map[string]any{"since": "2023"}, res.Edges[1].Properties)

	assert.Len(t, store.entities, 3)
	assert.Len(t, store.relationships, 2)
}

func TestResolve_OccurrenceIndexing(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())
	jobID := uuid.New()
	artifactID := uuid.New()

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "John Smith", Type: "PERSON"},
			{ID: "n2", Label: "john  smith!!", Type: "PERSON"},
		},
		Edges: []ml.GraphEdge{},
	}

	res, err := resolver.Resolve(context.Background(), jobID, artifactID, payload)
	require.NoError(t, err)

	require.Len(t, res.Entities, 2)
	assert.Equal(t, graph.EntityID(jobID, artifactID, "john-smith", 0), res.Entities[0].ID)
	assert.Equal(t, graph.EntityID(jobID, artifactID, "john-smith", 1), res.Entities[1].ID)
	assert.NotEqual(t, res.Entities[0].ID, res.Entities[1].ID)
}

func TestResolve_DropsEdgeWithUnknownNode(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "Ravi Kumar", Type: "PERSON"},
		},
		Edges: []ml.GraphEdge{
			{Source: "n1", Target: "n9", Type: "KNOWS"},
		},
	}

	res, err := resolver.Resolve(context.Background(), uuid.New(), uuid.New(), payload)
	require.NoError(t, err)

	assert.Empty(t, res.Edges)
	assert.Equal(t, 1, res.DroppedEdges)
	assert.Empty(t, store.relationships)
}

func TestResolve_SkipsNodesWithoutCanonicalLabel(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "!!!", Type: "OTHER"},
			{ID: "n2", Label: "Mumbai", Type: "LOCATION"},
		},
		Edges: []ml.GraphEdge{
			{Source: "n1", Target: "n2", Type: "NEAR"},
		},
	}

	res, err := resolver.Resolve(context.Background(), uuid.New(), uuid.New(), payload)
	require.NoError(t, err)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "mumbai", res.Entities[0].CanonicalLabel)
	assert.Equal(t, 1, res.SkippedNodes)
	// The edge referenced the skipped node, so it drops too.
	assert.Equal(t, 1, res.DroppedEdges)
	assert.Empty(t, res.Edges)
}

func TestResolve_SkipsDuplicateLocalIDs(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "Arjun Mehta", Type: "PERSON"},
			{ID: "n1", Label: "Someone Else", Type: "PERSON"},
		},
	}

	res, err := resolver.Resolve(context.Background(), uuid.New(), uuid.New(), payload)
	require.NoError(t, err)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "Arjun Mehta", res.Entities[0].Label)
	assert.Equal(t, 1, res.SkippedNodes)
}

func TestResolve_CrossDocumentLinking(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())
	jobID := uuid.New()
	artifactA := uuid.New()
	artifactB := uuid.New()

	docA := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "Lawrence Bishnoi", Type: "PERSON"},
		},
	}
	resA, err := resolver.Resolve(context.Background(), jobID, artifactA, docA)
	require.NoError(t, err)
	assert.Empty(t, resA.CrossDoc, "first document has nothing to link against")

	docB := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "LAWRENCE  BISHNOI", Type: "PERSON"},
			{ID: "n2", Label: "Delhi", Type: "LOCATION"},
		},
	}
	resB, err := resolver.Resolve(context.Background(), jobID, artifactB, docB)
	require.NoError(t, err)

	require.Len(t, resB.CrossDoc, 1)
	link := resB.CrossDoc[0]
	assert.Equal(t, resB.Entities[0].ID, link.EntityID)
	assert.Equal(t, resA.Entities[0].ID, link.OtherEntityID)
	assert.Equal(t, artifactA, link.OtherArtifactID)
	assert.Equal(t, "lawrence-bishnoi", link.Canonical)

	var crossDoc []graph.RelationshipCreateParams
	for _, rel := range store.relationships {
		if rel.Type == graph.RelCrossDocMatch {
			crossDoc = append(crossDoc, rel)
		}
	}
	require.Len(t, crossDoc, 1)
	assert.Equal(t, resB.Entities[0].ID, crossDoc[0].SourceID)
	assert.Equal(t, resA.Entities[0].ID, crossDoc[0].TargetID)
	assert.Equal(t, map[string]any{"canonical_label": "lawrence-bishnoi"}, crossDoc[0].Properties)
}

func TestResolve_RerunInsertsNothing(t *testing.T) {
	store := newFakeGraphStore()
	resolver := NewResolver(store, zerolog.Nop())
	jobID := uuid.New()
	artifactID := uuid.New()

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{
			{ID: "n1", Label: "Lawrence Bishnoi", Type: "PERSON"},
			{ID: "n2", Label: "Delhi", Type: "LOCATION"},
		},
		Edges: []ml.GraphEdge{
			{Source: "n1", Target: "n2", Type: "LOCATED_IN"},
		},
	}

	first, err := resolver.Resolve(context.Background(), jobID, artifactID, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, first.EntitiesInserted)

	second, err := resolver.Resolve(context.Background(), jobID, artifactID, payload)
	require.NoError(t, err)
	assert.Equal(t, 0, second.EntitiesInserted)
	assert.Empty(t, second.CrossDoc, "a document never cross-links to itself")

	assert.Len(t, store.entities, 2)
	assert.Len(t, store.relationships, 1)
}

func TestResolve_NilPayload(t *testing.T) {
	resolver := NewResolver(newFakeGraphStore(), zerolog.Nop())

	res, err := resolver.Resolve(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
	assert.Empty(t, res.Edges)
}

func TestResolve_InsertErrorPropagates(t *testing.T) {
	store := newFakeGraphStore()
	store.insertErr = errors.New("connection reset")
	resolver := NewResolver(store, zerolog.Nop())

	payload := &ml.GraphPayload{
		Nodes: []ml.GraphNode{{ID: "n1", Label: "Ravi Kumar", Type: "PERSON"}},
	}

	_, err := resolver.Resolve(context.Background(), uuid.New(), uuid.New(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert entities")
}
