// Package export renders persisted case graphs as interchange documents.
package export

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/piprate/json-gold/ld"

	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/graph"
)

var ErrInvalidDocument = errors.New("invalid JSON-LD document")

// exportContext is the fixed compaction context: schema.org vocabulary for
// entity content, a cw: prefix for the graph bookkeeping terms schema.org
// has no word for.
//
//go:embed context.jsonld
var contextJSON []byte

var exportContext = mustParseContext()

func mustParseContext() any {
	var doc map[string]any
	if err := json.Unmarshal(contextJSON, &doc); err != nil {
		panic(fmt.Sprintf("export: parse embedded context: %v", err))
	}
	ctx, ok := doc["@context"]
	if !ok {
		panic("export: embedded context has no @context key")
	}
	return ctx
}

// schemaTypes maps extraction entity types onto schema.org types. Anything
// unknown exports as Thing.
var schemaTypes = map[string]string{
	"PERSON":       "Person",
	"ORGANIZATION": "Organization",
	"LOCATION":     "Place",
	"PHONE":        "ContactPoint",
	"VEHICLE":      "Vehicle",
	"EVENT":        "Event",
}

func schemaType(entityType string) string {
	if t, ok := schemaTypes[entityType]; ok {
		return t
	}
	return "Thing"
}

// JobStore defines the job lookup the exporter needs.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*cases.Job, error)
}

// GraphStore defines the graph reads the exporter needs.
type GraphStore interface {
	ListEntitiesByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Entity, error)
	ListRelationshipsByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Relationship, error)
}

// Exporter renders a job's persisted graph as a compacted JSON-LD document.
type Exporter struct {
	jobs  JobStore
	graph GraphStore
}

func NewExporter(jobs JobStore, graph GraphStore) *Exporter {
	return &Exporter{jobs: jobs, graph: graph}
}

// ExportJob loads the job's entities and relationships and compacts them into
// one Dataset document. The output is an interchange format: consumers get
// IRIs and schema.org types, not casewire internals.
func (e *Exporter) ExportJob(ctx context.Context, jobID uuid.UUID) (map[string]any, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	entities, err := e.graph.ListEntitiesByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	relationships, err := e.graph.ListRelationshipsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	entityDocs := make([]any, 0, len(entities))
	for _, ent := range entities {
		entityDocs = append(entityDocs, entityDoc(ent))
	}
	relationshipDocs := make([]any, 0, len(relationships))
	for _, rel := range relationships {
		relationshipDocs = append(relationshipDocs, relationshipDoc(rel))
	}

	document := map[string]any{
		"@context":      exportContext,
		"@id":           jobIRI(job.ID),
		"@type":         "Dataset",
		"name":          "Case graph for " + job.CaseNumber,
		"caseNumber":    job.CaseNumber,
		"dateCreated":   job.CreatedAt.UTC().Format(time.RFC3339),
		"entities":      entityDocs,
		"relationships": relationshipDocs,
	}

	processor := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.CompactArrays = true

	result, err := processor.Compact(document, exportContext, opts)
	if err != nil {
		return nil, fmt.Errorf("compact document: %w", err)
	}
	compacted, ok := any(result).(map[string]any)
	if !ok {
		return nil, ErrInvalidDocument
	}
	return compacted, nil
}

func entityDoc(e graph.Entity) map[string]any {
	doc := map[string]any{
		"@id":            entityIRI(e.ID),
		"@type":          schemaType(e.Type),
		"name":           e.Label,
		"canonicalLabel": e.CanonicalLabel,
		"entityType":     e.Type,
	}
	if e.Type == "PHONE" {
		doc["telephone"] = e.Label
	}
	if len(e.Properties) > 0 {
		doc["properties"] = e.Properties
	}
	return doc
}

func relationshipDoc(r graph.Relationship) map[string]any {
	doc := map[string]any{
		"@id":              relationshipIRI(r.ID),
		"@type":            "cw:Relationship",
		"relationshipType": r.Type,
		"source":           entityIRI(r.SourceID),
		"target":           entityIRI(r.TargetID),
	}
	if len(r.Properties) > 0 {
		doc["properties"] = r.Properties
	}
	return doc
}

func jobIRI(id uuid.UUID) string { return "urn:casewire:job:" + id.String() }

func entityIRI(id string) string { return "urn:casewire:entity:" + id }

func relationshipIRI(id uuid.UUID) string { return "urn:casewire:relationship:" + id.String() }
