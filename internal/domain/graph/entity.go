package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Relationship types written by the resolver. CROSS_DOC_MATCH is synthetic
// bookkeeping linking same-canonical entities across documents of one job;
// everything else comes straight from extraction.
const RelCrossDocMatch = "CROSS_DOC_MATCH"

// Relationship types written by the CDR phone matcher.
const (
	RelCalled     = "CALLED"
	RelPhoneMatch = "PHONE_MATCH"
)

// Node labels and relationship types used only in the external graph store.
const (
	NodeUser     = "User"
	NodeDocument = "Document"
	NodeEntity   = "Entity"

	RelOwns           = "OWNS"
	RelContainsEntity = "CONTAINS_ENTITY"
	RelSharesEntity   = "SHARES_ENTITY"
)

// Entity is one extracted entity scoped to (job, document). Rows are immutable
// once written: re-processing a document regenerates the same IDs and inserts
// nothing new.
type Entity struct {
	ID             string
	JobID          uuid.UUID
	ArtifactID     uuid.UUID
	Label          string
	CanonicalLabel string
	Type           string
	Properties     map[string]any
	CreatedAt      time.Time
}

// Relationship is a directed edge between two entities of the same job.
type Relationship struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	SourceID   string
	TargetID   string
	Type       string
	Properties map[string]any
	CreatedAt  time.Time
}

// EntityID derives the deterministic entity identifier from
// (job, document, canonical label, per-document occurrence index). The hash
// keeps IDs opaque and fixed-width while staying stable across re-runs.
func EntityID(jobID, artifactID uuid.UUID, canonical string, occurrence int) string {
	sum := sha256.Sum256([]byte(jobID.String() + "|" + artifactID.String() + "|" + canonical + "|" + strconv.Itoa(occurrence)))
	return "ent_" + hex.EncodeToString(sum[:])[:32]
}

// RelationshipID derives a deterministic edge identifier (UUIDv5) so that
// re-processing a document regenerates the same rows and skips instead of
// duplicating. occurrence disambiguates repeated (source, target, type)
// triples within one payload.
func RelationshipID(jobID uuid.UUID, sourceID, targetID, relType string, occurrence int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID.String()+"|"+sourceID+"|"+targetID+"|"+relType+"|"+strconv.Itoa(occurrence)))
}

// DocumentNodeID is the graph-store node id for one artifact's Document node.
func DocumentNodeID(artifactID uuid.UUID) string {
	return "doc_" + artifactID.String()
}

// UserNodeID is the graph-store node id for a job owner.
func UserNodeID(ownerID string) string {
	return "user_" + ownerID
}
