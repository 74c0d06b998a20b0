// Package status carries per-artifact progress events from the workers to
// websocket subscribers. Postgres NOTIFY is the transport, so any worker
// process can publish and only the serve process needs a listener. Delivery
// is best-effort; the artifact row remains the source of truth.
package status

import (
	"time"

	"github.com/google/uuid"

	"github.com/casewire/casewire/internal/domain/cases"
)

// EventTypeArtifactStatus is the only event type on the feed today.
const EventTypeArtifactStatus = "artifact_status"

// maxErrorLen bounds the error text carried on the wire. NOTIFY payloads cap
// at 8000 bytes; the full provider error stays on the artifact row.
const maxErrorLen = 500

// Event is one artifact status snapshot as pushed to subscribers. Stage keys
// in ProcessingStages keep execution order on the wire.
type Event struct {
	Type             string               `json:"type"`
	JobID            uuid.UUID            `json:"job_id"`
	Filename         string               `json:"filename"`
	Status           cases.ArtifactStatus `json:"status"`
	CurrentStage     string               `json:"current_stage"`
	ProcessingStages cases.StageTimings   `json:"processing_stages"`
	ProgressPercent  int                  `json:"progress_percent"`
	ErrorMessage     *string              `json:"error_message"`
	Timestamp        time.Time            `json:"timestamp"`
}

// FromArtifact builds the event for an artifact's current state. Progress is
// computed by the caller so this package stays clear of the pipeline's weight
// tables.
func FromArtifact(a *cases.Artifact, progress int) Event {
	event := Event{
		Type:             EventTypeArtifactStatus,
		JobID:            a.JobID,
		Filename:         a.Filename,
		Status:           a.Status,
		CurrentStage:     a.CurrentStage,
		ProcessingStages: a.Stages,
		ProgressPercent:  progress,
		Timestamp:        time.Now().UTC(),
	}
	if a.ErrorMessage != "" {
		msg := truncate(a.ErrorMessage, maxErrorLen)
		event.ErrorMessage = &msg
	}
	return event
}

// truncate cuts on rune boundaries; error text is often not ASCII here.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
