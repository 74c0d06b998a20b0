package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/casewire/casewire/internal/domain/cases"
)

// CaseStore is the slice of the case repository the job tools read from.
// cases.Repository satisfies it.
type CaseStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*cases.Job, error)
	ListArtifactsByJob(ctx context.Context, jobID uuid.UUID) ([]cases.Artifact, error)
	CountArtifactsByStatus(ctx context.Context, jobID uuid.UUID) (cases.StatusCounts, error)
}

// JobTools provides MCP tools for inspecting jobs and their artifacts.
type JobTools struct {
	store CaseStore
}

func NewJobTools(store CaseStore) *JobTools {
	return &JobTools{store: store}
}

// GetJobStatusTool returns the MCP tool definition for get_job_status.
func (t *JobTools) GetJobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_job_status",
		Description: "Get the processing status of an ingestion job: overall state, file counts, and per-status artifact totals.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "The UUID of the job to inspect",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// GetJobStatusHandler handles the get_job_status tool call.
func (t *JobTools) GetJobStatusHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t == nil || t.store == nil {
		return mcp.NewToolResultError("case store not configured"), nil
	}

	jobID, result := parseJobID(request)
	if result != nil {
		return result, nil
	}

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, cases.ErrJobNotFound) {
			return mcp.NewToolResultError("job not found: " + jobID.String()), nil
		}
		return mcp.NewToolResultErrorFromErr("failed to load job", err), nil
	}

	counts, err := t.store.CountArtifactsByStatus(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to count artifacts", err), nil
	}

	progress := 0
	if job.TotalFiles > 0 {
		progress = counts.Terminal() * 100 / job.TotalFiles
	}

	response := map[string]any{
		"id":               job.ID.String(),
		"case_number":      job.CaseNumber,
		"status":           job.Status,
		"owner_id":         job.OwnerID,
		"total_files":      job.TotalFiles,
		"processed_files":  job.ProcessedFiles,
		"progress_percent": progress,
		"artifacts": map[string]int{
			"processing": counts.Processing,
			"completed":  counts.Completed,
			"failed":     counts.Failed,
		},
		"created_at": job.CreatedAt.Format(time.RFC3339),
		"updated_at": job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ParentJobID != nil {
		response["parent_job_id"] = job.ParentJobID.String()
	}
	if job.CompletedAt != nil {
		response["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}

	return toolResultJSON(response)
}

// ListArtifactsTool returns the MCP tool definition for list_artifacts.
func (t *JobTools) ListArtifactsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_artifacts",
		Description: "List every file of an ingestion job with its pipeline state: status, current stage, detected language, stage timings, and derived output paths.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "The UUID of the job whose artifacts to list",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// ListArtifactsHandler handles the list_artifacts tool call.
func (t *JobTools) ListArtifactsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t == nil || t.store == nil {
		return mcp.NewToolResultError("case store not configured"), nil
	}

	jobID, result := parseJobID(request)
	if result != nil {
		return result, nil
	}

	artifacts, err := t.store.ListArtifactsByJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to list artifacts", err), nil
	}

	items := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		items = append(items, buildArtifactItem(artifact))
	}

	return toolResultJSON(map[string]any{
		"job_id": jobID.String(),
		"items":  items,
		"count":  len(items),
	})
}

func buildArtifactItem(artifact cases.Artifact) map[string]any {
	item := map[string]any{
		"id":            artifact.ID.String(),
		"filename":      artifact.Filename,
		"file_type":     artifact.FileType,
		"status":        artifact.Status,
		"current_stage": artifact.CurrentStage,
		"created_at":    artifact.CreatedAt.Format(time.RFC3339),
		"updated_at":    artifact.UpdatedAt.Format(time.RFC3339),
	}
	if artifact.DetectedLanguage != "" {
		item["detected_language"] = artifact.DetectedLanguage
	}
	if len(artifact.Stages) > 0 {
		item["stages"] = artifact.Stages
	}
	if artifact.ErrorMessage != "" {
		item["error"] = artifact.ErrorMessage
	}

	outputs := map[string]string{}
	if artifact.ExtractedPath != "" {
		outputs["extracted"] = artifact.ExtractedPath
	}
	if artifact.TranscriptPath != "" {
		outputs["transcript"] = artifact.TranscriptPath
	}
	if artifact.TranslatedPath != "" {
		outputs["translated"] = artifact.TranslatedPath
	}
	if artifact.SummaryPath != "" {
		outputs["summary"] = artifact.SummaryPath
	}
	if len(outputs) > 0 {
		item["outputs"] = outputs
	}
	return item
}

// parseJobID pulls the required job_id argument out of a tool request. The
// second return value is non-nil when the argument is missing or malformed and
// already carries the client-facing error.
func parseJobID(request mcp.CallToolRequest) (uuid.UUID, *mcp.CallToolResult) {
	args := struct {
		JobID string `json:"job_id"`
	}{}

	if request.Params.Arguments != nil {
		data, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return uuid.Nil, mcp.NewToolResultErrorFromErr("invalid arguments", err)
		}
		if err := json.Unmarshal(data, &args); err != nil {
			return uuid.Nil, mcp.NewToolResultErrorFromErr("invalid arguments", err)
		}
	}

	if args.JobID == "" {
		return uuid.Nil, mcp.NewToolResultError("job_id parameter is required")
	}
	jobID, err := uuid.Parse(args.JobID)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultErrorFromErr("invalid job_id", err)
	}
	return jobID, nil
}
