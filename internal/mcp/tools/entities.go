package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/casewire/casewire/internal/domain/graph"
)

const (
	defaultEntityLimit = 20
	maxEntityLimit     = 200
)

// EntityStore is the slice of the graph repository the entity tools read
// from. graph.Repository satisfies it.
type EntityStore interface {
	SearchEntities(ctx context.Context, jobID *uuid.UUID, query string, limit int) ([]graph.Entity, error)
}

// EntityTools provides MCP tools for querying the case graph.
type EntityTools struct {
	store EntityStore
}

func NewEntityTools(store EntityStore) *EntityTools {
	return &EntityTools{store: store}
}

// SearchEntitiesTool returns the MCP tool definition for search_entities.
func (t *EntityTools) SearchEntitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_entities",
		Description: "Search entities extracted from case files by name. Matches both the raw surface form and the canonical label; optionally scoped to one job.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Name fragment to search for",
				},
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional job UUID to scope the search to",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of entities to return (default: 20, max: 200)",
					"default":     defaultEntityLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// SearchEntitiesHandler handles the search_entities tool call.
func (t *EntityTools) SearchEntitiesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t == nil || t.store == nil {
		return mcp.NewToolResultError("entity store not configured"), nil
	}

	args := struct {
		Query string `json:"query"`
		JobID string `json:"job_id"`
		Limit int    `json:"limit"`
	}{
		Limit: defaultEntityLimit,
	}

	if request.Params.Arguments != nil {
		data, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
		}
		if err := json.Unmarshal(data, &args); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
		}
	}

	query := strings.TrimSpace(args.Query)
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	var jobID *uuid.UUID
	if strings.TrimSpace(args.JobID) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(args.JobID))
		if err != nil {
			return mcp.NewToolResultErrorFromErr("invalid job_id", err), nil
		}
		jobID = &parsed
	}

	entities, err := t.store.SearchEntities(ctx, jobID, query, normalizeEntityLimit(args.Limit))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to search entities", err), nil
	}

	items := make([]map[string]any, 0, len(entities))
	for _, entity := range entities {
		item := map[string]any{
			"id":              entity.ID,
			"job_id":          entity.JobID.String(),
			"artifact_id":     entity.ArtifactID.String(),
			"label":           entity.Label,
			"canonical_label": entity.CanonicalLabel,
			"type":            entity.Type,
		}
		if len(entity.Properties) > 0 {
			item["properties"] = entity.Properties
		}
		items = append(items, item)
	}

	return toolResultJSON(map[string]any{
		"items": items,
		"count": len(items),
	})
}

func normalizeEntityLimit(limit int) int {
	if limit <= 0 {
		return defaultEntityLimit
	}
	if limit > maxEntityLimit {
		return maxEntityLimit
	}
	return limit
}
