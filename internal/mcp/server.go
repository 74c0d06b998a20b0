// Package mcp exposes read-only casewire data over the Model Context
// Protocol. Every tool is a query; ingestion and reprocessing stay with the
// CLI, so an MCP client can never mutate a case.
package mcp

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/casewire/casewire/internal/mcp/tools"
)

// Config holds identification for the MCP server handshake.
type Config struct {
	Name    string
	Version string
}

// Server wraps the MCP server with the casewire stores.
type Server struct {
	mcp *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers the query tools.
func NewServer(cfg Config, caseStore tools.CaseStore, graphStore tools.EntityStore) *Server {
	srv := mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("Read-only view of casewire case-file processing: job status, per-file artifacts, and entities extracted into the case graph."),
	)

	jobTools := tools.NewJobTools(caseStore)
	srv.AddTool(jobTools.GetJobStatusTool(), jobTools.GetJobStatusHandler)
	srv.AddTool(jobTools.ListArtifactsTool(), jobTools.ListArtifactsHandler)

	entityTools := tools.NewEntityTools(graphStore)
	srv.AddTool(entityTools.SearchEntitiesTool(), entityTools.SearchEntitiesHandler)

	return &Server{mcp: srv}
}

// MCPServer returns the underlying server for use with transports.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the context is cancelled.
// Anything the process logs must go to stderr; a stray line on stdout
// corrupts the protocol stream.
func (s *Server) ServeStdio(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := mcpserver.ServeStdio(s.mcp); err != nil {
			errCh <- fmt.Errorf("stdio server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
