package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/casewire/casewire/internal/mcp"
	"github.com/casewire/casewire/internal/storage/postgres"
)

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only MCP tools over stdio",
		Long: `Serve Model Context Protocol tools over stdio.

The tools are read only: get_job_status, list_artifacts, and
search_entities. Stdout carries the protocol stream, so every log line
goes to stderr regardless of the logging configuration.

Example client entry:
  {"command": "casewire", "args": ["mcp"]}`,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		logger = logger.Level(level)
	}

	pool, err := newPool(cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init failed: %w", err)
	}

	srv := mcp.NewServer(mcp.Config{Name: "casewire", Version: Version}, repo.Cases(), repo.Graph())
	logger.Info().Str("version", Version).Msg("mcp server listening on stdio")
	return srv.ServeStdio(cmd.Context())
}
