package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casewire/casewire/internal/export"
	"github.com/casewire/casewire/internal/storage/postgres"
)

var exportOutput string

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export a job's case graph as JSON-LD",
		Long: `Export the entities and relationships of a job as a compacted JSON-LD
dataset. The export reflects whatever the graph holds at the time; a
job that is still processing yields a partial graph.

Examples:
  casewire export 7d9c2f1a-4b7e-4f10-9c61-2f3a8f5f0b1c > case.jsonld
  casewire export 7d9c2f1a-4b7e-4f10-9c61-2f3a8f5f0b1c --output case.jsonld`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}

	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
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

	exporter := export.NewExporter(repo.Cases(), repo.Graph())
	doc, err := exporter.ExportJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	data = append(data, '\n')

	if exportOutput != "" {
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOutput, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", exportOutput)
		return nil
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}
