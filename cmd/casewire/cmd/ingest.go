package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/config"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/ingest"
	"github.com/casewire/casewire/internal/jobs"
	"github.com/casewire/casewire/internal/storage/postgres"
)

var (
	ingestCase     string
	ingestOwner    string
	ingestParent   string
	ingestLanguage string
)

func newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Submit case files for processing",
		Long: `Submit a batch of case files. Each file is uploaded to the blob store
and queued on its file type's queue; a running serve process picks the
work up from there.

With --parent the files extend an existing job instead of opening a new
one, so late-arriving material lands in the same case graph.

Examples:
  # Open a new job for a case
  casewire ingest --case FIR-2024-0042 --owner insp.sharma seizure.pdf intercept.mp3

  # Add files to an existing job
  casewire ingest --parent 7d9c2f1a-4b7e-4f10-9c61-2f3a8f5f0b1c cdr_dump.csv

  # Declare the source language for the whole batch
  casewire ingest --case FIR-2024-0042 --owner insp.sharma --language hi statement.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().StringVar(&ingestCase, "case", "", "case number the files belong to")
	cmd.Flags().StringVar(&ingestOwner, "owner", "", "user id that owns the job")
	cmd.Flags().StringVar(&ingestParent, "parent", "", "job id to extend instead of opening a new job")
	cmd.Flags().StringVar(&ingestLanguage, "language", "", "declared source language for the batch (e.g. hi)")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	var parentID uuid.UUID
	if ingestParent != "" {
		id, err := uuid.Parse(ingestParent)
		if err != nil {
			return fmt.Errorf("invalid parent job id %q: %w", ingestParent, err)
		}
		parentID = id
	} else if ingestOwner == "" {
		return fmt.Errorf("--owner is required unless --parent is given")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)
	ctx := cmd.Context()

	files := make([]ingest.File, 0, len(args))
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		opened = append(opened, f)
		files = append(files, ingest.File{Name: filepath.Base(path), Content: f})
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
	blobs, err := blobstore.NewFS(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("blob store init failed: %w", err)
	}
	riverClient, err := jobs.NewInsertOnlyClient(pool)
	if err != nil {
		return fmt.Errorf("river client init failed: %w", err)
	}

	svc := ingest.NewService(repo.Cases(), blobs, jobs.NewEnqueuer(riverClient, pool, logger), logger)

	var job *cases.Job
	if ingestParent != "" {
		job, err = svc.ExtendCase(ctx, parentID, ingestLanguage, files)
	} else {
		job, err = svc.SubmitCase(ctx, ingest.SubmitRequest{
			OwnerID:    ingestOwner,
			CaseNumber: ingestCase,
			Language:   ingestLanguage,
			Files:      files,
		})
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ingestParent != "" {
		fmt.Fprintf(out, "job %s extended: %d file(s) total\n", job.ID, job.TotalFiles)
	} else {
		fmt.Fprintf(out, "job %s created for case %s: %d file(s) queued\n", job.ID, job.CaseNumber, job.TotalFiles)
	}
	fmt.Fprintf(out, "watch progress at /ws/jobs/%s\n", job.ID)
	return nil
}
