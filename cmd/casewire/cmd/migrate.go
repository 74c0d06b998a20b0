package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/casewire/casewire/internal/storage/postgres"
)

var (
	migrationsPath string
	migrateSteps   int
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the casewire schema and river's queue schema to the database.

migrate up applies both in order. migrate down rolls back casewire
migrations only; river's tables stay.

Examples:
  casewire migrate up
  casewire migrate down --steps 1`,
	}

	cmd.PersistentFlags().StringVar(&migrationsPath, "migrations", postgres.DefaultMigrationsPath, "path to the migrations directory")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations and river's schema",
		RunE:  runMigrateUp,
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back casewire migrations",
		RunE:  runMigrateDown,
	}
	down.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema migrations applied")

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := postgres.MigrateRiver(ctx, pool); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "river migrations applied")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := postgres.MigrateDown(cfg.Database.URL, migrationsPath, migrateSteps); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", migrateSteps)
	return nil
}
