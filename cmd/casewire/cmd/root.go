package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

// newRootCommand builds the full command tree. Each call wires fresh cobra
// commands so tests can execute trees without sharing state.
func newRootCommand() *cobra.Command {
	serveCmd := newServeCommand()

	root := &cobra.Command{
		Use:   "casewire",
		Short: "casewire - case file processing pipeline",
		Long: `casewire ingests the files seized in an investigation (documents, audio,
video, call detail records), pushes each one through a file-type specific
processing pipeline, and links the people, phones, and places found along
the way into a per-case knowledge graph.

A running server hosts:
- river worker pools over Postgres queues, one pool per file type
- a websocket feed of per-job status events
- read-only MCP tools for agent access to jobs and entities`,
		Args: cobra.NoArgs,
		// Run the serve command by default if no subcommand is specified
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}

	// Global flags available to all subcommands
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (optional, uses env vars by default)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(serveCmd)
	root.AddCommand(newIngestCommand())
	root.AddCommand(newExportCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newMCPCommand())
	root.AddCommand(newHealthcheckCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// Execute runs the root command. Called once from main.
func Execute() {
	// A .env in the working directory fills in unset variables; absence is
	// not an error.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
