package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/casewire/casewire/internal/alerts"
	"github.com/casewire/casewire/internal/api"
	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/config"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/jobs"
	"github.com/casewire/casewire/internal/kg"
	"github.com/casewire/casewire/internal/kg/graphdb"
	"github.com/casewire/casewire/internal/metrics"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/ml/claude"
	"github.com/casewire/casewire/internal/ml/gateway"
	"github.com/casewire/casewire/internal/ml/gemini"
	"github.com/casewire/casewire/internal/pipeline"
	"github.com/casewire/casewire/internal/status"
	"github.com/casewire/casewire/internal/storage/postgres"
	"github.com/casewire/casewire/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the casewire server and workers",
		Long: `Start the casewire HTTP server and the background worker pools.

The process runs:
- river worker pools for every file-type queue plus the graph queue
- the Postgres LISTEN bridge that feeds the job status websockets
- an HTTP server exposing /healthz, /readyz, /version, /metrics and /ws/jobs/{id}

Shutdown on SIGINT/SIGTERM drains in order: the HTTP server stops
accepting first, river workers finish in-flight jobs under a stop
timeout, and the database pool closes last.

Examples:
  # Start with configuration from environment variables
  casewire serve

  # Bind to a specific host and port
  casewire serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  casewire serve --log-level debug

  # Start with a config file
  casewire serve --config /etc/casewire/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")

	return cmd
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// Override config with flags if provided
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if cfg.GraphStore.URL == "" {
		return fmt.Errorf("GRAPH_STORE_URL is required: graph workers cannot run without a graph store")
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("environment", cfg.Environment).Msg("starting casewire server")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

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

	caps, err := buildCapabilities(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ml provider init failed: %w", err)
	}

	hub := status.NewHub(logger)
	defer hub.Close()

	runner := pipeline.NewRunner(pipeline.Deps{
		Store:           repo.Cases(),
		Blobs:           blobs,
		Calls:           repo.CDR(),
		Entities:        repo.Graph(),
		Capabilities:    caps,
		Publisher:       status.NewPublisher(pool, logger),
		DefaultLanguage: cfg.Pipeline.DefaultLanguage,
		Logger:          logger,
	})

	graphStore := graphdb.NewClient(cfg.GraphStore.URL, cfg.GraphStore.Database,
		graphdb.WithBasicAuth(cfg.GraphStore.Username, cfg.GraphStore.Password),
		graphdb.WithRateLimit(cfg.GraphStore.RateLimit),
	)
	completion := cases.NewCompletion(repo.Cases(), logger)

	notifier := alerts.NewNotifier(cfg.Alerts, logger)
	var alert jobs.AlertFunc
	if notifier.Enabled() {
		alert = notifier.JobFailed
		logger.Info().Str("to", cfg.Alerts.To).Msg("failure alerts enabled")
	}

	workers := jobs.NewWorkers(jobs.WorkerDeps{
		Repo:       repo,
		Blobs:      blobs,
		Runner:     runner,
		Extractor:  caps.GraphExtractor,
		Resolver:   kg.NewResolver(repo.Graph(), logger),
		Sync:       kg.NewSync(graphStore, logger),
		Completion: completion,
		Queues:     cfg.Queues,
		Logger:     logger,
	})

	// river logs through slog; keep it on stderr so the zerolog stream on
	// stdout stays parseable.
	riverLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	riverClient, err := jobs.NewClient(pool, jobs.ClientParams{
		Queues:       cfg.Queues,
		Workers:      workers,
		Logger:       riverLogger,
		Hooks:        []rivertype.Hook{metrics.NewRiverMetricsHook()},
		PeriodicJobs: jobs.NewPeriodicJobs(cfg.Queues),
		Alert:        alert,
	})
	if err != nil {
		return fmt.Errorf("river client init failed: %w", err)
	}

	// Bridge Postgres NOTIFY into the websocket hub.
	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	defer listenerCancel()
	listener := status.NewListener(pool, hub, logger)
	go func() {
		if err := listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("status listener stopped")
		}
	}()

	// Collect pool gauges every 15 seconds.
	dbCollector := metrics.NewDBCollector(pool)
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	go dbCollector.Start(collectorCtx, 15*time.Second)
	defer collectorCancel()
	defer dbCollector.Stop()

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().
		Int("document_workers", cfg.Queues.DocumentWorkers).
		Int("audio_workers", cfg.Queues.AudioWorkers).
		Int("video_workers", cfg.Queues.VideoWorkers).
		Int("cdr_workers", cfg.Queues.CDRWorkers).
		Int("graph_workers", cfg.Queues.GraphWorkers).
		Msg("river worker pools started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		} else {
			logger.Info().Msg("river workers stopped")
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Pool:      pool,
		Hub:       hub,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadWithFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}

	// Override logging from flags if provided
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

func newPool(cfg config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	}
	if cfg.Database.MaxIdle > 0 {
		poolCfg.MinConns = int32(cfg.Database.MaxIdle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// buildCapabilities assembles the ML stage implementations. The gateway
// serves everything; configuration can route the LLM-shaped stages to
// Anthropic directly and embeddings to Gemini.
func buildCapabilities(ctx context.Context, cfg config.Config, logger zerolog.Logger) (ml.Capabilities, error) {
	if cfg.ML.GatewayURL == "" {
		return ml.Capabilities{}, fmt.Errorf("ML_GATEWAY_URL is required")
	}

	gw := gateway.NewClient(cfg.ML.GatewayURL,
		gateway.WithToken(cfg.ML.GatewayToken),
		gateway.WithTimeout(cfg.ML.Timeout.Std()),
	)

	caps := ml.Capabilities{
		Extractor:      gw,
		Transcriber:    gw,
		Translator:     gw,
		Rewriter:       gw,
		Summarizer:     gw,
		Embedder:       gw,
		FrameAnalyzer:  gw,
		FaceMatcher:    gw,
		GraphExtractor: gw,
	}

	if cfg.ML.Provider == "anthropic" {
		cl, err := claude.NewClient(cfg.ML.AnthropicAPIKey, cfg.ML.AnthropicModel, logger)
		if err != nil {
			return ml.Capabilities{}, fmt.Errorf("anthropic client: %w", err)
		}
		caps.Translator = cl
		caps.Rewriter = cl
		caps.Summarizer = cl
		caps.GraphExtractor = cl
		logger.Info().Str("model", cfg.ML.AnthropicModel).Msg("text stages routed to anthropic")
	}

	if cfg.ML.GeminiAPIKey != "" {
		emb, err := gemini.NewEmbedder(ctx, cfg.ML.GeminiAPIKey, cfg.ML.EmbedModel, cfg.ML.EmbedDimension)
		if err != nil {
			return ml.Capabilities{}, fmt.Errorf("gemini embedder: %w", err)
		}
		caps.Embedder = emb
		logger.Info().Str("model", cfg.ML.EmbedModel).Msg("embeddings routed to gemini")
	}

	return caps, nil
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
		return err
	}

	logger.Info().Msg("http server stopped")
	return nil
}
