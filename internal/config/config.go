package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "30s" / "15m" spellings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Storage     StorageConfig    `yaml:"storage"`
	Queues      QueuesConfig     `yaml:"queues"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	ML          MLConfig         `yaml:"ml"`
	GraphStore  GraphStoreConfig `yaml:"graph_store"`
	Alerts      AlertsConfig     `yaml:"alerts"`
	Logging     LoggingConfig    `yaml:"logging"`
	Tracing     TracingConfig    `yaml:"tracing"`
	Environment string           `yaml:"environment"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections" validate:"min=1"`
	MaxIdle        int    `yaml:"max_idle" validate:"min=0"`
}

// StorageConfig locates the blob store holding uploaded case files and stage
// outputs.
type StorageConfig struct {
	Root string `yaml:"root" validate:"required"`
}

// QueuesConfig sets per-file-type worker pool sizes. Every queue runs in each
// serve process; scaling out is running more processes.
type QueuesConfig struct {
	DocumentWorkers int      `yaml:"document_workers" validate:"min=1"`
	AudioWorkers    int      `yaml:"audio_workers" validate:"min=1"`
	VideoWorkers    int      `yaml:"video_workers" validate:"min=1"`
	CDRWorkers      int      `yaml:"cdr_workers" validate:"min=1"`
	GraphWorkers    int      `yaml:"graph_workers" validate:"min=1"`
	SweepInterval   Duration `yaml:"sweep_interval" validate:"min=0"`
	StalledAfter    Duration `yaml:"stalled_after" validate:"min=0"`
}

type PipelineConfig struct {
	// DefaultLanguage is assumed when neither upload metadata nor detection
	// yields a language. Translation runs only for languages other than this.
	DefaultLanguage string `yaml:"default_language" validate:"required"`
}

type MLConfig struct {
	// Provider selects who serves the LLM-shaped capabilities: "gateway" or
	// "anthropic". Embeddings may be served separately by Gemini when
	// GeminiAPIKey is set.
	Provider        string   `yaml:"provider" validate:"oneof=gateway anthropic"`
	GatewayURL      string   `yaml:"gateway_url"`
	GatewayToken    string   `yaml:"gateway_token"`
	Timeout         Duration `yaml:"timeout" validate:"min=0"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	AnthropicModel  string   `yaml:"anthropic_model"`
	GeminiAPIKey    string   `yaml:"gemini_api_key"`
	EmbedModel      string   `yaml:"embed_model"`
	EmbedDimension  int      `yaml:"embed_dimension" validate:"min=1"`
}

type GraphStoreConfig struct {
	URL       string  `yaml:"url"`
	Database  string  `yaml:"database"`
	Username  string  `yaml:"username"`
	Password  string  `yaml:"password"`
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
}

type AlertsConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=stdout otlp none"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// Default returns the built-in configuration. A YAML file overrides defaults;
// environment variables override both.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxConnections: 25,
			MaxIdle:        5,
		},
		Storage: StorageConfig{
			Root: "./data/blobs",
		},
		Queues: QueuesConfig{
			DocumentWorkers: 4,
			AudioWorkers:    2,
			VideoWorkers:    2,
			CDRWorkers:      2,
			GraphWorkers:    2,
			SweepInterval:   Duration(time.Minute),
			StalledAfter:    Duration(15 * time.Minute),
		},
		Pipeline: PipelineConfig{
			DefaultLanguage: "en",
		},
		ML: MLConfig{
			Provider:       "gateway",
			GatewayURL:     "http://localhost:9090",
			Timeout:        Duration(60 * time.Second),
			AnthropicModel: "claude-sonnet-4-20250514",
			EmbedModel:     "gemini-embedding-001",
			EmbedDimension: 768,
		},
		GraphStore: GraphStoreConfig{
			Database:  "neo4j",
			RateLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "casewire",
			SampleRate:  0.1,
		},
		Environment: "development",
	}
}

// Load builds the effective configuration: defaults, then the YAML file named
// by CASEWIRE_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	return LoadWithFile(os.Getenv("CASEWIRE_CONFIG"))
}

// LoadWithFile is Load with an explicit YAML path, used by the --config flag.
func LoadWithFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("DATABASE_MAX_CONNECTIONS", cfg.Database.MaxConnections)
	cfg.Database.MaxIdle = getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", cfg.Database.MaxIdle)

	cfg.Storage.Root = getEnv("STORAGE_ROOT", cfg.Storage.Root)

	cfg.Queues.DocumentWorkers = getEnvInt("QUEUE_DOCUMENT_WORKERS", cfg.Queues.DocumentWorkers)
	cfg.Queues.AudioWorkers = getEnvInt("QUEUE_AUDIO_WORKERS", cfg.Queues.AudioWorkers)
	cfg.Queues.VideoWorkers = getEnvInt("QUEUE_VIDEO_WORKERS", cfg.Queues.VideoWorkers)
	cfg.Queues.CDRWorkers = getEnvInt("QUEUE_CDR_WORKERS", cfg.Queues.CDRWorkers)
	cfg.Queues.GraphWorkers = getEnvInt("QUEUE_GRAPH_WORKERS", cfg.Queues.GraphWorkers)
	cfg.Queues.SweepInterval = Duration(getEnvDuration("QUEUE_SWEEP_INTERVAL", cfg.Queues.SweepInterval.Std()))
	cfg.Queues.StalledAfter = Duration(getEnvDuration("QUEUE_STALLED_AFTER", cfg.Queues.StalledAfter.Std()))

	cfg.Pipeline.DefaultLanguage = getEnv("PIPELINE_DEFAULT_LANGUAGE", cfg.Pipeline.DefaultLanguage)

	cfg.ML.Provider = getEnv("ML_PROVIDER", cfg.ML.Provider)
	cfg.ML.GatewayURL = getEnv("ML_GATEWAY_URL", cfg.ML.GatewayURL)
	cfg.ML.GatewayToken = getEnv("ML_GATEWAY_TOKEN", cfg.ML.GatewayToken)
	cfg.ML.Timeout = Duration(getEnvDuration("ML_TIMEOUT", cfg.ML.Timeout.Std()))
	cfg.ML.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.ML.AnthropicAPIKey)
	cfg.ML.AnthropicModel = getEnv("ANTHROPIC_MODEL", cfg.ML.AnthropicModel)
	cfg.ML.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.ML.GeminiAPIKey)
	cfg.ML.EmbedModel = getEnv("ML_EMBED_MODEL", cfg.ML.EmbedModel)
	cfg.ML.EmbedDimension = getEnvInt("ML_EMBED_DIMENSION", cfg.ML.EmbedDimension)

	cfg.GraphStore.URL = getEnv("GRAPH_STORE_URL", cfg.GraphStore.URL)
	cfg.GraphStore.Database = getEnv("GRAPH_STORE_DATABASE", cfg.GraphStore.Database)
	cfg.GraphStore.Username = getEnv("GRAPH_STORE_USERNAME", cfg.GraphStore.Username)
	cfg.GraphStore.Password = getEnv("GRAPH_STORE_PASSWORD", cfg.GraphStore.Password)
	cfg.GraphStore.RateLimit = getEnvFloat("GRAPH_STORE_RATE_LIMIT", cfg.GraphStore.RateLimit)

	cfg.Alerts.ResendAPIKey = getEnv("RESEND_API_KEY", cfg.Alerts.ResendAPIKey)
	cfg.Alerts.From = getEnv("ALERTS_FROM", cfg.Alerts.From)
	cfg.Alerts.To = getEnv("ALERTS_TO", cfg.Alerts.To)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = getEnv("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.ServiceName = getEnv("TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.OTLPEndpoint = getEnv("TRACING_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
