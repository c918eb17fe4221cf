package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for both cmd/apiserver and cmd/worker.
// A single file is shared by both binaries; each reads only the sections
// it needs.
type Config struct {
	// Version is optional; when set it is checked against CurrentVersion
	// so an operator upgrading either the binary or the config file gets
	// a clear error instead of silently-wrong defaults.
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Queue       QueueConfig       `yaml:"queue"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Worker      WorkerConfig      `yaml:"worker"`
	ToolServers ToolServersConfig `yaml:"tool_servers"`
	Graph       GraphConfig       `yaml:"graph"`
	Auth        AuthConfig        `yaml:"auth"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig configures cmd/apiserver's listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig is the Postgres DSN shared by internal/taskbroker,
// internal/agentconfig and internal/datasource's Postgres-backed stores.
// An empty URL selects the in-memory stores instead, which is the
// dev/test default.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// QueueConfig selects and configures the durable work queue
// (internal/queue). Backend "memory" is dev/test only; "postgres" backs
// production deployments sharing the Database DSN unless overridden.
type QueueConfig struct {
	Backend string `yaml:"backend"` // "memory" | "postgres"
	DSN     string `yaml:"dsn"`
}

// ObjectStoreConfig selects and configures internal/objectstore.
type ObjectStoreConfig struct {
	Backend string `yaml:"backend"` // "local" | "s3"

	// LocalPath is the root directory for the "local" backend.
	LocalPath string `yaml:"local_path"`

	// S3 configures the "s3" backend, unused otherwise.
	S3 S3Config `yaml:"s3"`
}

// S3Config mirrors internal/objectstore.S3Config for config-file decoding.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// WorkerConfig configures cmd/worker's internal/worker.Dispatcher.
type WorkerConfig struct {
	WorkerID          string          `yaml:"worker_id"`
	MaxAge            time.Duration   `yaml:"max_age"`
	RecursionLimit    int             `yaml:"recursion_limit"`
	PollInterval      time.Duration   `yaml:"poll_interval"`
	ProjectSyncBase   string          `yaml:"project_sync_base"`
	FallbackAnthropic string          `yaml:"fallback_anthropic_key"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig mirrors internal/backoff.BackoffPolicy for config-file
// decoding.
type ReconnectConfig struct {
	InitialMs int     `yaml:"initial_ms"`
	MaxMs     int     `yaml:"max_ms"`
	Factor    float64 `yaml:"factor"`
	Jitter    float64 `yaml:"jitter"`
}

// ToolServersConfig lists the fan-out targets for internal/toolserver's
// Aggregator.
type ToolServersConfig struct {
	Project  []ToolServerConfig    `yaml:"project"`
	External *ExternalServerConfig `yaml:"external"`
}

// ToolServerConfig is one project-scoped tool server base URL.
type ToolServerConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// ExternalServerConfig is the single credential-gated external tool
// server.
type ExternalServerConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// GraphConfig selects and configures the internal/graph/providers adapter
// cmd/worker's Dispatcher invokes. Provider is normally overridden by
// cmd/worker's --graph-provider flag; the config value is the fallback.
type GraphConfig struct {
	Provider  string          `yaml:"provider"` // "anthropic" | "openai" | "bedrock"
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
}

// AnthropicConfig mirrors internal/graph/providers.AnthropicConfig.
type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int64  `yaml:"max_tokens"`
}

// OpenAIConfig mirrors internal/graph/providers.OpenAIConfig.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// BedrockConfig mirrors internal/graph/providers.BedrockConfig.
type BedrockConfig struct {
	Region       string `yaml:"region"`
	DefaultModel string `yaml:"default_model"`
}

// AuthConfig configures internal/httpapi's bearer-auth middleware.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// ReaperConfig configures internal/reaper's stale-task sweep.
type ReaperConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Schedule     string        `yaml:"schedule"` // cron expression
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// LoggingConfig configures log/slog output across both binaries.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// TracingConfig configures internal/observability's OpenTelemetry tracer.
// An empty Endpoint leaves tracing disabled (app.Build skips NewTracer).
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"` // OTLP gRPC collector address
	SamplingRate float64 `yaml:"sampling_rate"`
}

// ConfigValidationError aggregates every validation failure found in one
// pass so an operator fixes a config file in one edit instead of one
// error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads, resolves $include directives in, and decodes a config file
// at path, applying environment overrides and defaults before validating
// it.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.Backend == "postgres" && cfg.Queue.DSN == "" {
		cfg.Queue.DSN = cfg.Database.URL
	}

	if cfg.ObjectStore.Backend == "" {
		cfg.ObjectStore.Backend = "local"
	}
	if cfg.ObjectStore.LocalPath == "" {
		cfg.ObjectStore.LocalPath = "./data/objects"
	}

	if cfg.Worker.WorkerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker"
		}
		cfg.Worker.WorkerID = hostname
	}
	if cfg.Worker.MaxAge == 0 {
		cfg.Worker.MaxAge = time.Hour
	}
	if cfg.Worker.RecursionLimit == 0 {
		cfg.Worker.RecursionLimit = 100
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if cfg.Worker.Reconnect.InitialMs == 0 {
		cfg.Worker.Reconnect.InitialMs = 5000
	}
	if cfg.Worker.Reconnect.MaxMs == 0 {
		cfg.Worker.Reconnect.MaxMs = 60000
	}
	if cfg.Worker.Reconnect.Factor == 0 {
		cfg.Worker.Reconnect.Factor = 1.5
	}

	if cfg.Graph.Provider == "" {
		cfg.Graph.Provider = "anthropic"
	}
	if cfg.Graph.Anthropic.DefaultModel == "" {
		cfg.Graph.Anthropic.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.Graph.Anthropic.MaxTokens == 0 {
		cfg.Graph.Anthropic.MaxTokens = 4096
	}
	if cfg.Graph.OpenAI.DefaultModel == "" {
		cfg.Graph.OpenAI.DefaultModel = "gpt-4o"
	}
	if cfg.Graph.Bedrock.Region == "" {
		cfg.Graph.Bedrock.Region = "us-east-1"
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}

	if cfg.Reaper.Schedule == "" {
		cfg.Reaper.Schedule = "*/5 * * * *"
	}
	if cfg.Reaper.StaleAfter == 0 {
		cfg.Reaper.StaleAfter = cfg.Worker.MaxAge
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 0.1
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("TASKRUNNER_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("TASKRUNNER_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TASKRUNNER_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}

	if value := strings.TrimSpace(os.Getenv("TASKRUNNER_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}

	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		cfg.Graph.Anthropic.APIKey = value
		cfg.Worker.FallbackAnthropic = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		cfg.Graph.OpenAI.APIKey = value
	}

	if value := strings.TrimSpace(os.Getenv("TASKRUNNER_WORKER_ID")); value != "" {
		cfg.Worker.WorkerID = value
	}
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.ObjectStore.Backend != "local" && cfg.ObjectStore.Backend != "s3" {
		issues = append(issues, fmt.Sprintf("object_store.backend must be 'local' or 's3', got %q", cfg.ObjectStore.Backend))
	}
	if cfg.ObjectStore.Backend == "s3" && cfg.ObjectStore.S3.Bucket == "" {
		issues = append(issues, "object_store.s3.bucket is required when object_store.backend is 's3'")
	}

	if cfg.Queue.Backend != "memory" && cfg.Queue.Backend != "postgres" {
		issues = append(issues, fmt.Sprintf("queue.backend must be 'memory' or 'postgres', got %q", cfg.Queue.Backend))
	}
	if cfg.Queue.Backend == "postgres" && cfg.Queue.DSN == "" {
		issues = append(issues, "queue.dsn (or database.url) is required when queue.backend is 'postgres'")
	}

	switch cfg.Graph.Provider {
	case "anthropic":
		if cfg.Graph.Anthropic.APIKey == "" {
			issues = append(issues, "graph.anthropic.api_key (or ANTHROPIC_API_KEY) is required when graph.provider is 'anthropic'")
		}
	case "openai":
		if cfg.Graph.OpenAI.APIKey == "" {
			issues = append(issues, "graph.openai.api_key (or OPENAI_API_KEY) is required when graph.provider is 'openai'")
		}
	case "bedrock":
		// credentials come from the default AWS chain; nothing to check here.
	default:
		issues = append(issues, fmt.Sprintf("graph.provider must be 'anthropic', 'openai' or 'bedrock', got %q", cfg.Graph.Provider))
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
