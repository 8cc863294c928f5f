// Package config loads and validates docsort configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Agent     AgentConfig     `mapstructure:"agent"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Client    ClientConfig    `mapstructure:"client"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	RequestTimeout  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
	MaxUploadMB     int `mapstructure:"max_upload_mb"`
	// TriggerRPS and TriggerBurst bound job triggers per project; a
	// non-positive rate disables the limit.
	TriggerRPS   float64 `mapstructure:"trigger_rps"`
	TriggerBurst int     `mapstructure:"trigger_burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// QueueConfig selects the job queue backend and worker pool size.
type QueueConfig struct {
	Backend               string `mapstructure:"backend"`
	Buffer                int    `mapstructure:"buffer"`
	Workers               int    `mapstructure:"workers"`
	Key                   string `mapstructure:"key"`
	EnqueueTimeoutSeconds int    `mapstructure:"enqueue_timeout_seconds"`
}

// RedisConfig holds the connection used by the redis queue and progress relay.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// StorageConfig selects where uploads and merged PDFs are written.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ProgressConfig tunes the progress hub and its completion notices.
type ProgressConfig struct {
	BufferSize      int    `mapstructure:"buffer_size"`
	MaxBatchEvents  int    `mapstructure:"max_batch_events"`
	MaxBatchWaitMs  int    `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs   int    `mapstructure:"sink_timeout_ms"`
	CompletionTopic string `mapstructure:"completion_topic"`
}

// AgentConfig selects the classifier backend.
type AgentConfig struct {
	Backend    string `mapstructure:"backend"`
	Endpoint   string `mapstructure:"endpoint"`
	Deployment string `mapstructure:"deployment"`
	APIVersion string `mapstructure:"api_version"`
	APIKey     string `mapstructure:"api_key"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter    string `mapstructure:"exporter"`
	ServiceName string `mapstructure:"service_name"`
}

// ClientConfig configures the watch command's socket client.
type ClientConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	RetryDelayMs int    `mapstructure:"retry_delay_ms"`
	Backoff      string `mapstructure:"backoff"`
}

// Load builds a Config from a .env file, disk and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("DOCSORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads ./.env when present. Existing environment variables win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.trigger_rps", 1.0)
	v.SetDefault("server.trigger_burst", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.buffer", 64)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.key", "docsort:jobs")
	v.SetDefault("queue.enqueue_timeout_seconds", 5)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.migrate", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "projects")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.completion_topic", "docsort-job-completions")
	v.SetDefault("agent.backend", "heuristic")
	v.SetDefault("agent.api_version", "2024-10-21")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.service_name", "docsort")
	v.SetDefault("client.base_url", "http://localhost:8000")
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.retry_delay_ms", 2000)
	v.SetDefault("client.backoff", "fixed")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TriggerBurst < 0 {
		return fmt.Errorf("server.trigger_burst must be >= 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Buffer <= 0 {
			return fmt.Errorf("queue.buffer must be > 0 for the memory backend")
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url must be set for the redis queue")
		}
	default:
		return fmt.Errorf("queue.backend %q must be memory or redis", c.Queue.Backend)
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend %q must be memory or postgres", c.Database.Backend)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be local or gcs", c.Storage.Backend)
	}
	switch c.Agent.Backend {
	case "heuristic":
	case "openai":
		if c.Agent.Endpoint == "" || c.Agent.Deployment == "" || c.Agent.APIKey == "" {
			return fmt.Errorf("agent.endpoint, agent.deployment and agent.api_key must be set for the openai backend")
		}
	default:
		return fmt.Errorf("agent.backend %q must be heuristic or openai", c.Agent.Backend)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("telemetry.exporter %q must be none or stdout", c.Telemetry.Exporter)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must be >= 0")
	}
	if c.Client.RetryDelayMs < 0 {
		return fmt.Errorf("client.retry_delay_ms must be >= 0")
	}
	switch c.Client.Backoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("client.backoff %q must be fixed or exponential", c.Client.Backoff)
	}
	return nil
}

// EnqueueTimeout converts queue.enqueue_timeout_seconds to a duration.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Queue.EnqueueTimeoutSeconds) * time.Second
}

// RequestTimeout bounds each HTTP handler.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// RetryDelay is the base delay between client reconnect attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Client.RetryDelayMs) * time.Millisecond
}
