// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Snapshot backends accepted by storage.snapshot.backend.
const (
	SnapshotMemory = "memory"
	SnapshotLocal  = "local"
	SnapshotGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Firestore   FirestoreConfig   `mapstructure:"firestore"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Visibility  VisibilityConfig  `mapstructure:"visibility"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects the job store and the report snapshot target.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// SnapshotConfig describes where completed report JSON is copied.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// FirestoreConfig names the project and collections of the document store.
type FirestoreConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Jobs      string `mapstructure:"jobs_collection"`
	Events    string `mapstructure:"events_collection"`
	Reports   string `mapstructure:"reports_collection"`
	Queries   string `mapstructure:"queries_collection"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool        `mapstructure:"enabled"`
	LogEnabled     bool        `mapstructure:"log_enabled"`
	MetricsEnabled bool        `mapstructure:"metrics_enabled"`
	BufferSize     int         `mapstructure:"buffer_size"`
	Batch          BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs  int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds progress batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// ScraperConfig governs the headless browser and its pacing.
type ScraperConfig struct {
	UserAgent                string          `mapstructure:"user_agent"`
	AcceptLanguage           string          `mapstructure:"accept_language"`
	ExecPath                 string          `mapstructure:"exec_path"`
	OverallTimeoutSeconds    int             `mapstructure:"overall_timeout_seconds"`
	NavigationTimeoutSeconds int             `mapstructure:"navigation_timeout_seconds"`
	IdleTimeoutSeconds       int             `mapstructure:"idle_timeout_seconds"`
	MaxRetries               int             `mapstructure:"max_retries"`
	RetryDelayMs             int             `mapstructure:"retry_delay_ms"`
	MinContentChars          int             `mapstructure:"min_content_chars"`
	RateLimit                RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is a per-host token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LLMConfig configures the model providers.
type LLMConfig struct {
	RequestTimeoutSeconds int              `mapstructure:"request_timeout_seconds"`
	OpenAI                OpenAIConfig     `mapstructure:"openai"`
	Gemini                GeminiConfig     `mapstructure:"gemini"`
	Perplexity            PerplexityConfig `mapstructure:"perplexity"`
}

// OpenAIConfig configures the primary provider.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig configures the Vertex AI provider.
type GeminiConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region"`
	Model     string `mapstructure:"model"`
}

// PerplexityConfig configures the search assistant used by the visibility stage.
type PerplexityConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// PerformanceConfig configures PageSpeed Insights.
type PerformanceConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Strategy string `mapstructure:"strategy"`
}

// VisibilityConfig overrides the generated search queries.
type VisibilityConfig struct {
	QueryTemplates []string `mapstructure:"query_templates"`
}

// DedupConfig sets how long a finished job is reused for the same host.
type DedupConfig struct {
	WindowHours int `mapstructure:"window_hours"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName   string  `mapstructure:"service_name"`
	Version       string  `mapstructure:"version"`
	ProjectID     string  `mapstructure:"project_id"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GEO")
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

// setDefaults registers every key so AutomaticEnv can override keys that
// appear in no config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.snapshot.backend", SnapshotMemory)
	v.SetDefault("storage.snapshot.bucket", "")
	v.SetDefault("storage.snapshot.prefix", "reports")
	v.SetDefault("storage.snapshot.base_dir", "./data/reports")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("firestore.project_id", "")
	v.SetDefault("firestore.jobs_collection", "jobs")
	v.SetDefault("firestore.events_collection", "job_events")
	v.SetDefault("firestore.reports_collection", "reports")
	v.SetDefault("firestore.queries_collection", "queries")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.job_timeout_seconds", 600)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; GeoAnalyzer/1.0)")
	v.SetDefault("scraper.accept_language", "en-US,en;q=0.9")
	v.SetDefault("scraper.exec_path", "")
	v.SetDefault("scraper.overall_timeout_seconds", 45)
	v.SetDefault("scraper.navigation_timeout_seconds", 30)
	v.SetDefault("scraper.idle_timeout_seconds", 10)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.retry_delay_ms", 2000)
	v.SetDefault("scraper.min_content_chars", 100)
	v.SetDefault("scraper.rate_limit.rps", 1.0)
	v.SetDefault("scraper.rate_limit.burst", 2)
	v.SetDefault("llm.request_timeout_seconds", 30)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.gemini.project_id", "")
	v.SetDefault("llm.gemini.region", "us-central1")
	v.SetDefault("llm.gemini.model", "gemini-1.5-flash")
	v.SetDefault("llm.perplexity.api_key", "")
	v.SetDefault("llm.perplexity.model", "sonar")
	v.SetDefault("llm.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("performance.api_key", "")
	v.SetDefault("performance.strategy", "mobile")
	v.SetDefault("visibility.query_templates", []string(nil))
	v.SetDefault("dedup.window_hours", 24)
	v.SetDefault("telemetry.service_name", "geoanalyzer")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.collector_addr", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore.project_id must be set for the firestore backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.Snapshot.Backend {
	case SnapshotMemory:
	case SnapshotLocal:
		if c.Storage.Snapshot.BaseDir == "" {
			return fmt.Errorf("storage.snapshot.base_dir must be set for local snapshots")
		}
	case SnapshotGCS:
		if c.Storage.Snapshot.Bucket == "" {
			return fmt.Errorf("storage.snapshot.bucket must be set for gcs snapshots")
		}
	default:
		return fmt.Errorf("storage.snapshot.backend %q is not supported", c.Storage.Snapshot.Backend)
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Scraper.OverallTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.overall_timeout_seconds must be > 0")
	}
	if c.Scraper.MaxRetries <= 0 {
		return fmt.Errorf("scraper.max_retries must be > 0")
	}
	if c.LLM.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("llm.request_timeout_seconds must be > 0")
	}
	if c.Dedup.WindowHours <= 0 {
		return fmt.Errorf("dedup.window_hours must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// JobTimeout bounds a single pipeline run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// DedupWindow is the reuse window for recent jobs.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowHours) * time.Hour
}

// LLMTimeout bounds one provider request.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.RequestTimeoutSeconds) * time.Second
}
