// Package config loads docintel's configuration from an optional file and
// DOCINTEL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/docintel/internal/secrets"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Index      IndexConfig      `mapstructure:"index"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Embedding  ModelConfig      `mapstructure:"embedding"`
	Summarizer ModelConfig      `mapstructure:"summarizer"`
	Callback   CallbackConfig   `mapstructure:"callback"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Inbox      InboxConfig      `mapstructure:"inbox"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
	Secrets    secrets.Config   `mapstructure:"secrets"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	UploadDir       string        `mapstructure:"upload_dir"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	UploadRPS       float64       `mapstructure:"upload_rps"` // 0 disables upload rate limiting
	UploadBurst     int           `mapstructure:"upload_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type IndexConfig struct {
	Dir       string `mapstructure:"dir"`
	Dimension int    `mapstructure:"dimension"`
}

type ExtractorConfig struct {
	Pdftotext string `mapstructure:"pdftotext"`
	MinLength int    `mapstructure:"min_length"`
}

type NormalizerConfig struct {
	// Lemmatizer is "spanish" or "none".
	Lemmatizer string `mapstructure:"lemmatizer"`
}

// ModelConfig selects a model backend. For embeddings Provider is "hashing"
// (local) or an LLM provider name; for summaries it is "frequency" (local),
// "none" or an LLM provider name.
type ModelConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type CallbackConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// BaseURL falls back to BACKEND_API_URL, then http://backend:8001.
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type IngestConfig struct {
	// Scheduler is "pool" or "temporal".
	Scheduler  string `mapstructure:"scheduler"`
	Workers    int    `mapstructure:"workers"`
	QueueSize  int    `mapstructure:"queue_size"`
	Neighbours int    `mapstructure:"neighbours"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type GraphConfig struct {
	// Backend is "none", "memory" or "neo4j".
	Backend  string `mapstructure:"backend"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type InboxConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"` // empty disables tracing
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultCallbackURL is used when neither callback.base_url nor
// BACKEND_API_URL is set.
const DefaultCallbackURL = "http://backend:8001"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.upload_dir", "data/uploads")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.upload_rps", 2.0)
	v.SetDefault("server.upload_burst", 5)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("index.dir", "data/index")
	v.SetDefault("index.dimension", 384)

	v.SetDefault("extractor.pdftotext", "pdftotext")
	v.SetDefault("extractor.min_length", 100)

	v.SetDefault("normalizer.lemmatizer", "spanish")

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.timeout", 2*time.Minute)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.requests_per_minute", 0)

	v.SetDefault("summarizer.provider", "frequency")
	v.SetDefault("summarizer.model", "")
	v.SetDefault("summarizer.timeout", 2*time.Minute)
	v.SetDefault("summarizer.max_retries", 3)
	v.SetDefault("summarizer.requests_per_minute", 0)

	v.SetDefault("callback.enabled", true)
	v.SetDefault("callback.base_url", "")
	v.SetDefault("callback.token", "")
	v.SetDefault("callback.timeout", 10*time.Second)
	v.SetDefault("callback.requests_per_second", 0.0)

	v.SetDefault("ingest.scheduler", "pool")
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.queue_size", 64)
	v.SetDefault("ingest.neighbours", 5)

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "docintel-ingest")

	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.path", "data/ledger.db")

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "docintel_documents")

	v.SetDefault("graph.backend", "none")
	v.SetDefault("graph.uri", "bolt://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")

	v.SetDefault("inbox.dir", "data/inbox")
	v.SetDefault("inbox.debounce", 2*time.Second)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.file", "")
	v.SetDefault("secrets.env_prefix", secrets.DefaultEnvPrefix)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Index.Dimension != 384 {
		warnings = append(warnings, fmt.Sprintf("index dimension %d differs from the 384-dim sentence model; existing indexes will not load", c.Index.Dimension))
	}
	if c.Ingest.Scheduler != "pool" && c.Ingest.Scheduler != "temporal" {
		warnings = append(warnings, fmt.Sprintf("unknown ingest scheduler %q, using pool", c.Ingest.Scheduler))
	}
	if c.Ingest.Workers > 1 {
		warnings = append(warnings, fmt.Sprintf("ingest workers %d > 1: ingestions will contend for the index write lock", c.Ingest.Workers))
	}
	if c.Ingest.Workers < 1 {
		warnings = append(warnings, fmt.Sprintf("ingest workers %d is below 1, using 1", c.Ingest.Workers))
	}
	switch c.Graph.Backend {
	case "", "none", "memory", "neo4j":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown graph backend %q, graph disabled", c.Graph.Backend))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0, 1]", c.Tracing.SampleRate))
	}
	if c.Server.MaxUploadMB <= 0 {
		warnings = append(warnings, fmt.Sprintf("server max_upload_mb %d is not positive", c.Server.MaxUploadMB))
	}
	return warnings
}

// Load reads configuration from the file at path (optional) and the
// environment. Every key has a default, so an empty path is valid.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DOCINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Callback.BaseURL == "" {
		cfg.Callback.BaseURL = os.Getenv("BACKEND_API_URL")
	}
	if cfg.Callback.BaseURL == "" {
		cfg.Callback.BaseURL = DefaultCallbackURL
	}

	for _, warning := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	return &cfg, nil
}
