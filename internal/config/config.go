// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (SAGE_* overrides, secrets)
//  2. Config file (~/.sage/config.yaml or ./config.yaml)
//  3. Default values
//
// Categories:
//   - Storage: PostgreSQL connection for the vector index and conversations
//   - Embedding: provider, model, batch size, per-batch timeout
//   - Chunking: window size, overlap, minimum chunk length
//   - Retrieval: default k, default similarity threshold, per-document cap
//   - Routing: provider priority lists per complexity tier, per-tier timeouts
//   - Sync: batch size, per-page timeout, worker pool size
//
// Sensitive values (passwords, API keys) are read from the environment and
// never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidThreshold indicates the similarity threshold is out of [0, 1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the default k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidBatchSize indicates a batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrNoProviders indicates a complexity tier has no providers configured.
	ErrNoProviders = errors.New("no generation providers configured")

	// ErrInvalidPostgres indicates the PostgreSQL settings are unusable.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

// Provider describes one generation backend in a tier's priority list.
// Adding a provider is a configuration change, not a code change.
type Provider struct {
	// Name identifies the provider in logs and sync status ("openai",
	// "together", ...).
	Name string `mapstructure:"name"`

	// Model is the provider-side model identifier.
	Model string `mapstructure:"model"`

	// BaseURL overrides the API endpoint for OpenAI-compatible services.
	// Empty means the provider's default endpoint.
	BaseURL string `mapstructure:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// Config stores the full application configuration.
type Config struct {
	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" or "json"

	// Storage
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Embedding
	EmbedderModel     string        `mapstructure:"embedder_model"`
	EmbedderBaseURL   string        `mapstructure:"embedder_base_url"`
	EmbedderDimension int           `mapstructure:"embedder_dimension"`
	EmbedBatchSize    int           `mapstructure:"embed_batch_size"`
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size"`    // bytes per window
	ChunkOverlap int `mapstructure:"chunk_overlap"` // bytes of overlap
	ChunkMinSize int `mapstructure:"chunk_min_size"`

	// Retrieval
	DefaultTopK         int     `mapstructure:"default_top_k"`
	SimilarityThreshold float32 `mapstructure:"similarity_threshold"`
	MaxChunksPerDoc     int     `mapstructure:"max_chunks_per_doc"`

	// Generation routing
	SimpleProviders  []Provider    `mapstructure:"simple_providers"`
	ComplexProviders []Provider    `mapstructure:"complex_providers"`
	SimpleTimeout    time.Duration `mapstructure:"simple_timeout"`
	ComplexTimeout   time.Duration `mapstructure:"complex_timeout"`
	MaxHistoryTurns  int           `mapstructure:"max_history_turns"`

	// Sync
	SyncBatchSize   int           `mapstructure:"sync_batch_size"`
	SyncPageTimeout time.Duration `mapstructure:"sync_page_timeout"`
	SyncWorkers     int           `mapstructure:"sync_workers"`
}

// Load loads configuration with priority env > file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".sage")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("config file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in defaults without touching the filesystem.
// Used by tests and the in-memory dev mode.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of hardcoded defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "sage")
	v.SetDefault("postgres_password", "sage_dev_password")
	v.SetDefault("postgres_db_name", "sage")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedder_model", "text-embedding-3-small")
	v.SetDefault("embedder_base_url", "")
	v.SetDefault("embedder_dimension", 1536)
	v.SetDefault("embed_batch_size", 64)
	v.SetDefault("embed_timeout", 30*time.Second)

	// Roughly 500 tokens at ~4 bytes/token, 15% overlap.
	v.SetDefault("chunk_size", 2000)
	v.SetDefault("chunk_overlap", 300)
	v.SetDefault("chunk_min_size", 200)

	v.SetDefault("default_top_k", 10)
	v.SetDefault("similarity_threshold", 0.25)
	v.SetDefault("max_chunks_per_doc", 2)

	v.SetDefault("simple_providers", []map[string]any{
		{"name": "together", "model": "meta-llama/Llama-3.3-70B-Instruct-Turbo",
			"base_url": "https://api.together.xyz/v1", "api_key_env": "TOGETHER_API_KEY"},
		{"name": "openai", "model": "gpt-4o-mini", "api_key_env": "OPENAI_API_KEY"},
	})
	v.SetDefault("complex_providers", []map[string]any{
		{"name": "openai", "model": "gpt-4o", "api_key_env": "OPENAI_API_KEY"},
		{"name": "together", "model": "meta-llama/Llama-3.3-70B-Instruct-Turbo",
			"base_url": "https://api.together.xyz/v1", "api_key_env": "TOGETHER_API_KEY"},
	})
	v.SetDefault("simple_timeout", 15*time.Second)
	v.SetDefault("complex_timeout", 60*time.Second)
	v.SetDefault("max_history_turns", 20)

	v.SetDefault("sync_batch_size", 16)
	v.SetDefault("sync_page_timeout", 30*time.Second)
	v.SetDefault("sync_workers", 4)
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a failure here is a bug, not a runtime condition.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: binding %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("log_level", "SAGE_LOG_LEVEL")
	mustBind("log_format", "SAGE_LOG_FORMAT")

	mustBind("postgres_host", "SAGE_POSTGRES_HOST")
	mustBind("postgres_port", "SAGE_POSTGRES_PORT")
	mustBind("postgres_user", "SAGE_POSTGRES_USER")
	mustBind("postgres_password", "SAGE_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "SAGE_POSTGRES_DB")
	mustBind("postgres_ssl_mode", "SAGE_POSTGRES_SSL_MODE")

	mustBind("embedder_model", "SAGE_EMBEDDER_MODEL")
	mustBind("embedder_base_url", "SAGE_EMBEDDER_BASE_URL")

	// NOTE: provider API keys (OPENAI_API_KEY, TOGETHER_API_KEY, ...) are
	// read directly via each provider's APIKeyEnv, never stored in config.
}

// DatabaseURL assembles the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// Validate checks the configuration for internal consistency (fail-fast).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, c.ChunkSize, c.ChunkOverlap)
	}
	if c.ChunkMinSize < 0 || c.ChunkMinSize > c.ChunkSize {
		return fmt.Errorf("%w: min_size=%d exceeds size=%d", ErrInvalidChunking, c.ChunkMinSize, c.ChunkSize)
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.SimilarityThreshold)
	}

	if c.DefaultTopK < 1 || c.DefaultTopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.DefaultTopK)
	}

	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: embed_batch_size=%d", ErrInvalidBatchSize, c.EmbedBatchSize)
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("%w: sync_batch_size=%d", ErrInvalidBatchSize, c.SyncBatchSize)
	}

	if len(c.SimpleProviders) == 0 {
		return fmt.Errorf("%w: simple tier", ErrNoProviders)
	}
	if len(c.ComplexProviders) == 0 {
		return fmt.Errorf("%w: complex tier", ErrNoProviders)
	}

	if c.PostgresHost == "" || c.PostgresDBName == "" {
		return fmt.Errorf("%w: host=%q db=%q", ErrInvalidPostgres, c.PostgresHost, c.PostgresDBName)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port=%d", ErrInvalidPostgres, c.PostgresPort)
	}

	return nil
}
