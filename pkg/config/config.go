// Package config defines the typed configuration for the engine, loaded via
// viper from defaults, an optional file, and CODEGRAPH_-prefixed environment
// variables.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors, mirroring the teacher's database.Config style.
var (
	ErrInvalidPoolBounds     = errors.New("config: minConnections must be <= maxConnections and > 0")
	ErrInvalidAcquireTimeout = errors.New("config: acquireTimeout must be positive")
	ErrInvalidBatchSize      = errors.New("config: batchSize must be between 1 and 10000")
	ErrInvalidVectorDim      = errors.New("config: vectorDimension must be positive")
	ErrMissingStorePath      = errors.New("config: storePath must be set")
)

// StoreConfig configures the embedded relational store and its connection pool.
type StoreConfig struct {
	Path            string        `mapstructure:"path"`
	QueryCachePath  string        `mapstructure:"query_cache_path"`
	VectorPath      string        `mapstructure:"vector_path"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnections  int           `mapstructure:"max_connections"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	HealthCheckEvery time.Duration `mapstructure:"health_check_every"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// CacheConfig configures the three-tier query cache.
type CacheConfig struct {
	HotSize  int           `mapstructure:"hot_size"`
	HotTTL   time.Duration `mapstructure:"hot_ttl"`
	WarmSize int           `mapstructure:"warm_size"`
	WarmTTL  time.Duration `mapstructure:"warm_ttl"`
	ColdTTL  time.Duration `mapstructure:"cold_ttl"`
}

// BatchConfig configures chunked write operations.
type BatchConfig struct {
	Size          int     `mapstructure:"size"`
	TargetMs      float64 `mapstructure:"target_ms"`
	MinSize       int     `mapstructure:"min_size"`
	MaxSize       int     `mapstructure:"max_size"`
}

// EmbeddingConfig configures the embedding provider orchestrator.
type EmbeddingConfig struct {
	Provider        string        `mapstructure:"provider"` // memory|local|openai|ollama|cloudru
	Dimension       int           `mapstructure:"dimension"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
}

// AgentConfig configures task queue bounds shared by every agent.
type AgentConfig struct {
	MaxQueueDepth  int `mapstructure:"max_queue_depth"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// Config is the root configuration object for the engine.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Agent     AgentConfig     `mapstructure:"agent"`
}

// defaultStorePath mirrors spec.md §6: ~/.code-graph-rag/codegraph.db.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".code-graph-rag", "codegraph.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.query_cache_path", filepath.Join("data", "query_cache.db"))
	v.SetDefault("store.vector_path", "vectors.db")
	v.SetDefault("store.min_connections", 1)
	v.SetDefault("store.max_connections", 4)
	v.SetDefault("store.acquire_timeout", 5*time.Second)
	v.SetDefault("store.idle_timeout", 30*time.Second)
	v.SetDefault("store.health_check_every", 60*time.Second)
	v.SetDefault("store.busy_timeout", 5*time.Second)

	v.SetDefault("cache.hot_size", 100)
	v.SetDefault("cache.hot_ttl", 60*time.Second)
	v.SetDefault("cache.warm_size", 1000)
	v.SetDefault("cache.warm_ttl", 5*time.Minute)
	v.SetDefault("cache.cold_ttl", time.Hour)

	v.SetDefault("batch.size", 1000)
	v.SetDefault("batch.target_ms", 50.0)
	v.SetDefault("batch.min_size", 100)
	v.SetDefault("batch.max_size", 10000)

	v.SetDefault("embedding.provider", "memory")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.timeout", 10*time.Second)
	v.SetDefault("embedding.max_concurrency", 4)
	v.SetDefault("embedding.max_retries", 2)
	v.SetDefault("embedding.max_batch_size", 100)

	v.SetDefault("agent.max_queue_depth", 256)
	v.SetDefault("agent.max_concurrency", 4)
}

// Load builds a Config from defaults, an optional file at configPath, and
// CODEGRAPH_-prefixed environment variables, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CODEGRAPH")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency, returning the
// sentinel error for the first violation found.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return ErrMissingStorePath
	}
	if c.Store.MinConnections <= 0 || c.Store.MinConnections > c.Store.MaxConnections {
		return ErrInvalidPoolBounds
	}
	if c.Store.AcquireTimeout <= 0 {
		return ErrInvalidAcquireTimeout
	}
	if c.Batch.Size < 1 || c.Batch.Size > 10000 {
		return ErrInvalidBatchSize
	}
	if c.Embedding.Dimension <= 0 {
		return ErrInvalidVectorDim
	}
	return nil
}
