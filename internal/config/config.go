// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/engine"
)

// EnvPrefix prefixes every environment override, e.g. TZXM_SERVER_PORT.
const EnvPrefix = "TZXM"

// Storage backends for the project, checkpoint and run stores.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Blob backends for downloaded documents.
const (
	BlobMemory = "memory"
	BlobLocal  = "local"
	BlobGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Regions   RegionsConfig   `mapstructure:"regions"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// PortalConfig describes the remote announcement portal.
type PortalConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_second"`
	Burst          int           `mapstructure:"burst"`
}

// CrawlerConfig governs the orchestrator and the crawl engine.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	DetailMaxAttempts int           `mapstructure:"detail_max_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	TargetCategories  []string      `mapstructure:"target_categories"`
	DiscoveryTopic    string        `mapstructure:"discovery_topic"`
}

// RegionsConfig locates the on-disk region cache.
type RegionsConfig struct {
	CachePath string `mapstructure:"cache_path"`
}

// RetrievalConfig bounds captcha session lifetimes.
type RetrievalConfig struct {
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// StorageConfig picks repository and blob backends.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Blob      string `mapstructure:"blob"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to PostgreSQL.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MongoConfig controls access to MongoDB.
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PubSubConfig holds discovery notification settings. An empty project id
// keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.Crawler.TargetCategories = engine.CleanKeywords(cfg.Crawler.TargetCategories)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("portal.base_url", "https://tzxm.zjzwfw.gov.cn")
	v.SetDefault("portal.user_agent", "")
	v.SetDefault("portal.timeout", "30s")
	v.SetDefault("portal.requests_per_second", 2.0)
	v.SetDefault("portal.burst", 1)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.detail_max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("crawler.retry_delay", crawler.DefaultRetryDelay.String())
	v.SetDefault("crawler.breaker_threshold", engine.DefaultBreakerThreshold)
	v.SetDefault("crawler.target_categories", engine.DefaultTargetCategories)
	v.SetDefault("crawler.discovery_topic", "project.discovered")
	v.SetDefault("regions.cache_path", "data/regions.json")
	v.SetDefault("retrieval.session_ttl", "15m")
	v.SetDefault("retrieval.janitor_interval", "1m")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.blob", BlobLocal)
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("mongo.database", "tzxm")
	v.SetDefault("mongo.timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.DetailMaxAttempts <= 0 {
		return fmt.Errorf("crawler.detail_max_attempts must be > 0")
	}
	if c.Crawler.RetryDelay < 0 {
		return fmt.Errorf("crawler.retry_delay must not be negative")
	}
	if len(c.Crawler.TargetCategories) == 0 {
		return fmt.Errorf("crawler.target_categories must not be empty")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, postgres, mongo")
	}
	switch c.Storage.Blob {
	case BlobMemory:
	case BlobLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local blob store")
		}
	case BlobGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs blob store")
		}
	default:
		return fmt.Errorf("storage.blob must be one of memory, local, gcs")
	}
	return nil
}

