package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  shutdown_timeout: 5s
auth:
  enabled: true
  api_key: secret
portal:
  base_url: http://portal.local
  requests_per_second: 0.5
crawler:
  concurrency: 6
  queue_depth: 8
  detail_max_attempts: 3
  retry_delay: 250ms
  target_categories:
    - 企业投资（含外商投资）项目备案（基本建设）
    - 企业投资项目核准
storage:
  backend: postgres
  blob: gcs
  gcs_bucket: documents
db:
  dsn: postgres://crawler@localhost/tzxm
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.DetailMaxAttempts != 3 || cfg.Crawler.RetryDelay != 250*time.Millisecond {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.TargetCategories) != 2 {
		t.Fatalf("expected two target categories, got %v", cfg.Crawler.TargetCategories)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.GCSBucket != "documents" {
		t.Fatalf("expected storage overrides: %+v", cfg.Storage)
	}
	if cfg.Portal.RequestsPerSec != 0.5 || cfg.Portal.Timeout != 30*time.Second {
		t.Fatalf("expected portal settings: %+v", cfg.Portal)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.DetailMaxAttempts != 50 || cfg.Crawler.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.BreakerThreshold != 10 || len(cfg.Crawler.TargetCategories) != 4 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Crawler)
	}
	if cfg.Retrieval.SessionTTL != 15*time.Minute {
		t.Fatalf("unexpected session ttl %v", cfg.Retrieval.SessionTTL)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Storage.Blob != BlobLocal {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

// Environment overrides cannot run in parallel with other tests.
func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("TZXM_SERVER_PORT", "7070")
	t.Setenv("TZXM_CRAWLER_TARGET_CATEGORIES", "甲类，乙类, 丙类")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	got := strings.Join(cfg.Crawler.TargetCategories, "|")
	if got != "甲类|乙类|丙类" {
		t.Fatalf("expected env categories, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Portal:  PortalConfig{BaseURL: "http://portal"},
		Crawler: CrawlerConfig{Concurrency: 1, QueueDepth: 1, DetailMaxAttempts: 1, TargetCategories: []string{"x"}},
		Storage: StorageConfig{Backend: BackendMemory, Blob: BlobMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Crawler.Concurrency = 0
				return c
			}(),
			want: "crawler.concurrency",
		},
		{
			name: "no categories",
			cfg: func() Config {
				c := base
				c.Crawler.TargetCategories = nil
				return c
			}(),
			want: "crawler.target_categories",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Storage.Backend = BackendPostgres
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "mongo without uri",
			cfg: func() Config {
				c := base
				c.Storage.Backend = BackendMongo
				return c
			}(),
			want: "mongo.uri",
		},
		{
			name: "unknown blob",
			cfg: func() Config {
				c := base
				c.Storage.Blob = "s3"
				return c
			}(),
			want: "storage.blob",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Storage.Blob = BlobGCS
				return c
			}(),
			want: "storage.gcs_bucket",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
