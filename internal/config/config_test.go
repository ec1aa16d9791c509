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
logging:
  development: false
  level: warn
crawler:
  concurrency: 3
  max_depth: 4
  max_content_kb: 512
  verify_tls: true
  follow_redirects: false
  request_timeout_seconds: 15
  user_agent: graph-agent
api:
  request_timeout_seconds: 30
archive:
  backend: local
  local_dir: /tmp/graphs
  topic: runs
  project_id: proj
db:
  dsn: postgres://localhost/sitegraph
  table: runs
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Archive.Backend != ArchiveLocal || cfg.Archive.LocalDir != "/tmp/graphs" {
		t.Fatalf("expected archive overrides, got %+v", cfg.Archive)
	}
	if cfg.DB.Table != "runs" {
		t.Fatalf("expected table override, got %q", cfg.DB.Table)
	}
	if !cfg.ArchiveEnabled() {
		t.Fatal("expected archive to be enabled")
	}
	if got := cfg.APITimeout(); got != 30*time.Second {
		t.Fatalf("expected api timeout 30s, got %v", got)
	}

	opts := cfg.DefaultOptions()
	if opts.FetchConcurrency != 3 || opts.MaxDepth != 4 || opts.MaxContentKB != 512 {
		t.Fatalf("unexpected crawler options: %+v", opts)
	}
	if !opts.VerifyTLS || opts.FollowRedirects {
		t.Fatalf("expected tls/redirect overrides: %+v", opts)
	}
	if opts.RequestTimeout != 15*time.Second || opts.SeedTimeout != 15*time.Second {
		t.Fatalf("expected seed timeout to follow request timeout: %+v", opts)
	}
	if opts.UserAgent != "graph-agent" {
		t.Fatalf("unexpected user agent %q", opts.UserAgent)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || !cfg.Logging.Development {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Archive.Backend != ArchiveNone || cfg.DB.Table != "crawl_runs" || cfg.Archive.Prefix != "graphs" {
		t.Fatalf("unexpected archive defaults: %+v %+v", cfg.Archive, cfg.DB)
	}
	if cfg.ArchiveEnabled() {
		t.Fatal("expected archive to be disabled by default")
	}

	opts := cfg.DefaultOptions()
	if opts.FetchConcurrency != 8 || opts.MaxDepth != 2 || opts.MaxContentKB != -1 {
		t.Fatalf("unexpected option defaults: %+v", opts)
	}
	if opts.VerifyTLS || !opts.FollowRedirects {
		t.Fatalf("unexpected tls/redirect defaults: %+v", opts)
	}
	if opts.RequestTimeout != 0 || opts.SeedTimeout != 0 {
		t.Fatalf("expected unbounded timeouts: %+v", opts)
	}
	if cfg.APITimeout() != 0 {
		t.Fatalf("expected unbounded api timeout, got %v", cfg.APITimeout())
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Concurrency: 1, ChannelBuffer: 1},
		API:     APIConfig{RequestTimeoutSeconds: 1},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, wantErr: "crawler.concurrency"},
		{name: "depth", mutate: func(c *Config) { c.Crawler.MaxDepth = -1 }, wantErr: "crawler.max_depth"},
		{name: "buffer", mutate: func(c *Config) { c.Crawler.ChannelBuffer = 0 }, wantErr: "crawler.channel_buffer"},
		{name: "api timeout", mutate: func(c *Config) { c.API.RequestTimeoutSeconds = -1 }, wantErr: "api.request_timeout_seconds"},
		{name: "unbounded api timeout", mutate: func(c *Config) { c.API.RequestTimeoutSeconds = 0 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Archive.Backend = "s3" }, wantErr: "archive.backend"},
		{name: "local without dir", mutate: func(c *Config) { c.Archive.Backend = ArchiveLocal }, wantErr: "archive.local_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = ArchiveGCS }, wantErr: "archive.gcs_bucket"},
		{name: "topic without project", mutate: func(c *Config) { c.Archive.Topic = "runs" }, wantErr: "archive.project_id"},
		{name: "memory topic", mutate: func(c *Config) {
			c.Archive.Backend = ArchiveMemory
			c.Archive.Topic = "runs"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSeedTimeoutOverride(t *testing.T) {
	t.Parallel()

	cfg := Config{Crawler: CrawlerConfig{Concurrency: 1, RequestTimeoutSeconds: 5, SeedTimeoutSeconds: 60}}
	opts := cfg.DefaultOptions()
	if opts.RequestTimeout != 5*time.Second || opts.SeedTimeout != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", opts)
	}
}
