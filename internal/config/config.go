// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	API     APIConfig     `mapstructure:"api"`
	Archive ArchiveConfig `mapstructure:"archive"`
	DB      DBConfig      `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig holds the option defaults applied to every run.
type CrawlerConfig struct {
	Concurrency           int    `mapstructure:"concurrency"`
	MaxDepth              int    `mapstructure:"max_depth"`
	MaxContentKB          int    `mapstructure:"max_content_kb"`
	VerifyTLS             bool   `mapstructure:"verify_tls"`
	FollowRedirects       bool   `mapstructure:"follow_redirects"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	SeedTimeoutSeconds    int    `mapstructure:"seed_timeout_seconds"`
	UserAgent             string `mapstructure:"user_agent"`
	ChannelBuffer         int    `mapstructure:"channel_buffer"`
}

// APIConfig bounds HTTP handler execution.
type APIConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// ArchiveConfig selects where finished graphs are exported.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	Topic     string `mapstructure:"topic"`
	ProjectID string `mapstructure:"project_id"`
}

// DBConfig controls access to the run summary table.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEGRAPH")
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

func setDefaults(v *viper.Viper) {
	defaults := crawler.DefaultOptions()
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.concurrency", defaults.FetchConcurrency)
	v.SetDefault("crawler.max_depth", defaults.MaxDepth)
	v.SetDefault("crawler.max_content_kb", defaults.MaxContentKB)
	v.SetDefault("crawler.verify_tls", defaults.VerifyTLS)
	v.SetDefault("crawler.follow_redirects", defaults.FollowRedirects)
	v.SetDefault("crawler.request_timeout_seconds", 0)
	v.SetDefault("crawler.seed_timeout_seconds", 0)
	v.SetDefault("crawler.user_agent", "sitegraph-bot/0.1")
	v.SetDefault("crawler.channel_buffer", 256)
	v.SetDefault("api.request_timeout_seconds", 0)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local_dir", "graphs")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "graphs")
	v.SetDefault("archive.topic", "")
	v.SetDefault("archive.project_id", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "crawl_runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.ChannelBuffer <= 0 {
		return fmt.Errorf("crawler.channel_buffer must be > 0")
	}
	if c.API.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("api.request_timeout_seconds must be >= 0")
	}
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	// The memory backend keeps events in process; every other topic goes to Pub/Sub.
	if c.Archive.Topic != "" && c.Archive.ProjectID == "" && c.Archive.Backend != ArchiveMemory {
		return fmt.Errorf("archive.project_id must be set when archive.topic is set")
	}
	return nil
}

// ArchiveEnabled reports whether finished runs are exported anywhere.
func (c Config) ArchiveEnabled() bool {
	return (c.Archive.Backend != "" && c.Archive.Backend != ArchiveNone) ||
		c.Archive.Topic != "" || c.DB.DSN != ""
}

// DefaultOptions converts the crawler section into run options. The seed
// timeout falls back to the request timeout when unset.
func (c Config) DefaultOptions() crawler.Options {
	opts := crawler.DefaultOptions()
	opts.FetchConcurrency = c.Crawler.Concurrency
	opts.MaxDepth = c.Crawler.MaxDepth
	opts.MaxContentKB = c.Crawler.MaxContentKB
	opts.VerifyTLS = c.Crawler.VerifyTLS
	opts.FollowRedirects = c.Crawler.FollowRedirects
	opts.UserAgent = c.Crawler.UserAgent
	opts.RequestTimeout = seconds(c.Crawler.RequestTimeoutSeconds)
	opts.SeedTimeout = seconds(c.Crawler.SeedTimeoutSeconds)
	if opts.SeedTimeout == 0 {
		opts.SeedTimeout = opts.RequestTimeout
	}
	return opts
}

// APITimeout bounds the crawl behind one API request; zero means unbounded.
// When it expires the graph built so far is still returned.
func (c Config) APITimeout() time.Duration {
	return seconds(c.API.RequestTimeoutSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
