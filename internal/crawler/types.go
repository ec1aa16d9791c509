// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/url"
	"time"
)

// AnalysisPending is the placeholder stored in Node.Analysis until enrichment exists.
const AnalysisPending = "Link analysis pending"

// Node is a page observed during a run.
type Node struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	Analysis string `json:"analysis"`
}

// Edge is a reference from one page to another.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the result of a crawl run.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Discovery is emitted by a walker for every in-scope link it extracts.
type Discovery struct {
	URL    string
	Parent string
}

// FetchResult is what a Fetcher returns for one page.
type FetchResult struct {
	URL        string
	StatusCode int
	Links      []string
	// Skipped is set when the page was abandoned because its declared
	// Content-Length exceeded the configured budget.
	Skipped bool
}

// SeedReport summarizes one seed traversal.
type SeedReport struct {
	Seed     string        `json:"seed"`
	Fetched  int           `json:"fetched"`
	Skipped  int           `json:"skipped"`
	Emitted  int           `json:"emitted"`
	Failures []*FetchError `json:"-"`
	TimedOut bool          `json:"timed_out"`
}

// Result bundles the graph with per-seed traversal reports.
type Result struct {
	Graph Graph        `json:"graph"`
	Seeds []SeedReport `json:"seeds"`
}

// Options configures a single crawl run. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	RestrictToPath    bool
	IncludeSubdomains bool
	UniqueTargets     bool
	FollowRedirects   bool
	VerifyTLS         bool
	FetchConcurrency  int
	MaxDepth          int
	// MaxContentKB bounds the declared Content-Length; <= 0 means unbounded.
	MaxContentKB int
	RawHeaders   string
	Proxy        string
	UserAgent    string
	// RequestTimeout bounds each fetch; <= 0 means unbounded.
	RequestTimeout time.Duration
	// SeedTimeout bounds a whole seed traversal; <= 0 means unbounded.
	SeedTimeout time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		FetchConcurrency: 8,
		MaxDepth:         2,
		MaxContentKB:     -1,
		FollowRedirects:  true,
	}
}

// Validate checks option combinations once at the start of a run.
func (o Options) Validate() error {
	if o.FetchConcurrency <= 0 {
		return &ConfigError{Field: "fetch_concurrency", Err: fmt.Errorf("must be > 0, got %d", o.FetchConcurrency)}
	}
	if o.MaxDepth < 0 {
		return &ConfigError{Field: "max_depth", Err: fmt.Errorf("must be >= 0, got %d", o.MaxDepth)}
	}
	if o.Proxy != "" {
		u, err := url.Parse(o.Proxy)
		if err != nil {
			return &ConfigError{Field: "proxy", Err: fmt.Errorf("parse proxy: %w", err)}
		}
		if u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "proxy", Err: fmt.Errorf("proxy %q must be an absolute URL", o.Proxy)}
		}
	}
	return nil
}
