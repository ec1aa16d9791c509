// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunCanceled  = "canceled"
	RunRejected  = "rejected"
)

var (
	fetchesTotal               *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	seedTimeoutsTotal          prometheus.Counter
	graphNodes                 prometheus.Histogram
	graphEdges                 prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegraph_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegraph_runs_total",
				Help: "Total number of crawl runs, labeled by status.",
			},
			[]string{"status"},
		)

		seedTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitegraph_seed_timeouts_total",
				Help: "Total seed traversals stopped by their deadline.",
			},
		)

		graphNodes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitegraph_graph_nodes",
				Help:    "Number of nodes per finished run.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)

		graphEdges = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitegraph_graph_edges",
				Help:    "Number of edges per finished run.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetch attempt.
func ObserveFetch(site string, outcome string) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRun counts a finished or rejected run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveSeedTimeout counts a seed traversal that hit its deadline.
func ObserveSeedTimeout() {
	Init()
	seedTimeoutsTotal.Inc()
}

// ObserveGraph records the size of a finished graph.
func ObserveGraph(nodes, edges int) {
	Init()
	graphNodes.Observe(float64(nodes))
	graphEdges.Observe(float64(edges))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
