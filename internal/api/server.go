package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/archive"
	"github.com/JakeFAU/sitegraph/internal/config"
	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/logging"
	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const archiveTimeout = 30 * time.Second

// Crawler runs one crawl. *crawler.Engine satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, seeds []string, opts crawler.Options) (crawler.Result, error)
}

// Archiver exports a finished run. *archive.Archiver satisfies it.
type Archiver interface {
	Archive(ctx context.Context, run archive.Run) (crawler.RunRecord, error)
}

// Server wires HTTP handlers to the crawl engine.
type Server struct {
	router   chi.Router
	engine   Crawler
	archiver Archiver
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger

	archiving sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes. archiver may be nil.
func NewServer(
	engine Crawler,
	archiver Archiver,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		archiver: archiver,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Run-ID", "X-Request-ID", "X-Crawl-Partial"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthz)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/crawler", func(r chi.Router) {
		r.Post("/", s.crawl)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until in-flight archive uploads finish or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.archiving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for archive uploads: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveRun(metrics.RunRejected)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	runID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate run id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	logger := logging.ForRun(s.logger, runID)
	opts := req.options(s.cfg.DefaultOptions())
	started := s.clock.Now()

	ctx := r.Context()
	if d := s.cfg.APITimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	// An expired API deadline still answers with the graph built so far.
	result, err := s.engine.Crawl(ctx, req.URLs, opts)
	partial := false
	switch {
	case err == nil:
	case crawler.IsConfigError(err):
		metrics.ObserveRun(metrics.RunRejected)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		logger.Warn("crawl deadline reached, returning partial graph",
			zap.Int("nodes", len(result.Graph.Nodes)),
			zap.Error(err),
		)
		partial = true
	default:
		logger.Error("crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.archive(logger, archive.Run{
		ID:       runID,
		Seeds:    crawler.CleanSeeds(req.URLs),
		Options:  opts,
		Started:  started,
		Finished: s.clock.Now(),
		Result:   result,
	})

	w.Header().Set("X-Run-ID", runID)
	if partial {
		w.Header().Set("X-Crawl-Partial", "true")
	}
	writeJSON(w, http.StatusOK, result.Graph)
}

// archive hands the run to the archiver in the background. The upload
// outlives the request, so it gets its own deadline.
func (s *Server) archive(logger *zap.Logger, run archive.Run) {
	if s.archiver == nil {
		return
	}
	s.archiving.Add(1)
	go func() {
		defer s.archiving.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if _, err := s.archiver.Archive(ctx, run); err != nil {
			logger.Warn("archive incomplete", zap.Error(err))
		}
	}()
}

// crawlRequest mirrors the request body clients already send. Pointer fields
// distinguish "omitted" from a zero value so config defaults apply.
type crawlRequest struct {
	URLs             []string `json:"urls"`
	Inside           *bool    `json:"inside"`
	Threads          *int     `json:"threads"`
	Depth            *int     `json:"depth"`
	MaxSize          *int     `json:"max_size"`
	Subs             *bool    `json:"subs"`
	Headers          string   `json:"headers"`
	Unique           *bool    `json:"unique"`
	Proxy            string   `json:"proxy"`
	Timeout          *int     `json:"timeout"`
	SeedTimeout      *int     `json:"seed_timeout"`
	DisableRedirects *bool    `json:"disable_redirects"`
	VerifyTLS        *bool    `json:"verify_tls"`

	// Output toggles of the command-line client; accepted and ignored.
	Insecure   bool `json:"insecure"`
	JSON       bool `json:"json"`
	ShowSource bool `json:"show_source"`
	ShowWhere  bool `json:"show_where"`
}

func (req crawlRequest) options(defaults crawler.Options) crawler.Options {
	opts := defaults
	opts.RestrictToPath = valueOrDefault(req.Inside, opts.RestrictToPath)
	opts.FetchConcurrency = valueOrDefault(req.Threads, opts.FetchConcurrency)
	opts.MaxDepth = valueOrDefault(req.Depth, opts.MaxDepth)
	opts.MaxContentKB = valueOrDefault(req.MaxSize, opts.MaxContentKB)
	opts.IncludeSubdomains = valueOrDefault(req.Subs, opts.IncludeSubdomains)
	opts.UniqueTargets = valueOrDefault(req.Unique, opts.UniqueTargets)
	opts.VerifyTLS = valueOrDefault(req.VerifyTLS, opts.VerifyTLS)
	if req.DisableRedirects != nil {
		opts.FollowRedirects = !*req.DisableRedirects
	}
	if req.Headers != "" {
		opts.RawHeaders = req.Headers
	}
	if req.Proxy != "" {
		opts.Proxy = req.Proxy
	}
	if req.Timeout != nil {
		opts.RequestTimeout = secondsOrUnbounded(*req.Timeout)
		opts.SeedTimeout = opts.RequestTimeout
	}
	if req.SeedTimeout != nil {
		opts.SeedTimeout = secondsOrUnbounded(*req.SeedTimeout)
	}
	return opts
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func secondsOrUnbounded(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
