package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const defaultChannelBuffer = 256

// EngineConfig tunes the orchestrator itself rather than a single run.
type EngineConfig struct {
	// ChannelBuffer is the capacity of the walker-to-builder channel.
	ChannelBuffer int
}

// Engine coordinates walkers and the graph builder for each run. An Engine
// holds no per-run state and is safe for concurrent Crawl calls.
type Engine struct {
	newFetcher FetcherFactory
	cfg        EngineConfig
	logger     *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(newFetcher FetcherFactory, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = defaultChannelBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{
		newFetcher: newFetcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Crawl traverses every seed and returns the assembled graph. Only invalid
// inputs fail the call; per-URL and per-seed failures are reported in the
// Result. If ctx is canceled the partial result is returned with ctx's error.
func (e *Engine) Crawl(ctx context.Context, seeds []string, opts Options) (Result, error) {
	seeds = CleanSeeds(seeds)
	if len(seeds) == 0 {
		return Result{}, &ConfigError{Field: "urls", Err: ErrNoSeeds}
	}
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if e.newFetcher == nil {
		return Result{}, &ConfigError{Field: "fetcher", Err: fmt.Errorf("no fetcher factory configured")}
	}
	fetcher, err := e.newFetcher(opts)
	if err != nil {
		return Result{}, &ConfigError{Field: "fetcher", Err: err}
	}

	start := time.Now()
	b := newBuilder(opts.UniqueTargets)
	for _, s := range seeds {
		b.seed(s)
	}

	links := make(chan Discovery, e.cfg.ChannelBuffer)
	builderDone := make(chan struct{})
	go func() {
		defer close(builderDone)
		b.consume(links)
	}()

	reports := e.runWalkers(ctx, seeds, opts, fetcher, links)

	close(links)
	<-builderDone

	result := Result{Graph: b.graph(), Seeds: reports}
	metrics.ObserveGraph(len(result.Graph.Nodes), len(result.Graph.Edges))
	e.logger.Info("crawl finished",
		zap.Int("seeds", len(seeds)),
		zap.Int("nodes", len(result.Graph.Nodes)),
		zap.Int("edges", len(result.Graph.Edges)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err := ctx.Err(); err != nil {
		metrics.ObserveRun(metrics.RunCanceled)
		return result, fmt.Errorf("crawl canceled: %w", err)
	}
	metrics.ObserveRun(metrics.RunSucceeded)
	return result, nil
}

// runWalkers starts one walker per seed and waits for all of them. Every
// walker shares the same fetch slots.
func (e *Engine) runWalkers(
	ctx context.Context,
	seeds []string,
	opts Options,
	fetcher Fetcher,
	links chan<- Discovery,
) []SeedReport {
	slots := semaphore.NewWeighted(int64(opts.FetchConcurrency))
	reports := make([]SeedReport, len(seeds))

	// Walkers never return an error, so the group's context is never canceled
	// by a sibling.
	var g errgroup.Group
	for i, seed := range seeds {
		g.Go(func() error {
			reports[i] = e.walkSeed(ctx, seed, opts, fetcher, slots, links)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (e *Engine) walkSeed(
	ctx context.Context,
	seed string,
	opts Options,
	fetcher Fetcher,
	slots *semaphore.Weighted,
	links chan<- Discovery,
) SeedReport {
	logger := e.logger.With(zap.String("seed", seed))
	scope, err := NewScope(seed, opts)
	if err != nil {
		logger.Warn("seed skipped", zap.Error(err))
		return SeedReport{Seed: seed}
	}
	logger = logger.With(zap.String("host", scope.Host()))

	walkCtx := ctx
	if opts.SeedTimeout > 0 {
		var cancel context.CancelFunc
		walkCtx, cancel = context.WithTimeout(ctx, opts.SeedTimeout)
		defer cancel()
	}
	w := newWalker(seed, scope, opts, fetcher, slots, links, logger)
	return w.run(walkCtx)
}
