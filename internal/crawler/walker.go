package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitegraph/internal/metrics"
)

type frontierEntry struct {
	url   string
	depth int
}

// walker runs the breadth-first traversal of one seed. Its frontier and
// visited set are never shared with other walkers.
type walker struct {
	seed     string
	scope    Scope
	maxDepth int
	fetcher  Fetcher
	slots    *semaphore.Weighted
	out      chan<- Discovery
	logger   *zap.Logger

	frontier []frontierEntry
	visited  map[string]struct{}
	report   SeedReport
}

func newWalker(
	seed string,
	scope Scope,
	opts Options,
	fetcher Fetcher,
	slots *semaphore.Weighted,
	out chan<- Discovery,
	logger *zap.Logger,
) *walker {
	return &walker{
		seed:     seed,
		scope:    scope,
		maxDepth: opts.MaxDepth,
		fetcher:  fetcher,
		slots:    slots,
		out:      out,
		logger:   logger,
		frontier: []frontierEntry{{url: seed, depth: 0}},
		visited:  make(map[string]struct{}),
		report:   SeedReport{Seed: seed},
	}
}

// run drains the frontier. Cancellation ends the walk early but is not an error.
func (w *walker) run(ctx context.Context) SeedReport {
	for len(w.frontier) > 0 {
		if ctx.Err() != nil {
			w.stop(ctx)
			break
		}
		entry := w.frontier[0]
		w.frontier = w.frontier[1:]

		if entry.depth > w.maxDepth {
			continue
		}
		if _, seen := w.visited[entry.url]; seen {
			continue
		}
		w.visited[entry.url] = struct{}{}

		result, err := w.fetch(ctx, entry.url)
		if err != nil {
			if ctx.Err() != nil {
				w.stop(ctx)
				break
			}
			w.recordFailure(entry.url, err)
			continue
		}
		w.report.Fetched++
		if result.Skipped {
			w.report.Skipped++
			metrics.ObserveFetch(entry.url, metrics.OutcomeSkipped)
			w.logger.Info("page skipped: content length over budget", zap.String("url", entry.url))
			continue
		}
		metrics.ObserveFetch(entry.url, metrics.OutcomeOK)

		if !w.expand(ctx, entry, result.Links) {
			w.stop(ctx)
			break
		}
	}
	return w.report
}

func (w *walker) fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if err := w.slots.Acquire(ctx, 1); err != nil {
		return FetchResult{}, fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer w.slots.Release(1)
	result, err := w.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return FetchResult{}, err
	}
	return result, nil
}

// expand emits in-scope links and grows the frontier. It returns false when
// the walk was canceled mid-way.
func (w *walker) expand(ctx context.Context, entry frontierEntry, links []string) bool {
	for _, link := range links {
		if !w.scope.Allows(link) {
			continue
		}
		if ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case w.out <- Discovery{URL: link, Parent: entry.url}:
		}
		w.report.Emitted++
		if entry.depth < w.maxDepth {
			w.frontier = append(w.frontier, frontierEntry{url: link, depth: entry.depth + 1})
		}
	}
	return true
}

func (w *walker) recordFailure(rawURL string, err error) {
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		fetchErr = &FetchError{URL: rawURL, Cause: err}
	}
	w.report.Failures = append(w.report.Failures, fetchErr)
	metrics.ObserveFetch(rawURL, metrics.OutcomeError)
	w.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(fetchErr.Cause))
}

func (w *walker) stop(ctx context.Context) {
	if w.report.TimedOut {
		return
	}
	w.report.TimedOut = true
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		metrics.ObserveSeedTimeout()
	}
	w.logger.Warn("seed traversal stopped early",
		zap.String("seed", w.seed),
		zap.Int("pending", len(w.frontier)),
		zap.Error(ctx.Err()),
	)
}
