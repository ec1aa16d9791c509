package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/semaphore"
)

// cancelingFetcher cancels the walk while the page is being fetched, so the
// links it returns arrive after the deadline.
type cancelingFetcher struct {
	cancel context.CancelFunc
	links  []string
}

func (f *cancelingFetcher) Fetch(_ context.Context, rawURL string) (FetchResult, error) {
	f.cancel()
	return FetchResult{URL: rawURL, StatusCode: 200, Links: f.links}, nil
}

func TestWalkerEmitsNothingAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &cancelingFetcher{cancel: cancel, links: []string{
		"https://w.test/a", "https://w.test/b", "https://w.test/c",
	}}
	opts := DefaultOptions()
	scope, err := NewScope("https://w.test", opts)
	require.NoError(t, err)

	// Room for every link, so only the cancellation check can hold them back.
	out := make(chan Discovery, 8)
	w := newWalker("https://w.test", scope, opts, f, semaphore.NewWeighted(1), out, zap.NewNop())
	report := w.run(ctx)

	require.Zero(t, len(out))
	require.Zero(t, report.Emitted)
	require.Equal(t, 1, report.Fetched)
	require.True(t, report.TimedOut)
}

func TestCrawlLogsSeedHost(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fakeFetcher{pages: map[string]fakePage{
		"https://Logs.test/start": {err: errors.New("connection refused")},
	}}
	engine := NewEngine(func(Options) (Fetcher, error) { return f, nil }, EngineConfig{}, zap.New(core))

	_, err := engine.Crawl(context.Background(), []string{"https://Logs.test/start"}, DefaultOptions())
	require.NoError(t, err)

	failures := logs.FilterMessage("fetch failed").All()
	require.Len(t, failures, 1)
	require.Equal(t, "logs.test", failures[0].ContextMap()["host"])
}
