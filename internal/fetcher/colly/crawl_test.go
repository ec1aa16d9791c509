package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// These tests run the engine end to end with the colly fetcher, so the URLs
// the fetcher produces must line up with the seed URLs the builder registers.

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(siteHandler(pages))
	t.Cleanup(srv.Close)
	return srv
}

func siteHandler(pages map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	})
}

func crawlSite(t *testing.T, seed string, opts crawler.Options) crawler.Result {
	t.Helper()
	engine := crawler.NewEngine(NewFactory("sitegraph-test"), crawler.EngineConfig{}, zap.NewNop())
	res, err := engine.Crawl(context.Background(), []string{seed}, opts)
	require.NoError(t, err)
	return res
}

func graphURLs(g crawler.Graph) []string {
	out := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n.URL)
	}
	return out
}

func TestCrawlSiteDropsOffHostLinks(t *testing.T) {
	t.Parallel()

	srv := newSite(t, map[string]string{
		"/":      `<a href="/page1">one</a><a href="https://other.test/a">away</a>`,
		"/page1": `<p>leaf</p>`,
	})

	res := crawlSite(t, srv.URL, crawler.DefaultOptions())
	require.Equal(t, []string{srv.URL, srv.URL + "/page1"}, graphURLs(res.Graph))
	require.Equal(t, []crawler.Edge{{ID: "e1-2", Source: "1", Target: "2"}}, res.Graph.Edges)
	require.Len(t, res.Seeds, 1)
	require.Equal(t, 2, res.Seeds[0].Fetched)
	require.Empty(t, res.Seeds[0].Failures)
}

func TestCrawlSiteSelfLinkReusesSeedNode(t *testing.T) {
	t.Parallel()

	// The page links to its own absolute URL, which has no trailing slash.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="http://` + r.Host + `">home</a>`))
	}))
	t.Cleanup(srv.Close)

	res := crawlSite(t, srv.URL, crawler.DefaultOptions())
	require.Equal(t, []string{srv.URL}, graphURLs(res.Graph))
	require.Equal(t, []crawler.Edge{{ID: "e1-1", Source: "1", Target: "1"}}, res.Graph.Edges)
	require.Equal(t, 1, res.Seeds[0].Fetched)
}

func TestCrawlSiteTLSVerification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(siteHandler(map[string]string{
		"/":     `<a href="/next">next</a>`,
		"/next": `<p>done</p>`,
	}))
	t.Cleanup(srv.Close)

	t.Run("unverified", func(t *testing.T) {
		t.Parallel()
		opts := crawler.DefaultOptions()
		opts.VerifyTLS = false

		res := crawlSite(t, srv.URL, opts)
		require.Equal(t, []string{srv.URL, srv.URL + "/next"}, graphURLs(res.Graph))
		require.Empty(t, res.Seeds[0].Failures)
	})

	t.Run("verified", func(t *testing.T) {
		t.Parallel()
		opts := crawler.DefaultOptions()
		opts.VerifyTLS = true

		res := crawlSite(t, srv.URL, opts)
		require.Equal(t, []string{srv.URL}, graphURLs(res.Graph))
		require.Empty(t, res.Graph.Edges)
		require.Len(t, res.Seeds[0].Failures, 1)
		require.Equal(t, srv.URL, res.Seeds[0].Failures[0].URL)
		require.Zero(t, res.Seeds[0].Fetched)
	})
}
