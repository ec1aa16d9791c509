package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Route("/api/crawler", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	crawlBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/crawler/", "400"))
	healthBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/crawler/", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
		httptest.NewRequest(http.MethodGet, "/nowhere", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/crawler/", "400")); got != crawlBefore+1 {
		t.Errorf("crawl route count = %f, want %f", got, crawlBefore+1)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")); got != healthBefore+1 {
		t.Errorf("implicit 200 not recorded: got %f, want %f", got, healthBefore+1)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")); got != missBefore+1 {
		t.Errorf("unmatched route count = %f, want %f", got, missBefore+1)
	}
	if n := testutil.CollectAndCount(httpRequestDurationSeconds); n == 0 {
		t.Error("expected request durations to be observed")
	}
}

func TestStatusWriterKeepsFirstCode(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	sw.WriteHeader(http.StatusAccepted)
	sw.WriteHeader(http.StatusInternalServerError)
	if sw.code() != http.StatusAccepted {
		t.Errorf("code() = %d, want %d", sw.code(), http.StatusAccepted)
	}
}
