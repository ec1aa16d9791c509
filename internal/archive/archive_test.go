package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/sitegraph/internal/publisher/memory"
	"github.com/JakeFAU/sitegraph/internal/storage/memory"
)

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

func sampleRun() Run {
	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return Run{
		ID:       "run-1",
		Seeds:    []string{"https://a.test"},
		Options:  crawler.DefaultOptions(),
		Started:  started,
		Finished: started.Add(2 * time.Second),
		Result: crawler.Result{
			Graph: crawler.Graph{
				Nodes: []crawler.Node{
					{ID: "1", Label: "a.test", URL: "https://a.test", Analysis: crawler.AnalysisPending},
					{ID: "2", Label: "/b", URL: "https://a.test/b", Analysis: crawler.AnalysisPending},
				},
				Edges: []crawler.Edge{{ID: "e1-2", Source: "1", Target: "2"}},
			},
			Seeds: []crawler.SeedReport{{
				Seed:     "https://a.test",
				Failures: []*crawler.FetchError{{URL: "https://a.test/c", Cause: errors.New("reset")}},
				TimedOut: true,
			}},
		},
	}
}

func TestArchiveWritesEverySink(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	runs := memory.NewRunStore()
	pub := pubmemory.New()
	a := New(Config{Prefix: "/graphs/", Topic: "crawl-runs"}, Deps{Blobs: blobs, Runs: runs, Publisher: pub}, nil)

	run := sampleRun()
	record, err := a.Archive(context.Background(), run)
	require.NoError(t, err)

	obj, ok := blobs.Get("graphs/run-1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", obj.ContentType)
	var graph crawler.Graph
	require.NoError(t, json.Unmarshal(obj.Data, &graph))
	require.Equal(t, run.Result.Graph, graph)

	wantHash, err := sha256.New().Hash(obj.Data)
	require.NoError(t, err)
	require.Equal(t, wantHash, record.GraphHash)
	require.Equal(t, "memory://graphs/run-1.json", record.GraphURI)
	require.Equal(t, 2, record.NodeCount)
	require.Equal(t, 1, record.EdgeCount)
	require.Equal(t, 1, record.FailedPages)
	require.Equal(t, 1, record.TimedOut)

	stored, ok := runs.Run("run-1")
	require.True(t, ok)
	require.Equal(t, record, stored)

	msgs := pub.Topic("crawl-runs")
	require.Len(t, msgs, 1)
	var event Event
	require.NoError(t, msgs[0].Decode(&event))
	require.Equal(t, "run-1", event.RunID)
	require.Equal(t, record.GraphURI, event.GraphURI)
	require.Equal(t, record.GraphHash, event.GraphHash)
	require.Equal(t, "crawl.archived", msgs[0].Attributes["event"])
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])
}

func TestArchiveContinuesAfterStageFailure(t *testing.T) {
	t.Parallel()

	blobs := &mockBlobStore{}
	blobs.On("PutObject", mock.Anything, "runs/run-1.json", "application/json", mock.Anything).
		Return("", errors.New("bucket gone"))
	runs := memory.NewRunStore()
	pub := pubmemory.New()

	a := New(Config{Prefix: "runs", Topic: "crawl-runs"}, Deps{Blobs: blobs, Runs: runs, Publisher: pub}, nil)
	record, err := a.Archive(context.Background(), sampleRun())
	require.ErrorContains(t, err, "bucket gone")
	require.Empty(t, record.GraphURI)

	_, ok := runs.Run("run-1")
	require.True(t, ok)
	require.Len(t, pub.Messages(), 1)
	blobs.AssertExpectations(t)
}

func TestArchiveSkipsUnsetSinks(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	a := New(Config{}, Deps{Publisher: pub}, nil)
	record, err := a.Archive(context.Background(), sampleRun())
	require.NoError(t, err)
	require.NotEmpty(t, record.GraphHash)
	// No topic configured.
	require.Empty(t, pub.Messages())

	_, err = a.Archive(context.Background(), Run{})
	require.Error(t, err)
}

func TestBlobPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "graphs/abc.json", New(Config{Prefix: "graphs"}, Deps{}, nil).BlobPath("abc"))
	require.Equal(t, "abc.json", New(Config{}, Deps{}, nil).BlobPath("abc"))
}
