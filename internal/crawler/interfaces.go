package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs one bounded GET and returns the absolute links found on the page.
// Transport failures must be returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// FetcherFactory builds the Fetcher used by a single run.
type FetcherFactory func(opts Options) (Fetcher, error)

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for archived artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunRecord is the summary row persisted for an archived run.
type RunRecord struct {
	ID          string
	Seeds       []string
	NodeCount   int
	EdgeCount   int
	FailedPages int
	TimedOut    int
	GraphURI    string
	GraphHash   string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RunStore persists run summaries.
type RunStore interface {
	RecordRun(ctx context.Context, record RunRecord) error
}
