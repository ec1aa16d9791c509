// Package archive exports finished crawl graphs: the graph JSON goes to a
// blob store, a summary row to the run store, and a completion event to a
// topic. Every stage is optional and no crawl ever reads an archive back.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/hash/sha256"
)

const graphContentType = "application/json"

// Run is a finished crawl handed to the archiver.
type Run struct {
	ID       string
	Seeds    []string
	Options  crawler.Options
	Started  time.Time
	Finished time.Time
	Result   crawler.Result
}

// Event is the payload published when a run has been archived.
type Event struct {
	RunID      string    `json:"run_id"`
	Seeds      []string  `json:"seeds"`
	Nodes      int       `json:"nodes"`
	Edges      int       `json:"edges"`
	GraphURI   string    `json:"graph_uri,omitempty"`
	GraphHash  string    `json:"graph_hash"`
	FinishedAt time.Time `json:"finished_at"`
}

// Attributes exposes the run id as a message attribute.
func (e Event) Attributes() map[string]string {
	return map[string]string{"run_id": e.RunID, "event": "crawl.archived"}
}

// Config names where archived runs go.
type Config struct {
	// Prefix is prepended to blob paths: "<prefix>/<run id>.json".
	Prefix string
	// Topic receives completion events; empty disables publishing.
	Topic string
}

// Deps are the optional sinks. Nil sinks are skipped.
type Deps struct {
	Blobs     crawler.BlobStore
	Runs      crawler.RunStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
}

// Archiver writes finished runs to the configured sinks.
type Archiver struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs an Archiver. A nil Hasher defaults to SHA-256.
func New(cfg Config, deps Deps, logger *zap.Logger) *Archiver {
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Archiver{cfg: cfg, deps: deps, logger: logger.Named("archive")}
}

// BlobPath returns the object path a run's graph is written to.
func (a *Archiver) BlobPath(runID string) string {
	return path.Join(a.cfg.Prefix, runID+".json")
}

// Archive exports run. Stages run independently: a failing blob write does
// not stop the summary row or the event. The returned error joins every stage
// failure; callers log it and move on.
func (a *Archiver) Archive(ctx context.Context, run Run) (crawler.RunRecord, error) {
	if run.ID == "" {
		return crawler.RunRecord{}, fmt.Errorf("run id is required")
	}
	logger := a.logger.With(zap.String("run_id", run.ID))

	payload, err := json.Marshal(run.Result.Graph)
	if err != nil {
		return crawler.RunRecord{}, fmt.Errorf("encode graph: %w", err)
	}
	digest, err := a.deps.Hasher.Hash(payload)
	if err != nil {
		return crawler.RunRecord{}, fmt.Errorf("hash graph: %w", err)
	}
	record := summarize(run, digest)

	var errs []error
	if a.deps.Blobs != nil {
		uri, err := a.deps.Blobs.PutObject(ctx, a.BlobPath(run.ID), graphContentType, bytes.NewReader(payload))
		if err != nil {
			logger.Warn("graph upload failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("put graph: %w", err))
		} else {
			record.GraphURI = uri
		}
	}
	if a.deps.Runs != nil {
		if err := a.deps.Runs.RecordRun(ctx, record); err != nil {
			logger.Warn("run summary not recorded", zap.Error(err))
			errs = append(errs, fmt.Errorf("record run: %w", err))
		}
	}
	if a.deps.Publisher != nil && a.cfg.Topic != "" {
		msgID, err := a.deps.Publisher.Publish(ctx, a.cfg.Topic, Event{
			RunID:      record.ID,
			Seeds:      record.Seeds,
			Nodes:      record.NodeCount,
			Edges:      record.EdgeCount,
			GraphURI:   record.GraphURI,
			GraphHash:  record.GraphHash,
			FinishedAt: record.FinishedAt,
		})
		if err != nil {
			logger.Warn("archive event not published", zap.Error(err))
			errs = append(errs, fmt.Errorf("publish event: %w", err))
		} else {
			logger.Debug("archive event published", zap.String("message_id", msgID))
		}
	}

	logger.Info("run archived",
		zap.String("graph_uri", record.GraphURI),
		zap.String("graph_hash", record.GraphHash),
		zap.Int("failed_stages", len(errs)),
	)
	return record, errors.Join(errs...)
}

func summarize(run Run, digest string) crawler.RunRecord {
	record := crawler.RunRecord{
		ID:         run.ID,
		Seeds:      append([]string(nil), run.Seeds...),
		NodeCount:  len(run.Result.Graph.Nodes),
		EdgeCount:  len(run.Result.Graph.Edges),
		GraphHash:  digest,
		StartedAt:  run.Started,
		FinishedAt: run.Finished,
	}
	for _, s := range run.Result.Seeds {
		record.FailedPages += len(s.Failures)
		if s.TimedOut {
			record.TimedOut++
		}
	}
	return record
}
