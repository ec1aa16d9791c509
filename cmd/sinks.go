package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/archive"
	"github.com/JakeFAU/sitegraph/internal/config"
	memorypublisher "github.com/JakeFAU/sitegraph/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/sitegraph/internal/publisher/pubsub"
	"github.com/JakeFAU/sitegraph/internal/storage/gcs"
	"github.com/JakeFAU/sitegraph/internal/storage/local"
	"github.com/JakeFAU/sitegraph/internal/storage/memory"
	"github.com/JakeFAU/sitegraph/internal/storage/postgres"
)

// openArchiver builds the archiver described by cfg. It returns a nil
// archiver when nothing is configured. On success the caller owns cleanup,
// which releases every client that was opened; on error nothing is left open.
func openArchiver(ctx context.Context, cfg config.Config, logger *zap.Logger) (*archive.Archiver, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*archive.Archiver, func(), error) {
		cleanup()
		return nil, nil, err
	}
	if !cfg.ArchiveEnabled() {
		return nil, cleanup, nil
	}

	var deps archive.Deps
	switch cfg.Archive.Backend {
	case config.ArchiveMemory:
		deps.Blobs = memory.NewBlobStore()
		deps.Runs = memory.NewRunStore()
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return fail(fmt.Errorf("open local archive: %w", err))
		}
		deps.Blobs = store
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return fail(fmt.Errorf("open gcs archive: %w", err))
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		})
		deps.Blobs = store
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return fail(fmt.Errorf("open run store: %w", err))
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("ensure run table: %w", err))
		}
		deps.Runs = store
	}

	if cfg.Archive.Topic != "" {
		if cfg.Archive.Backend == config.ArchiveMemory && cfg.Archive.ProjectID == "" {
			deps.Publisher = memorypublisher.New()
		} else {
			pub, err := pubsubpublisher.Open(ctx, cfg.Archive.ProjectID)
			if err != nil {
				return fail(fmt.Errorf("open pubsub publisher: %w", err))
			}
			closers = append(closers, func() {
				if err := pub.Close(); err != nil {
					logger.Warn("close pubsub client", zap.Error(err))
				}
			})
			deps.Publisher = pub
		}
	}

	logger.Info("archive configured",
		zap.String("backend", cfg.Archive.Backend),
		zap.Bool("run_store", deps.Runs != nil),
		zap.String("topic", cfg.Archive.Topic),
	)
	return archive.New(archive.Config{Prefix: cfg.Archive.Prefix, Topic: cfg.Archive.Topic}, deps, logger), cleanup, nil
}
