package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/api"
	"github.com/JakeFAU/sitegraph/internal/clock/system"
	"github.com/JakeFAU/sitegraph/internal/config"
	"github.com/JakeFAU/sitegraph/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitegraph/internal/fetcher/colly"
	"github.com/JakeFAU/sitegraph/internal/id/uuid"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the crawl API over HTTP",
		Long: `Starts the HTTP API. POST /api/crawler runs one crawl per request and
answers with the graph; health and Prometheus endpoints are served alongside.
The listen port comes from server.port, or from PORT when that is set.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archiver, cleanup, err := openArchiver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := crawler.NewEngine(
		collyfetcher.NewFactory(cfg.Crawler.UserAgent),
		crawler.EngineConfig{ChannelBuffer: cfg.Crawler.ChannelBuffer},
		logger,
	)
	var sink api.Archiver
	if archiver != nil {
		sink = archiver
	}
	server := api.NewServer(engine, sink, uuid.New(), system.New(), cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", listenPort(cfg)),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting http server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := server.Wait(shutdownCtx); err != nil {
		logger.Warn("archive uploads still running at exit", zap.Error(err))
	}
	return nil
}

// listenPort prefers PORT, which hosted container platforms inject.
func listenPort(cfg config.Config) int {
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			return port
		}
	}
	return cfg.Server.Port
}
