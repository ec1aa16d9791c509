package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/archive"
	"github.com/JakeFAU/sitegraph/internal/clock/system"
	"github.com/JakeFAU/sitegraph/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitegraph/internal/fetcher/colly"
	"github.com/JakeFAU/sitegraph/internal/id/uuid"
	"github.com/JakeFAU/sitegraph/internal/logging"
)

const archiveTimeout = 30 * time.Second

// crawlFlags holds the per-run overrides accepted by the crawl command.
// Only flags the user actually set replace the configured defaults.
type crawlFlags struct {
	inside           bool
	subs             bool
	unique           bool
	disableRedirects bool
	verifyTLS        bool
	threads          int
	depth            int
	maxSize          int
	timeout          int
	seedTimeout      int
	headers          string
	proxy            string
	report           bool
}

func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl URL [URL...]",
		Short: "Crawls the given seeds once and prints the graph as JSON",
		Long: `Walks every seed URL concurrently and writes the resulting graph to
stdout. Links are followed only on the seed's host (and its subdomains with
--subs). When an archive is configured the run is exported before exit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args, flags)
		},
	}

	flags.register(cmd)
	return cmd
}

// register binds the crawl flags to cmd.
func (f *crawlFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.inside, "inside", false, "stay under the seed's path")
	fs.BoolVar(&f.subs, "subs", false, "include subdomains of the seed host")
	fs.BoolVar(&f.unique, "unique", false, "record only the first edge into each page")
	fs.BoolVar(&f.disableRedirects, "disable-redirects", false, "do not follow HTTP redirects")
	fs.BoolVar(&f.verifyTLS, "verify-tls", false, "verify TLS certificates")
	fs.IntVarP(&f.threads, "threads", "t", 0, "maximum concurrent fetches across all seeds")
	fs.IntVarP(&f.depth, "depth", "d", 0, "maximum link depth from each seed")
	fs.IntVar(&f.maxSize, "max-size", 0, "skip pages whose Content-Length exceeds this many KB (-1 disables)")
	fs.IntVar(&f.timeout, "timeout", 0, "per-request timeout in seconds, also the default seed timeout (0 disables)")
	fs.IntVar(&f.seedTimeout, "seed-timeout", 0, "per-seed traversal timeout in seconds (0 disables)")
	fs.StringVarP(&f.headers, "headers", "H", "", `extra request headers, "Name: value;;Other: value"`)
	fs.StringVar(&f.proxy, "proxy", "", "proxy URL for every request")
	fs.BoolVar(&f.report, "report", false, "print per-seed traversal reports to stderr")
}

// options applies the flags the user set on top of defaults.
func (f *crawlFlags) options(cmd *cobra.Command, defaults crawler.Options) crawler.Options {
	set := cmd.Flags().Changed
	opts := defaults
	if set("inside") {
		opts.RestrictToPath = f.inside
	}
	if set("subs") {
		opts.IncludeSubdomains = f.subs
	}
	if set("unique") {
		opts.UniqueTargets = f.unique
	}
	if set("disable-redirects") {
		opts.FollowRedirects = !f.disableRedirects
	}
	if set("verify-tls") {
		opts.VerifyTLS = f.verifyTLS
	}
	if set("threads") {
		opts.FetchConcurrency = f.threads
	}
	if set("depth") {
		opts.MaxDepth = f.depth
	}
	if set("max-size") {
		opts.MaxContentKB = f.maxSize
	}
	if set("timeout") {
		opts.RequestTimeout = secondsFlag(f.timeout)
		opts.SeedTimeout = opts.RequestTimeout
	}
	if set("seed-timeout") {
		opts.SeedTimeout = secondsFlag(f.seedTimeout)
	}
	if set("headers") {
		opts.RawHeaders = f.headers
	}
	if set("proxy") {
		opts.Proxy = f.proxy
	}
	return opts
}

func secondsFlag(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func runCrawlCommand(cmd *cobra.Command, seeds []string, flags *crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.ForRun(appInstance.Logger, runID)

	engine := crawler.NewEngine(
		collyfetcher.NewFactory(cfg.Crawler.UserAgent),
		crawler.EngineConfig{ChannelBuffer: cfg.Crawler.ChannelBuffer},
		logger,
	)
	opts := flags.options(cmd, cfg.DefaultOptions())

	// An interrupt stops the walkers; whatever was found so far is still printed.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	started := clock.Now()
	result, err := engine.Crawl(ctx, seeds, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Graph); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	if flags.report {
		for _, r := range result.Seeds {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s fetched=%d skipped=%d emitted=%d failed=%d timed_out=%t\n",
				r.Seed, r.Fetched, r.Skipped, r.Emitted, len(r.Failures), r.TimedOut)
		}
	}

	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), archiveTimeout)
	defer cancel()
	archiver, cleanup, err := openArchiver(archiveCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	if archiver == nil {
		return nil
	}
	record, err := archiver.Archive(archiveCtx, archive.Run{
		ID:       runID,
		Seeds:    crawler.CleanSeeds(seeds),
		Options:  opts,
		Started:  started,
		Finished: clock.Now(),
		Result:   result,
	})
	if err != nil {
		logger.Warn("archive incomplete", zap.Error(err))
	}
	if record.GraphURI != "" {
		logger.Info("graph archived", zap.String("uri", record.GraphURI))
	}
	return nil
}
