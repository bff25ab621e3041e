package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mholgersen/bookgraph/internal/config"
	"github.com/mholgersen/bookgraph/internal/extract"
	"github.com/mholgersen/bookgraph/internal/feed"
	"github.com/mholgersen/bookgraph/internal/fetcher"
	"github.com/mholgersen/bookgraph/internal/ingest"
	"github.com/mholgersen/bookgraph/internal/loader"
	"github.com/mholgersen/bookgraph/internal/match"
	"github.com/mholgersen/bookgraph/internal/runner"
	"github.com/mholgersen/bookgraph/internal/search"
	"github.com/mholgersen/bookgraph/internal/store"
	"github.com/mholgersen/bookgraph/internal/types"
)

var (
	cfgFile    string
	verbose    bool
	dbPath     string
	partitions int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bookgraph",
		Short: "bookgraph — book recommendation graph scraper",
		Long: `bookgraph builds a recommendation graph from an online book catalog.

It reads a ranked top-list of titles, locates each title in the catalog via
fuzzy title/author matching, renders the detail page, and persists the book
together with its recommended titles as a graph in SQLite.

Flows:
  scrape           main run — top-list rows plus their recommendation trees
  rerun            fill in rows the main run missed (no recommendations)
  recommendations  refresh pass — harvest ratings and edges for ranked books`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(rerunCmd())
	rootCmd.AddCommand(recommendationsCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [feed.csv]",
		Short: "Run the main scrape over a top-list feed",
		Long:  "Process every row of the feed: match, render, extract, and persist the book and its recommendation tree.",
		Args:  cobra.ExactArgs(1),
		RunE:  runScrape,
	}
	cmd.Flags().IntVarP(&partitions, "partitions", "n", 0, "number of parallel partitions (0 = use config)")
	return cmd
}

// rerunCmd creates the "rerun" subcommand.
func rerunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun [feed.csv]",
		Short: "Fill in feed rows the main run missed",
		Long:  "Re-process the feed with static fetches, persisting only books whose normalized title is not stored yet. Recommendations are not touched.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRerun,
	}
}

// recommendationsCmd creates the "recommendations" subcommand.
func recommendationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommendations",
		Short: "Harvest ratings and recommendation edges for ranked books",
		Long:  "Re-render the detail page of every ranked book without outgoing edges and record its rating and its recommendations toward other ranked books.",
		Args:  cobra.NoArgs,
		RunE:  runRecommendations,
	}
}

// runScrape executes the main run, partitioned when configured.
func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if partitions > 0 {
		cfg.Engine.Partitions = partitions
	}
	logger := setupLogger(&cfg.Logging)

	rows, err := feed.Read(args[0])
	if err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	logger.Info("feed loaded", "path", args[0], "rows", len(rows))

	ctx, cancel := signalContext(logger)
	defer cancel()

	proxyMgr, err := setupProxies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	graph, archive, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer graph.Close()
	if archive != nil {
		defer archive.Close(context.Background())
	}

	var opts []ingest.Option
	if archive != nil {
		opts = append(opts, ingest.WithArchive(archive))
	}

	chunks := runner.SplitRows(rows, cfg.Engine.Partitions)
	logger.Info("starting scrape", "rows", len(rows), "partitions", len(chunks))

	start := time.Now()
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		r, cleanup, err := buildRunner(cfg, graph, proxyMgr, i, logger.With("partition", i), opts...)
		if err != nil {
			return fmt.Errorf("partition %d: %w", i, err)
		}
		defer cleanup()

		wg.Add(1)
		go func(i int, r *runner.Runner, chunk []feed.Row) {
			defer wg.Done()
			if err := r.Run(ctx, chunk); err != nil {
				logger.Error("partition stopped", "partition", i, "error", err)
			}
		}(i, r, chunk)
	}
	wg.Wait()

	logger.Info("scrape complete", "elapsed", time.Since(start).Round(time.Second))
	return nil
}

// runRerun executes the fill-in flow, always single-partition.
func runRerun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(&cfg.Logging)

	rows, err := feed.Read(args[0])
	if err != nil {
		return fmt.Errorf("read feed: %w", err)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	graph, archive, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer graph.Close()
	if archive != nil {
		defer archive.Close(context.Background())
	}

	var opts []ingest.Option
	if archive != nil {
		opts = append(opts, ingest.WithArchive(archive))
	}

	r, cleanup, err := buildRunner(cfg, graph, nil, 0, logger, opts...)
	if err != nil {
		return err
	}
	defer cleanup()

	return r.RunRerun(ctx, rows)
}

// runRecommendations executes the refresh pass.
func runRecommendations(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(&cfg.Logging)

	ctx, cancel := signalContext(logger)
	defer cancel()

	graph, _, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer graph.Close()

	r, cleanup, err := buildRunner(cfg, graph, nil, 0, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return r.RunRecommendations(ctx)
}

// buildRunner assembles one partition's machinery: its own fetchers on top
// of the shared store. The partition index picks the browser's proxy from
// the pool, so parallel partitions exit through distinct proxies.
func buildRunner(cfg *config.Config, graph store.Store, proxyMgr *fetcher.ProxyManager, part int, logger *slog.Logger, opts ...ingest.Option) (*runner.Runner, func(), error) {
	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, proxyMgr, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create http fetcher: %w", err)
	}

	var browserProxy *url.URL
	if proxyMgr != nil {
		browserProxy = proxyMgr.At(part)
	}
	browserFetcher, err := fetcher.NewBrowserFetcher(cfg, browserProxy, logger)
	if err != nil {
		httpFetcher.Close()
		return nil, nil, fmt.Errorf("create browser fetcher: %w", err)
	}

	scraped := func(ctx context.Context, pageURL string) (bool, error) {
		_, err := graph.FindByURL(ctx, pageURL)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	sc := search.New(cfg, httpFetcher, match.New(), logger)
	l := loader.New(browserFetcher, httpFetcher, scraped, cfg.Browser.MaxEditionRedirects, logger)
	ex := extract.New(logger)

	r := runner.New(cfg, graph, sc, l, ex, logger, opts...)
	cleanup := func() {
		browserFetcher.Close()
		httpFetcher.Close()
	}
	return r, cleanup, nil
}

// setupProxies initializes the proxy pool when enabled. Too few proxies is a
// startup failure, not something to discover mid-run.
func setupProxies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fetcher.ProxyManager, error) {
	if !cfg.Proxy.Enabled {
		return nil, nil
	}

	pm := fetcher.NewProxyManager(&cfg.Proxy, logger)
	if cfg.Proxy.ListURL != "" {
		if err := pm.FetchProxyList(ctx, cfg.Proxy.ListURL); err != nil {
			return nil, fmt.Errorf("fetch proxy list: %w", err)
		}
	}
	if err := pm.EnsureAvailable(cfg.Proxy.MinRequired); err != nil {
		return nil, err
	}
	return pm, nil
}

// openStores opens the graph store and, when enabled, the archive mirror.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, *store.ArchiveStore, error) {
	graph, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	if !cfg.Storage.Archive.Enabled {
		return graph, nil, nil
	}

	archive, err := store.NewArchiveStore(ctx, &cfg.Storage.Archive, logger)
	if err != nil {
		graph.Close()
		return nil, nil, fmt.Errorf("connect archive: %w", err)
	}
	return graph, archive, nil
}

// loadConfig loads and validates configuration with CLI overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.SQLitePath = dbPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()
	return ctx, cancel
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bookgraph %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Catalog:\n")
			fmt.Printf("  Base URL:          %s\n", cfg.Catalog.BaseURL)
			fmt.Printf("  Search Path:       %s\n", cfg.Catalog.SearchPath)
			fmt.Printf("\nEngine:\n")
			fmt.Printf("  Partitions:        %d\n", cfg.Engine.Partitions)
			fmt.Printf("  Request Timeout:   %s\n", cfg.Engine.RequestTimeout)
			fmt.Printf("  Delay:             %s–%s\n", cfg.Engine.MinDelay, cfg.Engine.MaxDelay)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Render Timeout:    %s\n", cfg.Browser.RenderTimeout)
			fmt.Printf("  Content Marker:    %s\n", cfg.Browser.ContentMarker)
			fmt.Printf("  Edition Redirects: %d\n", cfg.Browser.MaxEditionRedirects)
			fmt.Printf("  Stealth:           %v\n", cfg.Browser.Stealth)
			fmt.Printf("\nProxy:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Proxy.Enabled)
			fmt.Printf("  Rotation:          %s\n", cfg.Proxy.Rotation)
			fmt.Printf("  Min Required:      %d\n", cfg.Proxy.MinRequired)
			fmt.Printf("  Count:             %d\n", len(cfg.Proxy.URLs))
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  SQLite Path:       %s\n", cfg.Storage.SQLitePath)
			fmt.Printf("  Archive Enabled:   %v\n", cfg.Storage.Archive.Enabled)
			fmt.Printf("\nLogging:\n")
			fmt.Printf("  Level:             %s\n", cfg.Logging.Level)
			fmt.Printf("  Format:            %s\n", cfg.Logging.Format)
			return nil
		},
	}
}

// newLogHandler builds a slog handler per the logging config.
func newLogHandler(cfg *config.Logging, w io.Writer) slog.Handler {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// setupLogger creates the structured logger from validated config.
func setupLogger(cfg *config.Logging) *slog.Logger {
	out := os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}
	return slog.New(newLogHandler(cfg, out))
}
