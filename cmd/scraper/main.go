package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-shops/config"
	"github.com/aluiziolira/go-scrape-shops/models"
	"github.com/aluiziolira/go-scrape-shops/pipeline"
	"github.com/aluiziolira/go-scrape-shops/scraper"
	"github.com/aluiziolira/go-scrape-shops/sites"
	"github.com/aluiziolira/go-scrape-shops/storage"
)

const version = "1.0.0"

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(format string, args ...any) error {
	return &exitError{code: exitFailure, err: fmt.Errorf(format, args...)}
}

type options struct {
	configPath  string
	formats     []string
	output      string
	outputDir   string
	database    string
	noDatabase  bool
	listSources bool
	maxPages    int
	metricsAddr string
	verbose     bool

	// transport replaces the HTTP transport of the created scraper.
	transport http.RoundTripper
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr, nil))
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, transport http.RoundTripper) int {
	opts := &options{transport: transport}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitFailure
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper [url]",
		Short: "Scrape product listings from supported e-commerce sites",
		Long: "Scrapes paginated search or catalog pages from supported storefronts, " +
			"prints a summary and exports the products to CSV/JSON and SQLite.",
		Example: "  scraper \"https://www.amazon.com/s?k=laptop\"\n" +
			"  scraper \"https://www.daraz.pk/catalog/?q=earbuds\" -f csv --max-pages 3\n" +
			"  scraper --list-sources",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringSliceVarP(&opts.formats, "format", "f", nil, "Export formats: csv, json (default from config)")
	flags.StringVarP(&opts.output, "output", "o", "", "Export file name without extension (default <source>_<timestamp>)")
	flags.StringVar(&opts.outputDir, "output-dir", "", "Export directory (default from config)")
	flags.StringVarP(&opts.database, "database", "d", "", "SQLite database path (default from config)")
	flags.BoolVar(&opts.noDatabase, "no-database", false, "Skip saving results to the database")
	flags.BoolVarP(&opts.listSources, "list-sources", "l", false, "List supported domains and exit")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "Maximum result pages to scrape (default from config)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	return cmd
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Formats = opts.formats
	}
	if opts.outputDir != "" {
		cfg.Output.Dir = opts.outputDir
	}
	if opts.database != "" {
		cfg.Database.Path = opts.database
	}
	if opts.noDatabase {
		cfg.Database.Enabled = false
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if opts.verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runScrape(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return fail("%v", err)
	}

	logger, level := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	registry := sites.NewRegistry(cfg)
	out := cmd.OutOrStdout()

	if opts.listSources {
		fmt.Fprintln(out, "Supported sources:")
		for _, domain := range registry.SupportedDomains() {
			fmt.Fprintf(out, "  - %s\n", domain)
		}
		return nil
	}
	if len(args) == 0 {
		return fail("a URL is required (see --help)")
	}
	target := args[0]

	s, err := registry.Create(target, scraper.WithTransport(opts.transport))
	if err != nil {
		return fail("%v (supported: %v)", err, registry.SupportedDomains())
	}
	if cmd.Flags().Changed("max-pages") {
		if err := s.SetMaxPages(opts.maxPages); err != nil {
			return fail("%v", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)
	defer shutdownMetricsServer(metricsServer)

	slog.Info("starting scrape",
		slog.String("source", s.Name()),
		slog.String("url", target),
		slog.Int("max_pages", s.Config().MaxPages),
	)

	result, err := s.Run(ctx, target)
	if err != nil {
		if errors.Is(err, scraper.ErrCancelled) {
			fmt.Fprintln(out, "\nScraping interrupted by user")
			return &exitError{code: exitInterrupted}
		}
		return fail("scraping failed: %v", err)
	}

	printSummary(out, result)

	if result.Successful == 0 {
		return fail("no products were scraped")
	}

	exportAll(ctx, cmd, cfg, opts.output, result)

	if cfg.Database.Enabled {
		runID, err := saveResult(ctx, cfg.Database.Path, result)
		if err != nil {
			slog.Error("database save failed", slog.String("path", cfg.Database.Path), slog.Any("error", err))
			fmt.Fprintf(cmd.ErrOrStderr(), "Database save failed: %v\n", err)
		} else {
			fmt.Fprintf(out, "Saved to database %s (run %s)\n", cfg.Database.Path, runID)
		}
	}
	return nil
}

// exportAll writes each configured format on its own so one failing sink
// does not cost the others.
func exportAll(ctx context.Context, cmd *cobra.Command, cfg *config.Config, name string, result *models.ScrapeResult) {
	formats := cfg.Output.Formats
	if len(formats) == 0 {
		formats = []string{"csv", "json"}
	}
	for _, format := range formats {
		sinkCfg := cfg.Output
		sinkCfg.Formats = []string{format}
		paths, err := pipeline.ExportResult(ctx, result, sinkCfg, name)
		if err != nil {
			slog.Error("export failed", slog.String("format", format), slog.Any("error", err))
			fmt.Fprintf(cmd.ErrOrStderr(), "Export failed (%s): %v\n", format, err)
			continue
		}
		for _, path := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), "Exported: %s\n", path)
		}
	}
}

func saveResult(ctx context.Context, path string, result *models.ScrapeResult) (string, error) {
	store, err := storage.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("close database", slog.Any("error", err))
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return "", err
	}
	return store.SaveResult(ctx, result)
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}
