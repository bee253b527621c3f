package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-books-etl/config"
	"github.com/aluiziolira/go-books-etl/models"
	"github.com/aluiziolira/go-books-etl/pipeline"
	"github.com/aluiziolira/go-books-etl/scraper"
	"github.com/aluiziolira/go-books-etl/storage"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if v, ok, err := config.EnvInt("ETL_TARGET"); err != nil {
		return nil, err
	} else if ok {
		cfg.TargetCount = v
	}
	if v, ok, err := config.EnvInt("ETL_MAX_PAGES"); err != nil {
		return nil, err
	} else if ok {
		cfg.MaxPages = v
	}
	if v, ok, err := config.EnvDuration("ETL_INTERVAL"); err != nil {
		return nil, err
	} else if ok {
		cfg.Interval = v
	}
	if v, ok := config.EnvString("ETL_DATABASE_DRIVER"); ok {
		cfg.DatabaseDriver = v
	}
	if v, ok := config.EnvString("ETL_DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := config.EnvString("ETL_EXPORT"); ok {
		cfg.ExportFile = v
	}
	if v, ok := config.EnvString("ETL_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.IntVar(&cfg.TargetCount, "target", cfg.TargetCount, "Number of distinct records to collect per run")
	fs.StringVar(&cfg.SearchURL, "search-url", cfg.SearchURL, "Search results URL; the page parameter is added per request")
	fs.IntVar(&cfg.MaxPages, "max-pages", cfg.MaxPages, "Maximum result pages fetched per run")
	fs.IntVar(&cfg.MaxEmptyPages, "max-empty-pages", cfg.MaxEmptyPages, "Consecutive pages without new records before giving up")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	fs.StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "Database driver: pgx or sqlite")
	fs.StringVar(&cfg.DatabaseURL, "db-url", cfg.DatabaseURL, "Database connection string")
	fs.StringVar(&cfg.Table, "table", cfg.Table, "Destination table name")
	fs.StringVar(&cfg.ExportFile, "export", cfg.ExportFile, "Also write normalized records to this file")
	format := fs.String("format", cfg.ExportFormat, "Export format: csv, json, or dual")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Whole-run retries after a failure")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Delay before a failed run is retried")
	fs.DurationVar(&cfg.Interval, "every", cfg.Interval, "Run repeatedly at this interval (0 runs once)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ExportFormat = strings.ToLower(*format)
	return cfg, nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	dialect, err := storage.DialectFor(cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	store := storage.NewStore(db, dialect, cfg.Table)

	opts := []pipeline.Option{pipeline.WithMetrics(pipeline.NewMetrics(s.Metrics.Registry))}
	var exporter pipeline.OutputWriter
	if cfg.ExportFile != "" {
		exporter, err = pipeline.NewOutputWriter(cfg.ExportFormat, cfg.ExportFile)
		if err != nil {
			return fmt.Errorf("creating export writer: %w", err)
		}
		defer func() {
			if err := exporter.Close(); err != nil {
				slog.Error("close export writer", slog.Any("error", err))
			}
		}()
		opts = append(opts, pipeline.WithExporter(exporter))
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(s, store, opts...)
	policy := pipeline.RetryPolicy{Retries: cfg.Retries, Delay: cfg.RetryDelay}

	slog.Info("starting pipeline",
		slog.String("search_url", cfg.SearchURL),
		slog.Int("target", cfg.TargetCount),
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("table", cfg.Table),
		slog.Duration("every", cfg.Interval),
	)

	if cfg.Interval > 0 {
		p.Schedule(ctx, cfg.Interval, cfg.TargetCount, policy)
		return nil
	}

	result, err := p.RunWithRetry(ctx, cfg.TargetCount, policy)
	if err != nil {
		return err
	}
	if exporter != nil {
		if err := exporter.Validate(); err != nil {
			return fmt.Errorf("export validation failed: %w", err)
		}
	}

	total, err := store.Count(ctx)
	if err != nil {
		slog.Warn("could not count destination rows", slog.Any("error", err))
		total = -1
	}
	printSummary(result, total, cfg)
	return nil
}

func printSummary(result *models.RunResult, total int, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Run complete")
	fmt.Printf("  Attempt:       %d\n", result.Attempt)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Collected:     %d\n", result.CollectedCount)
	fmt.Printf("  Skipped items: %d\n", result.SkippedItems)
	fmt.Printf("  Duplicates:    %d\n", result.CollectorDuplicates+result.NormalizeDuplicates)
	fmt.Printf("  Rows written:  %d\n", result.RowsWritten)
	if total >= 0 {
		fmt.Printf("  Table rows:    %d (%s)\n", total, cfg.Table)
	}
	if cfg.ExportFile != "" {
		fmt.Printf("  Export file:   %s\n", cfg.ExportFile)
	}
	fmt.Printf("  Duration:      %v\n", result.Duration())
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
