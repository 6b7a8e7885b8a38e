package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/etl"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
)

type options struct {
	configPath string
	output     string
	workers    int
	batchSize  int
	persistDB  bool
	dedupe     bool
	showStats  bool
	clearCache bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "scan [flags] <input>",
		Short: "Classify and mask PII in a CSV, Parquet or JSON-lines dataset",
		Long: `scan reads rows of (record_id, data_json), classifies every record as PII or
not, and writes (record_id, redacted_data_json, is_pii) rows to the output file.`,
		Example: `  scan customers.csv
  scan --output masked.parquet --workers 8 customers.parquet
  scan --db --dedupe events.jsonl
  scan --stats
  scan --clear-cache`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file (format from extension; default scan.output)")
	flags.IntVar(&opts.workers, "workers", 0, "Number of worker goroutines (default scan.workers)")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "Rows per batch (default scan.batch_size)")
	flags.BoolVar(&opts.persistDB, "db", false, "Also persist results to PostgreSQL")
	flags.BoolVar(&opts.dedupe, "dedupe", false, "Track duplicate payloads in Redis")
	flags.BoolVar(&opts.showStats, "stats", false, "Show stored result statistics and exit")
	flags.BoolVar(&opts.clearCache, "clear-cache", false, "Delete all run cache keys in Redis and exit")

	return cmd
}

// applyFlags lets explicitly set flags override configuration values
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *options) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Scan.Output = opts.output
	}
	if flags.Changed("workers") && opts.workers > 0 {
		cfg.Scan.Workers = opts.workers
	}
	if flags.Changed("batch-size") && opts.batchSize > 0 {
		cfg.Scan.BatchSize = opts.batchSize
	}
	if opts.persistDB {
		cfg.Storage.Enabled = true
	}
	if opts.dedupe || opts.clearCache {
		cfg.Cache.Enabled = true
	}
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	if !opts.showStats && !opts.clearCache && len(args) == 0 {
		return errors.New("an input file is required")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cmd, cfg, opts)

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stderr: true,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	log, err := logger.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := initializeServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.cleanup()

	if opts.clearCache {
		return clearCache(ctx, cmd.OutOrStdout(), svc)
	}
	if opts.showStats {
		return showStats(ctx, cmd.OutOrStdout(), svc)
	}
	return scanDataset(ctx, cmd.OutOrStdout(), cfg, svc, log, args[0])
}

// services holds the optional backends of a scan
type services struct {
	store    *store.Store
	runCache *cache.RunCache
}

func (s *services) cleanup() {
	if s.store != nil {
		s.store.Close()
	}
	if s.runCache != nil {
		s.runCache.Close()
	}
}

// initializeServices connects the backends enabled in cfg
func initializeServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	svc := &services{}

	if cfg.Storage.Enabled {
		log.Info("Initializing result store...")
		st, err := store.NewStore(cfg.Storage, log.WithComponent("store").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize result store: %w", err)
		}
		svc.store = st
	}

	if cfg.Cache.Enabled {
		log.Info("Initializing run cache...")
		rc, err := cache.NewRunCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			svc.cleanup()
			return nil, fmt.Errorf("failed to initialize run cache: %w", err)
		}
		svc.runCache = rc
	}

	return svc, nil
}

// scanDataset runs the pipeline over input and prints the run summary
func scanDataset(ctx context.Context, out io.Writer, cfg *config.Config, svc *services, log *logger.Logger, input string) error {
	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to create privacy detector: %w", err)
	}

	runID := uuid.NewString()
	runLog := log.WithRunID(runID)

	pipelineOpts := []etl.Option{etl.WithRunID(runID)}
	if svc.store != nil {
		pipelineOpts = append(pipelineOpts, etl.WithStore(svc.store))
	}
	if svc.runCache != nil {
		pipelineOpts = append(pipelineOpts, etl.WithDuplicateTracker(svc.runCache))
	}

	pipeline := etl.NewPipeline(detector, &etl.Config{
		BatchSize:      cfg.Scan.BatchSize,
		Workers:        cfg.Scan.Workers,
		RecordIDColumn: cfg.Scan.RecordIDColumn,
		JSONColumns:    cfg.Scan.JSONColumns,
		ProgressReport: cfg.Scan.ProgressReport,
	}, log.WithComponent("etl").Logger, pipelineOpts...)

	summary := &cache.RunSummary{
		RunID:     runID,
		Input:     input,
		Output:    cfg.Scan.Output,
		Status:    cache.StatusRunning,
		StartedAt: time.Now(),
	}
	saveSummary(svc, runLog, summary)

	result, err := pipeline.ProcessFile(ctx, input, cfg.Scan.Output)

	summary.FinishedAt = time.Now()
	if result != nil {
		summary.TotalRecords = result.TotalRecords
		summary.PIIRecords = result.PIIRecords
		summary.CleanRecords = result.CleanRecords
		summary.DecodeErrors = result.DecodeErrors
		summary.Duplicates = result.Duplicates
	}
	if err != nil {
		summary.Status = cache.StatusFailed
		summary.Error = err.Error()
		saveSummary(svc, runLog, summary)

		switch {
		case errors.Is(err, etl.ErrInputNotFound):
			return fmt.Errorf("input file does not exist: %s", input)
		case errors.Is(err, etl.ErrSchema):
			return fmt.Errorf("invalid input dataset: %w", err)
		case errors.Is(err, etl.ErrSameFile):
			return fmt.Errorf("invalid output: %w", err)
		default:
			return fmt.Errorf("scan failed: %w", err)
		}
	}
	summary.Status = cache.StatusCompleted
	saveSummary(svc, runLog, summary)

	printSummary(out, result)

	if len(result.Errors) > 0 {
		runLog.Warn("Scan completed with errors", zap.Strings("errors", result.Errors))
	}
	return nil
}

// saveSummary stores the run summary when the run cache is enabled; failures are logged
func saveSummary(svc *services, log *logger.Logger, summary *cache.RunSummary) {
	if svc.runCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.runCache.SaveRunSummary(ctx, summary); err != nil {
		log.Warn("Failed to save run summary", zap.Error(err))
	}
}

func printSummary(out io.Writer, result *etl.ProcessingResult) {
	fmt.Fprintf(out, "\n=== PII-Sentinel Scan Summary ===\n")
	fmt.Fprintf(out, "Run ID:             %s\n", result.RunID)
	fmt.Fprintf(out, "Total records:      %d\n", result.TotalRecords)
	fmt.Fprintf(out, "PII records:        %d\n", result.PIIRecords)
	fmt.Fprintf(out, "Non-PII records:    %d\n", result.CleanRecords)
	if result.DecodeErrors > 0 {
		fmt.Fprintf(out, "Decode errors:      %d\n", result.DecodeErrors)
	}
	if result.Malformed > 0 {
		fmt.Fprintf(out, "Malformed rows:     %d\n", result.Malformed)
	}
	if result.Duplicates > 0 {
		fmt.Fprintf(out, "Duplicate payloads: %d\n", result.Duplicates)
	}
	if result.StoreFailed > 0 {
		fmt.Fprintf(out, "Rows not stored:    %d\n", result.StoreFailed)
	}
	fmt.Fprintf(out, "Duration:           %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Output:             %s\n", result.Output)
}

// showStats prints the statistics of stored results and the run cache
func showStats(ctx context.Context, out io.Writer, svc *services) error {
	if svc.store == nil {
		return errors.New("--stats needs the result store; enable storage or pass --db")
	}

	stats, err := svc.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get result stats: %w", err)
	}

	fmt.Fprintf(out, "\n=== PII-Sentinel Result Statistics ===\n")
	fmt.Fprintf(out, "Total results:      %d\n", stats.TotalResults)
	fmt.Fprintf(out, "PII results:        %d (%.1f%%)\n", stats.PIIResults, percent(stats.PIIResults, stats.TotalResults))
	fmt.Fprintf(out, "Non-PII results:    %d (%.1f%%)\n", stats.CleanResults, percent(stats.CleanResults, stats.TotalResults))

	if len(stats.Runs) > 0 {
		fmt.Fprintf(out, "\n=== Runs ===\n")
		for _, r := range stats.Runs {
			fmt.Fprintf(out, "%s  total=%d pii=%d clean=%d  %s\n",
				r.RunID, r.Total, r.PII, r.Clean, r.StartedAt.Format(time.RFC3339))
		}
	}

	if svc.runCache != nil {
		cacheStats, err := svc.runCache.GetStats(ctx)
		if err == nil {
			fmt.Fprintf(out, "\n=== Cache Statistics ===\n")
			fmt.Fprintf(out, "Duplicates seen:    %d\n", cacheStats.Duplicates)
			fmt.Fprintf(out, "Total keys:         %d\n", cacheStats.TotalKeys)
			fmt.Fprintf(out, "Memory usage:       %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
		}
	}

	return nil
}

// clearCache removes every key of the run cache
func clearCache(ctx context.Context, out io.Writer, svc *services) error {
	if svc.runCache == nil {
		return errors.New("--clear-cache needs the run cache; enable cache or check cache.redis_url")
	}
	if err := svc.runCache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear run cache: %w", err)
	}
	fmt.Fprintln(out, "Run cache cleared")
	return nil
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
