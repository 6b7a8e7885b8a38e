package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// RowOutcome is the result of scanning one input row
type RowOutcome struct {
	Row            OutputRow
	Classification privacy.ClassificationResult
	Findings       []privacy.Finding
	Payload        string
	Err            error // decode error; Row holds the fallback row
}

// ResultSink persists scan outcomes, one call per batch
type ResultSink interface {
	SaveResults(ctx context.Context, runID string, outcomes []RowOutcome) error
}

// DuplicateTracker reports which payloads were already seen in a run.
// The returned slice is aligned with payloads.
type DuplicateTracker interface {
	MarkSeen(ctx context.Context, runID string, payloads []string) ([]bool, error)
}

// Pipeline scans record datasets and writes redacted copies
type Pipeline struct {
	detector *privacy.Detector
	config   *Config
	logger   *zap.Logger
	store    ResultSink
	dedupe   DuplicateTracker
	metrics  *metrics.Metrics
	progress func(Progress)
	runID    string

	stats *Progress
	mu    sync.RWMutex
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithStore persists every batch of outcomes
func WithStore(store ResultSink) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithDuplicateTracker counts payloads repeated within a run
func WithDuplicateTracker(tracker DuplicateTracker) Option {
	return func(p *Pipeline) { p.dedupe = tracker }
}

// WithMetrics records scan metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProgress calls fn with a snapshot every ProgressReport records and once at the end
func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithRunID fixes the run id instead of generating one per file
func WithRunID(runID string) Option {
	return func(p *Pipeline) { p.runID = runID }
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(detector *privacy.Detector, config *Config, logger *zap.Logger, opts ...Option) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		detector: detector,
		config:   config,
		logger:   logger,
		stats:    &Progress{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFile scans a dataset file (CSV, Parquet, or JSON lines) and writes
// one output row per readable input row to outputPath.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	runID := p.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := p.logger.With(zap.String("run_id", runID))

	if _, err := os.Stat(inputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
		}
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}
	// Writing over the input would feed the reader its own output
	if SameFile(inputPath, outputPath) {
		return nil, fmt.Errorf("%w: %s", ErrSameFile, outputPath)
	}

	format := DetectFileFormat(inputPath)
	log.Info("Starting scan",
		zap.String("input", inputPath),
		zap.String("format", string(format)),
		zap.String("output", outputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.Workers))

	start := time.Now()
	result := &ProcessingResult{RunID: runID, Output: outputPath}

	file, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	var read batchReader
	switch format {
	case FormatCSV:
		read, err = p.newCSVReader(file, result)
	case FormatParquet:
		var closeReader func() error
		read, closeReader, err = p.newParquetReader(file, result)
		if err == nil {
			defer closeReader()
		}
	case FormatJSON:
		read = p.newJSONReader(file, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	writer, err := CreateRowWriter(outputPath)
	if err != nil {
		return nil, err
	}

	done := p.metrics.ScanStarted()
	defer done()

	p.resetStats(runID)
	runErr := p.processBatches(ctx, runID, read, writer, result)
	if err := writer.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close output: %w", err)
	}

	result.Duration = time.Since(start)
	p.reportProgress(result, true)

	if runErr != nil {
		return result, runErr
	}

	log.Info("Scan completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("pii_records", result.PIIRecords),
		zap.Int64("clean_records", result.CleanRecords),
		zap.Int64("decode_errors", result.DecodeErrors),
		zap.Int64("malformed_rows", result.Malformed),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// processBatches reads, scans and writes batches until the input is exhausted
func (p *Pipeline) processBatches(ctx context.Context, runID string, read batchReader, writer RowWriter, result *ProcessingResult) error {
	var lastReport int64
	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := read()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break // End of file
		}

		batchStart := time.Now()
		outcomes, err := p.ScanBatch(ctx, batch)
		if err != nil {
			return err
		}
		result.ScanTime += time.Since(batchStart)

		rows := make([]OutputRow, len(outcomes))
		for i, o := range outcomes {
			rows[i] = o.Row
			p.tally(o, result)
		}
		if err := writer.Write(rows); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		p.markDuplicates(ctx, runID, outcomes, result)
		p.persist(ctx, runID, outcomes, result)
		p.metrics.ObserveBatch(time.Since(batchStart))

		if p.config.ProgressReport > 0 && result.TotalRecords-lastReport >= int64(p.config.ProgressReport) {
			lastReport = result.TotalRecords
			p.reportProgress(result, false)
		}
	}

	return nil
}

// ScanBatch classifies rows on the worker pool. Outcomes keep input order.
func (p *Pipeline) ScanBatch(ctx context.Context, rows []InputRow) ([]RowOutcome, error) {
	outcomes := make([]RowOutcome, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, res, err := ScanRow(p.detector, rows[i])
			outcomes[i] = RowOutcome{
				Row:            row,
				Classification: res.Classification,
				Findings:       res.Findings,
				Payload:        rows[i].DataJSON,
				Err:            err,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// tally folds one outcome into the run counters
func (p *Pipeline) tally(o RowOutcome, result *ProcessingResult) {
	result.TotalRecords++
	if o.Err != nil {
		result.DecodeErrors++
		p.logger.Warn("Error processing record",
			zap.String("record_id", o.Row.RecordID),
			zap.Error(o.Err))
	}
	if o.Row.IsPII {
		result.PIIRecords++
	} else {
		result.CleanRecords++
	}

	p.metrics.ObserveRecord(o.Row.IsPII, o.Err != nil, o.Classification.SignalCount)
	for _, f := range o.Findings {
		p.metrics.ObserveFinding(string(f.Kind), string(f.Source))
	}
}

// markDuplicates counts payloads already seen in this run. Tracker failures
// are logged and never stop the scan.
func (p *Pipeline) markDuplicates(ctx context.Context, runID string, outcomes []RowOutcome, result *ProcessingResult) {
	if p.dedupe == nil {
		return
	}

	payloads := make([]string, len(outcomes))
	for i, o := range outcomes {
		payloads[i] = o.Payload
	}

	cacheStart := time.Now()
	seen, err := p.dedupe.MarkSeen(ctx, runID, payloads)
	result.CacheTime += time.Since(cacheStart)
	if err != nil {
		p.logger.Warn("Failed to track duplicate payloads", zap.Error(err))
		result.Errors = append(result.Errors, err.Error())
		return
	}

	var dups int
	for _, s := range seen {
		if s {
			dups++
		}
	}
	result.Duplicates += int64(dups)
	p.metrics.ObserveDuplicates(dups)
}

// persist saves the batch to the result sink. A failed batch is reported in
// the result; its rows are already in the output file.
func (p *Pipeline) persist(ctx context.Context, runID string, outcomes []RowOutcome, result *ProcessingResult) {
	if p.store == nil {
		return
	}

	dbStart := time.Now()
	err := p.store.SaveResults(ctx, runID, outcomes)
	result.DatabaseTime += time.Since(dbStart)
	if err != nil {
		p.logger.Error("Failed to persist batch", zap.Int("batch_size", len(outcomes)), zap.Error(err))
		result.StoreFailed += int64(len(outcomes))
		result.Errors = append(result.Errors, err.Error())
		p.metrics.ObserveStoreFailure()
	}
}

// reportProgress updates the live stats and notifies the progress callback
func (p *Pipeline) reportProgress(result *ProcessingResult, final bool) {
	p.mu.Lock()
	p.stats.RecordsRead = result.TotalRecords
	p.stats.PIIRecords = result.PIIRecords
	p.stats.DecodeErrors = result.DecodeErrors
	p.stats.Elapsed = time.Since(p.stats.started)
	if secs := p.stats.Elapsed.Seconds(); secs > 0 {
		p.stats.ProcessingRate = float64(result.TotalRecords) / secs
	}
	p.stats.Done = final
	snapshot := *p.stats
	p.mu.Unlock()

	if !final {
		p.logger.Info("Processing progress",
			zap.String("run_id", snapshot.RunID),
			zap.Int64("records_processed", snapshot.RecordsRead),
			zap.Int64("pii_records", snapshot.PIIRecords),
			zap.Float64("rate_per_sec", snapshot.ProcessingRate),
			zap.Duration("elapsed", snapshot.Elapsed))
	}

	if p.progress != nil {
		p.progress(snapshot)
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &Progress{RunID: runID, started: time.Now()}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return *p.stats
}
