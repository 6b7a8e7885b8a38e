package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/etl"
	"github.com/raaihank/pii-sentinel/internal/store"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

var errOutsideRoot = errors.New("path escapes the scan root")

const (
	defaultResultLimit = 100
	maxResultLimit     = 1000
)

type scanRequest struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
}

// scanStatus is a run summary plus live progress while the run is going
type scanStatus struct {
	cache.RunSummary
	Progress *etl.Progress `json:"progress,omitempty"`
}

type scanResultsResponse struct {
	RunID   string              `json:"run_id"`
	Results []*store.ScanResult `json:"results"`
}

// handleStartScan starts a dataset scan of a file under the scan root and
// returns its run summary; the scan continues in the background.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithRequestID(getRequestID(r.Context()))

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Input == "" {
		writeError(w, http.StatusBadRequest, "request must name an input file")
		return
	}

	root := s.config.Server.ScanRoot
	input, err := resolveScanPath(root, req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(input); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("input not found: %s", req.Input))
		return
	}

	outputName := req.Output
	if outputName == "" {
		outputName = defaultOutputName(req.Input)
	}
	output, err := resolveScanPath(root, outputName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if etl.SameFile(input, output) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", etl.ErrSameFile, outputName))
		return
	}

	summary := &cache.RunSummary{
		RunID:     uuid.NewString(),
		Input:     req.Input,
		Output:    outputName,
		Status:    cache.StatusRunning,
		StartedAt: time.Now(),
	}
	s.recordScan(summary)

	log.Info("Scan started",
		zap.String("run_id", summary.RunID),
		zap.String("input", req.Input),
		zap.String("output", outputName))

	s.scanWG.Add(1)
	go s.runScan(*summary, input, output)

	writeJSON(w, http.StatusAccepted, summary)
}

// handleGetScan returns the summary of a scan run, with live progress while
// the run is still going
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	s.scansMu.RLock()
	summary, ok := s.scans[runID]
	var status scanStatus
	if ok {
		status.RunSummary = *summary
		if p, running := s.active[runID]; running {
			progress := p.GetStats()
			status.Progress = &progress
		}
	}
	s.scansMu.RUnlock()
	if ok {
		writeJSON(w, http.StatusOK, status)
		return
	}

	if s.runs != nil {
		stored, found, err := s.runs.GetRunSummary(r.Context(), runID)
		if err != nil {
			s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to load run summary", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load run summary")
			return
		}
		if found {
			writeJSON(w, http.StatusOK, stored)
			return
		}
	}

	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown scan: %s", runID))
}

// handleGetScanResults lists the persisted rows of a scan run
func (s *Server) handleGetScanResults(w http.ResponseWriter, r *http.Request) {
	if s.stored == nil {
		writeError(w, http.StatusNotFound, "result storage is not enabled")
		return
	}
	runID := mux.Vars(r)["id"]

	limit := defaultResultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxResultLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxResultLimit))
			return
		}
		limit = n
	}

	results, err := s.stored.GetRunResults(r.Context(), runID, limit)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to load run results", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run results")
		return
	}
	if results == nil {
		results = []*store.ScanResult{}
	}
	writeJSON(w, http.StatusOK, scanResultsResponse{RunID: runID, Results: results})
}

// runScan processes one dataset and records the final summary
func (s *Server) runScan(summary cache.RunSummary, input, output string) {
	defer s.scanWG.Done()

	opts := []etl.Option{
		etl.WithRunID(summary.RunID),
		etl.WithMetrics(s.metrics),
		etl.WithProgress(s.broadcastProgress),
	}
	if s.sink != nil {
		opts = append(opts, etl.WithStore(s.sink))
	}
	if s.dedupe != nil {
		opts = append(opts, etl.WithDuplicateTracker(s.dedupe))
	}

	scanCfg := s.config.Scan
	pipeline := etl.NewPipeline(s.Detector(), &etl.Config{
		BatchSize:      scanCfg.BatchSize,
		Workers:        scanCfg.Workers,
		RecordIDColumn: scanCfg.RecordIDColumn,
		JSONColumns:    scanCfg.JSONColumns,
		ProgressReport: scanCfg.ProgressReport,
	}, s.logger.Logger, opts...)

	s.scansMu.Lock()
	s.active[summary.RunID] = pipeline
	s.scansMu.Unlock()

	result, err := pipeline.ProcessFile(s.baseCtx, input, output)

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
		s.logger.WithRunID(summary.RunID).Error("Scan failed", zap.Error(err))
	} else {
		summary.Status = cache.StatusCompleted
	}

	s.recordScan(&summary)
}

// recordScan stores a copy of summary in memory and, when configured, in the run store
func (s *Server) recordScan(summary *cache.RunSummary) {
	snapshot := *summary
	s.scansMu.Lock()
	s.scans[summary.RunID] = &snapshot
	if summary.Status != cache.StatusRunning {
		delete(s.active, summary.RunID)
	}
	s.scansMu.Unlock()

	if s.runs != nil {
		// The final summary is saved even while the server shuts down
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.runs.SaveRunSummary(ctx, &snapshot); err != nil {
			s.logger.WithRunID(summary.RunID).Warn("Failed to save run summary", zap.Error(err))
		}
	}
}

func (s *Server) broadcastProgress(p etl.Progress) {
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeScanProgress,
		Timestamp: time.Now(),
		Data: websocket.ScanProgressEvent{
			RunID:          p.RunID,
			RecordsRead:    p.RecordsRead,
			PIIRecords:     p.PIIRecords,
			DecodeErrors:   p.DecodeErrors,
			ElapsedSeconds: p.Elapsed.Seconds(),
			RatePerSecond:  p.ProcessingRate,
			Done:           p.Done,
		},
	})
}

// resolveScanPath joins a client-supplied relative path to root, refusing
// absolute paths and paths that leave root
func resolveScanPath(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, name)
	}
	full := filepath.Join(root, name)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, name)
	}
	return full, nil
}

// defaultOutputName maps "dir/data.csv" to "dir/data.redacted.csv", keeping the input format
func defaultOutputName(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".redacted" + ext
}
