package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/etl"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

// maxBatchRows bounds one /v1/classify/batch request
const maxBatchRows = 10000

// Detection event sources
const (
	sourceClassify = "classify"
	sourceBatch    = "batch"
)

type classifyResponse struct {
	IsPII               bool              `json:"is_pii"`
	Redacted            json.RawMessage   `json:"redacted"`
	StandaloneFields    []string          `json:"standalone_fields"`
	CombinatorialFields []string          `json:"combinatorial_fields"`
	SignalCount         int               `json:"signal_count"`
	Findings            []privacy.Finding `json:"findings"`
	Cached              bool              `json:"cached,omitempty"`
}

type batchResponse struct {
	Rows         []etl.OutputRow `json:"rows"`
	Total        int             `json:"total"`
	PIIRecords   int             `json:"pii_records"`
	DecodeErrors int             `json:"decode_errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	d := s.Detector()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                    "pii-sentinel",
		"version":                 Version,
		"privacy_enabled":         d.Enabled(),
		"detectors":               nonNil(d.EnabledDetectors()),
		"combinatorial_threshold": d.Threshold(),
		"upi_handles":             len(d.Library().Handles()),
		"websocket_clients":       s.wsHub.ClientCount(),
		"uptime":                  time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

// handleClassify classifies and masks one JSON record
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	payload := string(body)
	detector := s.Detector()
	cacheKey := detectorFingerprint(detector) + "\n" + payload

	if s.results != nil {
		if cached, hit := s.results.GetResult(r.Context(), cacheKey); hit {
			writeJSON(w, http.StatusOK, classifyResponse{
				IsPII:               cached.IsPII,
				Redacted:            json.RawMessage(cached.Redacted),
				StandaloneFields:    nonNil(cached.Result.StandaloneFields),
				CombinatorialFields: nonNil(cached.Result.CombinatorialFields),
				SignalCount:         cached.Result.SignalCount,
				Findings:            nonNilFindings(cached.Findings),
				Cached:              true,
			})
			return
		}
	}

	rec, err := etl.DecodeRecord(payload)
	if err != nil {
		s.metrics.ObserveRecord(false, true, 0)
		log.Debug("Rejected undecodable record", zap.Error(err))
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid record: %v", err))
		return
	}

	res := detector.Process(rec)
	redacted, err := etl.EncodeRecord(res.Redacted)
	if err != nil {
		log.Error("Failed to encode redacted record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode redacted record")
		return
	}

	s.observeResult(res)
	if res.Classification.IsPII {
		log.Info("PII detected in record",
			zap.Strings("standalone_fields", res.Classification.StandaloneFields),
			zap.Strings("combinatorial_fields", res.Classification.CombinatorialFields),
			zap.Int("masked_fields", len(res.Findings)),
		)
		s.broadcastDetection(sourceClassify, requestID, "", res, time.Since(start))
	}

	if s.results != nil {
		entry := &cache.CachedResult{
			IsPII:    res.Classification.IsPII,
			Redacted: redacted,
			Result:   res.Classification,
			Findings: res.Findings,
		}
		if err := s.results.StoreResult(r.Context(), cacheKey, entry); err != nil {
			log.Warn("Failed to cache classification", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		IsPII:               res.Classification.IsPII,
		Redacted:            json.RawMessage(redacted),
		StandaloneFields:    nonNil(res.Classification.StandaloneFields),
		CombinatorialFields: nonNil(res.Classification.CombinatorialFields),
		SignalCount:         res.Classification.SignalCount,
		Findings:            nonNilFindings(res.Findings),
	})
}

// handleClassifyBatch scans dataset rows. Undecodable payloads come back
// unchanged with is_pii=false, as in file scans.
func (s *Server) handleClassifyBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var rows []etl.InputRow
	if err := json.Unmarshal(body, &rows); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid batch: %v", err))
		return
	}
	if len(rows) > maxBatchRows {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d rows", maxBatchRows))
		return
	}

	pipeline := etl.NewPipeline(s.Detector(), &etl.Config{
		BatchSize: len(rows),
		Workers:   s.config.Scan.Workers,
	}, log.Logger)

	outcomes, err := pipeline.ScanBatch(r.Context(), rows)
	if err != nil {
		log.Warn("Batch scan aborted", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "batch scan aborted")
		return
	}

	resp := batchResponse{Rows: make([]etl.OutputRow, len(outcomes)), Total: len(outcomes)}
	for i, o := range outcomes {
		resp.Rows[i] = o.Row
		if o.Err != nil {
			resp.DecodeErrors++
			log.LogRecordError(o.Row.RecordID, o.Err)
			s.metrics.ObserveRecord(false, true, 0)
			continue
		}
		s.observeResult(privacy.Result{Classification: o.Classification, Findings: o.Findings})
		if o.Row.IsPII {
			resp.PIIRecords++
			s.broadcastDetection(sourceBatch, requestID, o.Row.RecordID,
				privacy.Result{Classification: o.Classification, Findings: o.Findings}, time.Since(start))
		}
	}

	log.Info("Batch classified",
		zap.Int("rows", resp.Total),
		zap.Int("pii_records", resp.PIIRecords),
		zap.Int("decode_errors", resp.DecodeErrors),
	)
	writeJSON(w, http.StatusOK, resp)
}

// readBody reads the request body within the configured size limit
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) observeResult(res privacy.Result) {
	s.metrics.ObserveRecord(res.Classification.IsPII, false, res.Classification.SignalCount)
	for _, f := range res.Findings {
		s.metrics.ObserveFinding(string(f.Kind), string(f.Source))
	}
}

// broadcastDetection publishes field names and kinds of a PII record
func (s *Server) broadcastDetection(source, requestID, recordID string, res privacy.Result, elapsed time.Duration) {
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypePIIDetection,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.PIIDetectionEvent{
			Source:              source,
			RecordID:            recordID,
			StandaloneFields:    nonNil(res.Classification.StandaloneFields),
			CombinatorialFields: nonNil(res.Classification.CombinatorialFields),
			SignalCount:         res.Classification.SignalCount,
			Findings:            nonNilFindings(res.Findings),
			ProcessingMS:        float64(elapsed.Microseconds()) / 1000,
		},
	})
}

// detectorFingerprint identifies a detector configuration so cached
// classifications never outlive a reload
func detectorFingerprint(d *privacy.Detector) string {
	return fmt.Sprintf("%t|%s|%d|%s",
		d.Enabled(),
		strings.Join(d.EnabledDetectors(), ","),
		d.Threshold(),
		strings.Join(d.Library().Handles(), ","))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilFindings(f []privacy.Finding) []privacy.Finding {
	if f == nil {
		return []privacy.Finding{}
	}
	return f
}
