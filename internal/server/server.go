package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/etl"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// ResultCache stores classifications of payloads served by /v1/classify
type ResultCache interface {
	GetResult(ctx context.Context, payload string) (*cache.CachedResult, bool)
	StoreResult(ctx context.Context, payload string, result *cache.CachedResult) error
}

// RunSummaryStore keeps the summaries of scans started over HTTP
type RunSummaryStore interface {
	SaveRunSummary(ctx context.Context, summary *cache.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (*cache.RunSummary, bool, error)
}

// RunResultReader lists the persisted rows of a scan run
type RunResultReader interface {
	GetRunResults(ctx context.Context, runID string, limit int) ([]*store.ScanResult, error)
}

// Server is the HTTP classification service
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	detector atomic.Pointer[privacy.Detector]
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	metrics  *metrics.Metrics
	limiter  *RateLimiter

	results ResultCache
	runs    RunSummaryStore
	sink    etl.ResultSink
	dedupe  etl.DuplicateTracker
	stored  RunResultReader

	scans   map[string]*cache.RunSummary
	active  map[string]*etl.Pipeline
	scansMu sync.RWMutex
	scanWG  sync.WaitGroup

	baseCtx   context.Context
	cancel    context.CancelFunc
	startedAt time.Time
}

// Option customizes a Server
type Option func(*Server)

// WithMetrics records request and classification metrics and serves them
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithResultCache caches /v1/classify responses per payload
func WithResultCache(c ResultCache) Option {
	return func(s *Server) { s.results = c }
}

// WithRunSummaryStore persists the summaries of HTTP-started scans
func WithRunSummaryStore(r RunSummaryStore) Option {
	return func(s *Server) { s.runs = r }
}

// WithScanSink persists outcomes of HTTP-started scans
func WithScanSink(sink etl.ResultSink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithDuplicateTracker counts duplicate payloads in HTTP-started scans
func WithDuplicateTracker(t etl.DuplicateTracker) Option {
	return func(s *Server) { s.dedupe = t }
}

// WithRunResults serves the persisted rows of scan runs
func WithRunResults(r RunResultReader) Option {
	return func(s *Server) { s.stored = r }
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}

	// Create PII detector
	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create privacy detector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		router:    mux.NewRouter(),
		limiter:   NewRateLimiter(cfg.Server.RateLimit),
		scans:     make(map[string]*cache.RunSummary),
		active:    make(map[string]*etl.Pipeline),
		baseCtx:   ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	s.detector.Store(detector)
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = websocket.NewHub(cfg.WebSocket, log.Logger, s.metrics)

	// Setup routes
	s.setupRoutes()

	// Create HTTP server
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// WebSocket upgrades need the raw ResponseWriter, so they skip the middleware chain
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}
	if s.config.Metrics.Enabled && s.metrics != nil {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods("GET")
	}

	api := s.router.NewRoute().Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/v1/classify", s.handleClassify).Methods("POST")
	api.HandleFunc("/v1/classify/batch", s.handleClassifyBatch).Methods("POST")

	if s.config.Server.ScanRoot != "" {
		api.HandleFunc("/v1/scans", s.handleStartScan).Methods("POST")
		api.HandleFunc("/v1/scans/{id}", s.handleGetScan).Methods("GET")
		api.HandleFunc("/v1/scans/{id}/results", s.handleGetScanResults).Methods("GET")
	}
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the hub and the HTTP server; it blocks until the server stops
func (s *Server) Start() error {
	s.logger.Info("Starting PII-Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.Strings("detectors", s.Detector().EnabledDetectors()),
		zap.Int("combinatorial_threshold", s.Detector().Threshold()),
		zap.Bool("rate_limit", s.config.Server.RateLimit.Enabled),
		zap.String("scan_root", s.config.Server.ScanRoot),
	)

	// Start WebSocket hub in a separate goroutine
	go s.wsHub.Run(s.baseCtx)
	s.limiter.StartCleanupRoutine(s.baseCtx)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and waits for running scans
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII-Sentinel server")
	err := s.server.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.scanWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Scans still running at shutdown")
	}
	return err
}

// Detector returns the detector currently serving requests
func (s *Server) Detector() *privacy.Detector {
	return s.detector.Load()
}

// Reload swaps in a detector built from cfg. In-flight requests finish on
// the detector they started with. The old detector stays active on error.
func (s *Server) Reload(cfg config.PrivacyConfig) error {
	detector, err := privacy.New(cfg, s.logger.WithComponent("privacy"))
	if err != nil {
		s.metrics.ObserveReload(false)
		s.logger.Error("Detector reload failed, keeping previous configuration", zap.Error(err))
		return fmt.Errorf("failed to reload detector: %w", err)
	}

	s.detector.Store(detector)
	s.metrics.ObserveReload(true)
	s.logger.Info("Detector reloaded",
		zap.Strings("detectors", detector.EnabledDetectors()),
		zap.Int("combinatorial_threshold", detector.Threshold()),
	)

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeSystemStatus,
		Timestamp: time.Now(),
		Data:      s.systemStatus("reloaded", "detector configuration reloaded"),
	})
	return nil
}

func (s *Server) systemStatus(status, message string) websocket.SystemStatusEvent {
	d := s.Detector()
	return websocket.SystemStatusEvent{
		Status:           status,
		Message:          message,
		Uptime:           time.Since(s.startedAt).Truncate(time.Second).String(),
		Detectors:        d.EnabledDetectors(),
		Threshold:        d.Threshold(),
		ConnectedClients: s.wsHub.ClientCount(),
	}
}
