package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the scanner and the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Records         *prometheus.CounterVec
	Findings        *prometheus.CounterVec
	SignalCount     prometheus.Histogram
	Duplicates      prometheus.Counter
	BatchDuration   prometheus.Histogram
	StoreFailures   prometheus.Counter
	ActiveScans     prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	WSConnections   prometheus.Gauge
	DetectorReloads *prometheus.CounterVec
}

// NewMetrics registers every instrument on a fresh registry
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records classified, by outcome (pii, clean, decode_error).",
		}, []string{"outcome"}),
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masked_fields_total",
			Help:      "Masked fields by PII kind and classifier.",
		}, []string{"kind", "source"}),
		SignalCount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "combinatorial_signals",
			Help:      "Combinatorial signals present per record.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_payloads_total",
			Help:      "Payloads already seen earlier in the same scan run.",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to classify, write and persist one scan batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Result batches that could not be persisted.",
		}),
		ActiveScans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scans",
			Help:      "Dataset scans currently running.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Connected WebSocket clients.",
		}),
		DetectorReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_reloads_total",
			Help:      "Configuration reloads of the detector by result.",
		}, []string{"result"}),
	}
}

// ObserveRecord counts one classified record
func (m *Metrics) ObserveRecord(isPII, decodeError bool, signals int) {
	if m == nil {
		return
	}
	switch {
	case decodeError:
		m.Records.WithLabelValues("decode_error").Inc()
		return
	case isPII:
		m.Records.WithLabelValues("pii").Inc()
	default:
		m.Records.WithLabelValues("clean").Inc()
	}
	m.SignalCount.Observe(float64(signals))
}

// ObserveFinding counts one masked field
func (m *Metrics) ObserveFinding(kind, source string) {
	if m == nil {
		return
	}
	m.Findings.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) ObserveDuplicates(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Duplicates.Add(float64(n))
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveStoreFailure() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

// ScanStarted increments the running-scan gauge and returns the matching decrement
func (m *Metrics) ScanStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveScans.Inc()
	return m.ActiveScans.Dec
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// SetWSConnections reports the current WebSocket client count
func (m *Metrics) SetWSConnections(n int) {
	if m == nil {
		return
	}
	m.WSConnections.Set(float64(n))
}

func (m *Metrics) ObserveReload(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.DetectorReloads.WithLabelValues(result).Inc()
}

// Registry exposes the registry the instruments are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
