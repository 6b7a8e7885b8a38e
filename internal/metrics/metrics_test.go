package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveRecord(true, false, 2)
	m.ObserveRecord(false, false, 1)
	m.ObserveRecord(false, true, 0)
	m.ObserveFinding("phone", "standalone")
	m.ObserveDuplicates(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("pii")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("clean")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("decode_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Findings.WithLabelValues("phone", "standalone")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Duplicates))
}

func TestMetricsScanGauge(t *testing.T) {
	m := NewMetrics("test")

	done := m.ScanStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveScans))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveScans))
}

func TestMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics("test")
	b := NewMetrics("test")

	a.ObserveRateLimited()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RateLimited))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RateLimited))
}

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRecord(true, false, 2)
		m.ObserveFinding("email", "combinatorial")
		m.ObserveDuplicates(1)
		m.ObserveBatch(time.Second)
		m.ObserveStoreFailure()
		m.ScanStarted()()
		m.ObserveHTTP("/health", 200, time.Millisecond)
		m.ObserveRateLimited()
		m.SetWSConnections(2)
		m.ObserveReload(true)
	})
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveHTTP("/v1/classify", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{code="200",route="/v1/classify"} 1`)
}
