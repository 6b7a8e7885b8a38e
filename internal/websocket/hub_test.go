package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func testConfig() config.WebSocketConfig {
	cfg := config.GetDefaults().WebSocket
	cfg.Events.BroadcastConnections = false
	return cfg
}

func startHub(t *testing.T, cfg config.WebSocketConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func detectionEvent(kind privacy.Kind, source string) Event {
	return Event{
		Type: EventTypePIIDetection,
		Data: PIIDetectionEvent{
			Source:           source,
			RecordID:         "42",
			StandaloneFields: []string{"phone"},
			SignalCount:      0,
			Findings:         []privacy.Finding{{Field: "phone", Kind: kind, Source: privacy.SourceStandalone}},
		},
	}
}

func TestHubBroadcastsDetection(t *testing.T) {
	hub, srv := startHub(t, testConfig())
	conn := dial(t, srv, nil)
	waitForClients(t, hub, 1)

	hub.BroadcastEvent(detectionEvent(privacy.KindPhone, "classify"))

	msg := readEvent(t, conn)
	assert.Equal(t, "pii_detection", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "42", data["record_id"])
	assert.Equal(t, []interface{}{"phone"}, data["standalone_fields"])

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.ActiveConnections)
	assert.Equal(t, int64(1), stats.TotalConnections)
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, srv := startHub(t, testConfig())
	conn := dial(t, srv, nil)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Type: "subscribe",
		Data: SubscriptionRequest{
			Events: []EventType{EventTypePIIDetection},
			Filter: &EventFilter{Kinds: []string{string(privacy.KindAadhar)}},
		},
	}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn)["type"])

	hub.BroadcastEvent(Event{Type: EventTypeScanProgress, Data: ScanProgressEvent{RunID: "r1"}})
	hub.BroadcastEvent(detectionEvent(privacy.KindPhone, "classify"))
	hub.BroadcastEvent(detectionEvent(privacy.KindAadhar, "batch"))

	msg := readEvent(t, conn)
	assert.Equal(t, "pii_detection", msg["type"])
	findings := msg["data"].(map[string]interface{})["findings"].([]interface{})
	assert.Equal(t, "aadhar", findings[0].(map[string]interface{})["kind"])
}

func TestHubDisabledEventsAreDropped(t *testing.T) {
	cfg := testConfig()
	cfg.Events.BroadcastScanProgress = false
	hub, srv := startHub(t, cfg)
	conn := dial(t, srv, nil)
	waitForClients(t, hub, 1)

	hub.BroadcastEvent(Event{Type: EventTypeScanProgress, Data: ScanProgressEvent{RunID: "r1"}})
	hub.BroadcastEvent(Event{Type: EventTypeSystemStatus, Data: SystemStatusEvent{Status: "ok"}})

	assert.Equal(t, "system_status", readEvent(t, conn)["type"])
}

func TestHubAuthentication(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "s3cret"
	hub, srv := startHub(t, cfg)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := http.Header{}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("admin", "wrong")
	bad.Set("Authorization", req.Header.Get("Authorization"))
	_, resp, err = websocket.DefaultDialer.Dial(url, bad)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good := http.Header{}
	req.SetBasicAuth("admin", "s3cret")
	good.Set("Authorization", req.Header.Get("Authorization"))
	dial(t, srv, good)
	waitForClients(t, hub, 1)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t, testConfig())
	conn := dial(t, srv, nil)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
}

func TestApplyEventFilter(t *testing.T) {
	event := detectionEvent(privacy.KindPhone, "batch")

	tests := []struct {
		name   string
		filter EventFilter
		want   bool
	}{
		{"empty", EventFilter{}, true},
		{"kind match", EventFilter{Kinds: []string{"phone"}}, true},
		{"kind miss", EventFilter{Kinds: []string{"passport"}}, false},
		{"source match", EventFilter{Sources: []string{"batch"}}, true},
		{"source miss", EventFilter{Sources: []string{"classify"}}, false},
		{"standalone only", EventFilter{StandaloneOnly: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyEventFilter(&tt.filter, event))
		})
	}

	combinatorial := Event{Type: EventTypePIIDetection, Data: PIIDetectionEvent{CombinatorialFields: []string{"name", "email"}}}
	assert.False(t, applyEventFilter(&EventFilter{StandaloneOnly: true}, combinatorial))

	// Non-detection events pass through
	assert.True(t, applyEventFilter(&EventFilter{Kinds: []string{"phone"}}, Event{Type: EventTypeSystemStatus}))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	assert.Equal(t, "10.0.0.5", getClientIP(req))

	req.Header.Set("X-Real-IP", "192.168.1.9")
	assert.Equal(t, "192.168.1.9", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}

func TestEventJSONCarriesNoValues(t *testing.T) {
	data, err := json.Marshal(detectionEvent(privacy.KindPhone, "classify"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "value")
	assert.Contains(t, string(data), `"kind":"phone"`)
}
