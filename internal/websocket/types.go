package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePIIDetection represents a PII detection event
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeScanProgress represents a dataset scan progress event
	EventTypeScanProgress EventType = "scan_progress"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PIIDetectionEvent describes one record classified as PII. It carries
// field names and kinds only, never values.
type PIIDetectionEvent struct {
	Source              string            `json:"source"` // "classify" or "batch"
	RecordID            string            `json:"record_id,omitempty"`
	RunID               string            `json:"run_id,omitempty"`
	StandaloneFields    []string          `json:"standalone_fields"`
	CombinatorialFields []string          `json:"combinatorial_fields"`
	SignalCount         int               `json:"signal_count"`
	Findings            []privacy.Finding `json:"findings"`
	ProcessingMS        float64           `json:"processing_ms"`
}

// ScanProgressEvent reports progress of a running dataset scan
type ScanProgressEvent struct {
	RunID          string  `json:"run_id"`
	RecordsRead    int64   `json:"records_read"`
	PIIRecords     int64   `json:"pii_records"`
	DecodeErrors   int64   `json:"decode_errors"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	RatePerSecond  float64 `json:"rate_per_second"`
	Done           bool    `json:"done"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string   `json:"status"`
	Message          string   `json:"message,omitempty"`
	Uptime           string   `json:"uptime"`
	Detectors        []string `json:"detectors"`
	Threshold        int      `json:"combinatorial_threshold"`
	ConnectedClients int      `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows pii_detection events
type EventFilter struct {
	Kinds          []string `json:"kinds,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	StandaloneOnly bool     `json:"standalone_only,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.RWMutex
	subscription *SubscriptionRequest
	lastPing     time.Time
}

// Subscription returns the client's current subscription, nil for all events
func (c *Client) Subscription() *SubscriptionRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscription
}

func (c *Client) setSubscription(s *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = s
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}
