package cache

import (
	"time"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunSummary is the bookkeeping kept for one scan run
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Input        string    `json:"input"`
	Output       string    `json:"output"`
	Status       string    `json:"status"`
	TotalRecords int64     `json:"total_records"`
	PIIRecords   int64     `json:"pii_records"`
	CleanRecords int64     `json:"clean_records"`
	DecodeErrors int64     `json:"decode_errors"`
	Duplicates   int64     `json:"duplicates"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CachedResult is a stored classification of one payload
type CachedResult struct {
	IsPII    bool                         `json:"is_pii"`
	Redacted string                       `json:"redacted"`
	Result   privacy.ClassificationResult `json:"classification"`
	Findings []privacy.Finding            `json:"findings"`
	CachedAt time.Time                    `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Duplicates  int64   `json:"duplicates"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
