package store

import (
	"time"
)

// ScanResult is one persisted scan row
type ScanResult struct {
	ID                  int64     `db:"id" json:"id"`
	RunID               string    `db:"run_id" json:"run_id"`
	RecordID            string    `db:"record_id" json:"record_id"`
	RedactedDataJSON    string    `db:"redacted_data_json" json:"redacted_data_json"`
	IsPII               bool      `db:"is_pii" json:"is_pii"`
	StandaloneFields    []string  `db:"standalone_fields" json:"standalone_fields"`
	CombinatorialFields []string  `db:"combinatorial_fields" json:"combinatorial_fields"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// RunStats summarizes the stored rows of one scan run
type RunStats struct {
	RunID      string    `db:"run_id" json:"run_id"`
	Total      int64     `db:"total" json:"total"`
	PII        int64     `db:"pii" json:"pii"`
	Clean      int64     `db:"clean" json:"clean"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}

// Stats represents database statistics
type Stats struct {
	TotalResults int64       `json:"total_results"`
	PIIResults   int64       `json:"pii_results"`
	CleanResults int64       `json:"clean_results"`
	Runs         []*RunStats `json:"runs"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}
