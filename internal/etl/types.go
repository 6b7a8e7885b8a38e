package etl

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrSchema is returned when an input dataset lacks a required column
	ErrSchema = errors.New("input schema error")
	// ErrInputNotFound is returned when the input dataset does not exist
	ErrInputNotFound = errors.New("input file not found")
	// ErrSameFile is returned when the output path names the input file
	ErrSameFile = errors.New("output path is the input file")
)

// InputRow represents a single row from the input dataset
type InputRow struct {
	RecordID string `parquet:"record_id" json:"record_id"`
	DataJSON string `parquet:"data_json" json:"data_json"`
}

// OutputRow is one redacted row written to the output dataset
type OutputRow struct {
	RecordID         string `parquet:"record_id" json:"record_id"`
	RedactedDataJSON string `parquet:"redacted_data_json" json:"redacted_data_json"`
	IsPII            bool   `parquet:"is_pii" json:"is_pii"`
}

// ProcessingResult represents the result of scanning a dataset
type ProcessingResult struct {
	RunID        string        `json:"run_id"`
	Output       string        `json:"output"`
	TotalRecords int64         `json:"total_records"`
	PIIRecords   int64         `json:"pii_records"`
	CleanRecords int64         `json:"clean_records"`
	DecodeErrors int64         `json:"decode_errors"`
	Malformed    int64         `json:"malformed_rows"`
	Duplicates   int64         `json:"duplicates"`
	StoreFailed  int64         `json:"store_failed"`
	Duration     time.Duration `json:"duration"`
	ScanTime     time.Duration `json:"scan_time"`
	DatabaseTime time.Duration `json:"database_time"`
	CacheTime    time.Duration `json:"cache_time"`
	Errors       []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int      `yaml:"batch_size" mapstructure:"batch_size"`             // 1000
	Workers        int      `yaml:"workers" mapstructure:"workers"`                   // 4
	RecordIDColumn string   `yaml:"record_id_column" mapstructure:"record_id_column"` // record_id
	JSONColumns    []string `yaml:"json_columns" mapstructure:"json_columns"`         // data_json and case variants
	ProgressReport int      `yaml:"progress_report" mapstructure:"progress_report"`   // 10000
}

// Progress is a snapshot of a running scan, handed to progress callbacks
type Progress struct {
	RunID          string        `json:"run_id"`
	RecordsRead    int64         `json:"records_read"`
	PIIRecords     int64         `json:"pii_records"`
	DecodeErrors   int64         `json:"decode_errors"`
	Elapsed        time.Duration `json:"elapsed"`
	ProcessingRate float64       `json:"processing_rate"` // records per second
	Done           bool          `json:"done"`

	started time.Time
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".json", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}

// SameFile reports whether two paths name the same file: the same existing
// file, or equal cleaned absolute paths.
func SameFile(a, b string) bool {
	if ai, err := os.Stat(a); err == nil {
		if bi, err := os.Stat(b); err == nil {
			return os.SameFile(ai, bi)
		}
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
