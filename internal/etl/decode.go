package etl

import (
	"fmt"
	"strings"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// DecodeRecord parses a JSON payload into a record. The payload must be a
// flat object of strings, numbers and nulls.
func DecodeRecord(raw string) (privacy.Record, error) {
	var rec privacy.Record
	if strings.TrimSpace(raw) == "" {
		return rec, fmt.Errorf("failed to decode payload: empty payload")
	}
	if err := rec.UnmarshalJSON([]byte(raw)); err != nil {
		return rec, fmt.Errorf("failed to decode payload: %w", err)
	}
	return rec, nil
}

// EncodeRecord renders a record as JSON, keeping field order and number literals
func EncodeRecord(rec privacy.Record) (string, error) {
	out, err := rec.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(out), nil
}

// ScanRow classifies one input row. A payload that cannot be decoded yields
// the fallback row: original payload, not PII.
func ScanRow(detector *privacy.Detector, row InputRow) (OutputRow, privacy.Result, error) {
	rec, err := DecodeRecord(row.DataJSON)
	if err != nil {
		return fallbackRow(row), privacy.Result{}, err
	}

	res := detector.Process(rec)
	encoded, err := EncodeRecord(res.Redacted)
	if err != nil {
		return fallbackRow(row), privacy.Result{}, err
	}

	return OutputRow{
		RecordID:         row.RecordID,
		RedactedDataJSON: encoded,
		IsPII:            res.Classification.IsPII,
	}, res, nil
}

func fallbackRow(row InputRow) OutputRow {
	return OutputRow{RecordID: row.RecordID, RedactedDataJSON: row.DataJSON, IsPII: false}
}
