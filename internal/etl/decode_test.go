package etl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRecord(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{"Order", `{"b": 1, "a": "x"}`, `{"b":1,"a":"x"}`},
		{"NumberLiterals", `{"n": 1.50, "m": 9876543210.0, "e": 1e3}`, `{"n":1.50,"m":9876543210.0,"e":1e3}`},
		{"Null", `{"x": null}`, `{"x":null}`},
		{"Ampersand", `{"city": "Bengaluru & Mysuru"}`, `{"city":"Bengaluru & Mysuru"}`},
		{"Empty", `{}`, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeRecord(tt.payload)
			require.NoError(t, err)
			out, err := EncodeRecord(rec)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	for _, payload := range []string{"", "   ", "nan", "[1]", "null", `{"a": true}`, `{"a": {"b": 1}}`, `{"a": 1`} {
		_, err := DecodeRecord(payload)
		assert.Error(t, err, payload)
	}
}

func TestDetectFileFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, DetectFileFormat("data.csv"))
	assert.Equal(t, FormatCSV, DetectFileFormat("data"))
	assert.Equal(t, FormatParquet, DetectFileFormat("data.PARQUET"))
	assert.Equal(t, FormatJSON, DetectFileFormat("data.jsonl"))
	assert.Equal(t, FormatJSON, DetectFileFormat("data.json"))
}

func TestCSVRowWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewRowWriter(&buf, FormatCSV)
	require.NoError(t, err)

	require.NoError(t, w.Write([]OutputRow{
		{RecordID: "1", RedactedDataJSON: `{"a":"b"}`, IsPII: true},
		{RecordID: "2", RedactedDataJSON: `{}`, IsPII: false},
	}))
	require.NoError(t, w.Close())

	assert.Equal(t, "record_id,redacted_data_json,is_pii\n1,\"{\"\"a\"\":\"\"b\"\"}\",True\n2,{},False\n", buf.String())
}

func TestResolveColumns(t *testing.T) {
	variants := []string{"data_json", "Data_json", "Data_JSON", "data_JSON"}

	id, payload, err := resolveColumns([]string{"Data_JSON", "record_id", "data_JSON"}, "record_id", variants)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 0, payload)

	_, _, err = resolveColumns([]string{"record_id", "DATA_JSON"}, "record_id", variants)
	assert.ErrorIs(t, err, ErrSchema)
}
