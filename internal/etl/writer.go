package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/segmentio/parquet-go"
)

// outputHeader lists the output columns in order
var outputHeader = []string{"record_id", "redacted_data_json", "is_pii"}

// RowWriter writes redacted rows to an output dataset
type RowWriter interface {
	Write(rows []OutputRow) error
	Close() error
}

// CreateRowWriter creates the output file and picks the format from its extension
func CreateRowWriter(path string) (RowWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w, err := NewRowWriter(file, DetectFileFormat(path))
	if err != nil {
		file.Close()
		return nil, err
	}
	return &fileRowWriter{RowWriter: w, file: file}, nil
}

// NewRowWriter writes rows in format to w. Close flushes but does not close w.
func NewRowWriter(w io.Writer, format FileFormat) (RowWriter, error) {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(outputHeader); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		return &csvRowWriter{w: cw}, nil
	case FormatParquet:
		return &parquetRowWriter{w: parquet.NewGenericWriter[OutputRow](w)}, nil
	case FormatJSON:
		buf := bufio.NewWriter(w)
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		return &jsonRowWriter{buf: buf, enc: enc}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

type fileRowWriter struct {
	RowWriter
	file *os.File
}

func (f *fileRowWriter) Close() error {
	if err := f.RowWriter.Close(); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}

type csvRowWriter struct {
	w *csv.Writer
}

func (c *csvRowWriter) Write(rows []OutputRow) error {
	for _, row := range rows {
		isPII := "False"
		if row.IsPII {
			isPII = "True"
		}
		if err := c.w.Write([]string{row.RecordID, row.RedactedDataJSON, isPII}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvRowWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}

type parquetRowWriter struct {
	w *parquet.GenericWriter[OutputRow]
}

func (p *parquetRowWriter) Write(rows []OutputRow) error {
	if _, err := p.w.Write(rows); err != nil {
		return fmt.Errorf("failed to write Parquet rows: %w", err)
	}
	return nil
}

func (p *parquetRowWriter) Close() error {
	return p.w.Close()
}

type jsonRowWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func (j *jsonRowWriter) Write(rows []OutputRow) error {
	for i := range rows {
		if err := j.enc.Encode(&rows[i]); err != nil {
			return fmt.Errorf("failed to write JSON row: %w", err)
		}
	}
	return nil
}

func (j *jsonRowWriter) Close() error {
	return j.buf.Flush()
}
