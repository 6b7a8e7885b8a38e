package etl

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

const maxJSONLineBytes = 16 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// batchReader returns the next batch of rows; an empty batch means end of input
type batchReader func() ([]InputRow, error)

// resolveColumns finds the record id column and the first payload column
// variant present in header.
func resolveColumns(header []string, idColumn string, jsonColumns []string) (int, int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	idIdx, ok := index[idColumn]
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing %q column", ErrSchema, idColumn)
	}

	for _, col := range jsonColumns {
		if i, ok := index[col]; ok {
			return idIdx, i, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: input must contain one of the payload columns %v", ErrSchema, jsonColumns)
}

// newCSVReader validates the header and returns a batch reader over the remaining rows
func (p *Pipeline) newCSVReader(r io.Reader, result *ProcessingResult) (batchReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	// Read header
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input, header row required", ErrSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	header = append([]string(nil), header...)
	header[0] = strings.TrimPrefix(header[0], string(utf8BOM))

	idIdx, jsonIdx, err := resolveColumns(header, p.config.RecordIDColumn, p.config.JSONColumns)
	if err != nil {
		return nil, err
	}

	p.logger.Info("CSV header detected",
		zap.Strings("columns", header),
		zap.String("payload_column", header[jsonIdx]))

	line := 1
	return func() ([]InputRow, error) {
		var batch []InputRow

		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			line++
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) {
					p.logger.Warn("Failed to read CSV record", zap.Int("line", line), zap.Error(err))
					result.Malformed++
					continue
				}
				return nil, fmt.Errorf("failed to read CSV record: %w", err)
			}

			if len(record) <= idIdx || len(record) <= jsonIdx {
				p.logger.Warn("Invalid CSV record length", zap.Int("line", line), zap.Int("length", len(record)))
				result.Malformed++
				continue
			}

			batch = append(batch, InputRow{
				RecordID: strings.TrimSpace(record[idIdx]),
				DataJSON: record[jsonIdx],
			})
		}

		return batch, nil
	}, nil
}

// newParquetReader checks the file schema and reads rows column by column,
// so record ids stored as integers are accepted as well as strings.
func (p *Pipeline) newParquetReader(r io.ReaderAt, result *ProcessingResult) (batchReader, func() error, error) {
	reader := parquet.NewReader(r)
	schema := reader.Schema()

	var names []string
	for _, f := range schema.Fields() {
		names = append(names, f.Name())
	}
	idIdx, jsonIdx, err := resolveColumns(names, p.config.RecordIDColumn, p.config.JSONColumns)
	if err != nil {
		reader.Close()
		return nil, nil, err
	}

	idLeaf, ok := schema.Lookup(names[idIdx])
	if !ok {
		reader.Close()
		return nil, nil, fmt.Errorf("%w: %q is not a leaf column", ErrSchema, names[idIdx])
	}
	jsonLeaf, ok := schema.Lookup(names[jsonIdx])
	if !ok {
		reader.Close()
		return nil, nil, fmt.Errorf("%w: %q is not a leaf column", ErrSchema, names[jsonIdx])
	}

	p.logger.Info("Parquet schema detected",
		zap.Strings("columns", names),
		zap.Int64("rows", reader.NumRows()))

	rows := make([]parquet.Row, p.config.BatchSize)
	return func() ([]InputRow, error) {
		n, err := reader.ReadRows(rows)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read Parquet rows: %w", err)
		}

		batch := make([]InputRow, 0, n)
		for _, row := range rows[:n] {
			var in InputRow
			var haveID bool
			for _, v := range row {
				switch v.Column() {
				case idLeaf.ColumnIndex:
					if !v.IsNull() {
						in.RecordID = v.String()
						haveID = true
					}
				case jsonLeaf.ColumnIndex:
					if !v.IsNull() {
						in.DataJSON = v.String()
					}
				}
			}
			if !haveID {
				result.Malformed++
				continue
			}
			batch = append(batch, in)
		}
		return batch, nil
	}, reader.Close, nil
}

// newJSONReader reads one JSON object per line. Record ids may be strings
// or numbers; the payload may be a JSON string or an inline object.
func (p *Pipeline) newJSONReader(r io.Reader, result *ProcessingResult) batchReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLineBytes)

	line := 0
	return func() ([]InputRow, error) {
		var batch []InputRow

		for len(batch) < p.config.BatchSize && scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if line == 1 {
				text = bytes.TrimPrefix(text, utf8BOM)
			}
			if len(text) == 0 {
				continue
			}

			row, err := p.parseJSONLine(text)
			if err != nil {
				p.logger.Warn("Failed to read JSON record", zap.Int("line", line), zap.Error(err))
				result.Malformed++
				continue
			}
			batch = append(batch, row)
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read JSON lines: %w", err)
		}
		return batch, nil
	}
}

func (p *Pipeline) parseJSONLine(line []byte) (InputRow, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return InputRow{}, err
	}

	id, ok := obj[p.config.RecordIDColumn]
	if !ok {
		return InputRow{}, fmt.Errorf("missing %q", p.config.RecordIDColumn)
	}
	for _, col := range p.config.JSONColumns {
		if payload, ok := obj[col]; ok {
			return InputRow{RecordID: rawText(id), DataJSON: rawText(payload)}, nil
		}
	}
	return InputRow{}, fmt.Errorf("missing payload column")
}

// rawText unquotes JSON strings and returns other values as their literal text
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}
