package etl

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func newTestDetector(t *testing.T) *privacy.Detector {
	t.Helper()
	d, err := privacy.New(config.GetDefaults().Privacy, logger.NewNop())
	require.NoError(t, err)
	return d
}

func newTestPipeline(t *testing.T, batchSize int, opts ...Option) *Pipeline {
	t.Helper()
	cfg := &Config{
		BatchSize:      batchSize,
		Workers:        4,
		RecordIDColumn: "record_id",
		JSONColumns:    []string{"data_json", "Data_json", "Data_JSON", "data_JSON"},
		ProgressReport: 2,
	}
	return NewPipeline(newTestDetector(t), cfg, zap.NewNop(), opts...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

const sampleCSV = `record_id,Data_json
1,"{""phone"": ""9876543210"", ""city"": ""Pune""}"
2,"{""name"": ""Ravi Kumar""}"
3,"{""name"": ""Ravi Kumar"", ""email"": ""ravi.kumar@example.com""}"
4,not json
5,"{""aadhar"": 123456789012}"
`

func TestProcessFileCSV(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.csv", sampleCSV)
	output := filepath.Join(dir, "out", "redacted_output.csv")

	var progress []Progress
	p := newTestPipeline(t, 2, WithProgress(func(pr Progress) { progress = append(progress, pr) }))

	result, err := p.ProcessFile(context.Background(), input, output)
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.TotalRecords)
	assert.Equal(t, int64(3), result.PIIRecords)
	assert.Equal(t, int64(2), result.CleanRecords)
	assert.Equal(t, int64(1), result.DecodeErrors)
	assert.NotEmpty(t, result.RunID)

	rows := readCSV(t, output)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"record_id", "redacted_data_json", "is_pii"}, rows[0])
	assert.Equal(t, []string{"1", `{"phone":"98XXXXXX10","city":"Pune"}`, "True"}, rows[1])
	assert.Equal(t, []string{"2", `{"name":"Ravi Kumar"}`, "False"}, rows[2])
	assert.Equal(t, []string{"3", `{"name":"RXXX KXXXX","email":"rXXXXXXXXr@example.com"}`, "True"}, rows[3])
	assert.Equal(t, []string{"4", "not json", "False"}, rows[4])
	assert.Equal(t, []string{"5", `{"aadhar":"123XXXXXX012"}`, "True"}, rows[5])

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(5), last.RecordsRead)
	assert.Equal(t, result.RunID, last.RunID)
}

func TestProcessFilePreservesOrder(t *testing.T) {
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("record_id,data_json\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "%d,\"{\"\"n\"\": %d}\"\n", i, i)
	}
	input := writeFile(t, dir, "input.csv", b.String())
	output := filepath.Join(dir, "out.csv")

	_, err := newTestPipeline(t, 64).ProcessFile(context.Background(), input, output)
	require.NoError(t, err)

	rows := readCSV(t, output)
	require.Len(t, rows, 251)
	for i, row := range rows[1:] {
		assert.Equal(t, fmt.Sprint(i), row[0])
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), row[1])
	}
}

func TestProcessFileSchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"MissingPayloadColumn", "record_id,payload\n1,{}\n"},
		{"MissingRecordID", "id,data_json\n1,{}\n"},
		{"Empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := writeFile(t, dir, "input.csv", tt.content)
			output := filepath.Join(dir, "out.csv")

			_, err := newTestPipeline(t, 10).ProcessFile(context.Background(), input, output)
			assert.ErrorIs(t, err, ErrSchema)
			assert.NoFileExists(t, output)
		})
	}
}

func TestProcessFileInputNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestPipeline(t, 10).ProcessFile(context.Background(), filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out.csv"))
	assert.ErrorIs(t, err, ErrInputNotFound)
}

func TestProcessFileRefusesToOverwriteInput(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.csv", sampleCSV)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	link := filepath.Join(dir, "link.csv")
	hasLink := os.Symlink(input, link) == nil

	outputs := map[string]string{
		"SamePath": input,
		"DotDot":   filepath.Join(dir, "sub", "..", "input.csv"),
		"Unclean":  dir + string(filepath.Separator) + "." + string(filepath.Separator) + "input.csv",
	}
	if hasLink {
		outputs["Symlink"] = link
	}

	for name, output := range outputs {
		t.Run(name, func(t *testing.T) {
			_, err := newTestPipeline(t, 10).ProcessFile(context.Background(), input, output)
			assert.ErrorIs(t, err, ErrSameFile)

			data, err := os.ReadFile(input)
			require.NoError(t, err)
			assert.Equal(t, sampleCSV, string(data))
		})
	}
}

func TestSameFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "x")
	b := writeFile(t, dir, "b.csv", "x")

	assert.True(t, SameFile(a, a))
	assert.True(t, SameFile(a, filepath.Join(dir, ".", "a.csv")))
	assert.False(t, SameFile(a, b))
	assert.False(t, SameFile(a, filepath.Join(dir, "missing.csv")))
	assert.True(t, SameFile(filepath.Join(dir, "new.csv"), filepath.Join(dir, "x", "..", "new.csv")))
}

func TestProcessFileCSVWithBOMAndShortRows(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.csv", "\ufeffrecord_id,extra,data_json\n1,x,\"{\"\"a\"\": 1}\"\n2\n")
	output := filepath.Join(dir, "out.csv")

	result, err := newTestPipeline(t, 10).ProcessFile(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalRecords)
	assert.Equal(t, int64(1), result.Malformed)
}

func TestProcessFileJSONLines(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.jsonl", strings.Join([]string{
		`{"record_id": 7, "data_json": "{\"upi_id\": \"ravi@ybl\"}"}`,
		``,
		`{"record_id": "8", "data_json": {"city": "Pune"}}`,
		`{broken`,
		`{"record_id": "9"}`,
	}, "\n"))
	output := filepath.Join(dir, "out.jsonl")

	result, err := newTestPipeline(t, 10).ProcessFile(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalRecords)
	assert.Equal(t, int64(2), result.Malformed)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"record_id":"7","redacted_data_json":"{\"upi_id\":\"rXXi@ybl\"}","is_pii":true}`, lines[0])
	assert.Equal(t, `{"record_id":"8","redacted_data_json":"{\"city\":\"Pune\"}","is_pii":false}`, lines[1])
}

func TestProcessFileParquet(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.parquet")

	f, err := os.Create(input)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[InputRow](f)
	_, err = w.Write([]InputRow{
		{RecordID: "a", DataJSON: `{"passport": "P1234567"}`},
		{RecordID: "b", DataJSON: `{"first_name": "Asha", "last_name": "Rao"}`},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	output := filepath.Join(dir, "out.parquet")
	result, err := newTestPipeline(t, 10).ProcessFile(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalRecords)
	assert.Equal(t, int64(1), result.PIIRecords)

	out, err := os.Open(output)
	require.NoError(t, err)
	defer out.Close()

	reader := parquet.NewGenericReader[OutputRow](out)
	defer reader.Close()
	rows := make([]OutputRow, 2)
	n, _ := reader.Read(rows)
	require.Equal(t, 2, n)
	assert.Equal(t, OutputRow{RecordID: "a", RedactedDataJSON: `{"passport":"PXXXXXX7"}`, IsPII: true}, rows[0])
	assert.Equal(t, OutputRow{RecordID: "b", RedactedDataJSON: `{"first_name":"Asha","last_name":"Rao"}`, IsPII: false}, rows[1])
}

type fakeSink struct {
	mu      sync.Mutex
	batches int
	rows    int
	err     error
}

func (f *fakeSink) SaveResults(_ context.Context, _ string, outcomes []RowOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	f.rows += len(outcomes)
	return f.err
}

type fakeTracker struct {
	seen map[string]bool
	err  error
}

func (f *fakeTracker) MarkSeen(_ context.Context, _ string, payloads []string) ([]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]bool, len(payloads))
	for i, p := range payloads {
		out[i] = f.seen[p]
		f.seen[p] = true
	}
	return out, nil
}

func TestProcessFileSinksAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.csv", "record_id,data_json\n1,{}\n2,{}\n3,\"{\"\"a\"\": 1}\"\n")
	output := filepath.Join(dir, "out.csv")

	sink := &fakeSink{}
	tracker := &fakeTracker{seen: map[string]bool{}}
	m := metrics.NewMetrics("test")
	p := newTestPipeline(t, 2, WithStore(sink), WithDuplicateTracker(tracker), WithMetrics(m), WithRunID("run-1"))

	result, err := p.ProcessFile(context.Background(), input, output)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, int64(1), result.Duplicates)
	assert.Equal(t, 2, sink.batches)
	assert.Equal(t, 3, sink.rows)
	assert.Len(t, readCSV(t, output), 4)
}

func TestProcessFileSinkFailuresDoNotStopScan(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.csv", "record_id,data_json\n1,{}\n2,{}\n")
	output := filepath.Join(dir, "out.csv")

	sink := &fakeSink{err: errors.New("connection refused")}
	tracker := &fakeTracker{err: errors.New("redis down")}
	p := newTestPipeline(t, 10, WithStore(sink), WithDuplicateTracker(tracker))

	result, err := p.ProcessFile(context.Background(), input, output)
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.StoreFailed)
	assert.Len(t, result.Errors, 2)
	assert.Len(t, readCSV(t, output), 3)
}

func TestProcessFileCanceled(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "input.csv", sampleCSV)
	output := filepath.Join(dir, "out.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(t, 2).ProcessFile(ctx, input, output)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanBatch(t *testing.T) {
	p := newTestPipeline(t, 10)

	outcomes, err := p.ScanBatch(context.Background(), []InputRow{
		{RecordID: "1", DataJSON: `{"phone": "9876543210"}`},
		{RecordID: "2", DataJSON: `[]`},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.True(t, outcomes[0].Row.IsPII)
	assert.Equal(t, []privacy.Finding{{Field: "phone", Kind: privacy.KindPhone, Source: privacy.SourceStandalone}}, outcomes[0].Findings)
	assert.ErrorIs(t, outcomes[1].Err, privacy.ErrNotObject)
	assert.Equal(t, OutputRow{RecordID: "2", RedactedDataJSON: `[]`}, outcomes[1].Row)
}
