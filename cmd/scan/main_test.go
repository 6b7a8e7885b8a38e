package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644))
	return path
}

func TestScanWritesOutputAndSummary(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "records.csv")
	output := filepath.Join(dir, "out", "redacted.csv")
	require.NoError(t, os.WriteFile(input, []byte("record_id,Data_json\n"+
		`1,"{""phone"": ""9876543210""}"`+"\n"+
		`2,"{""city"": ""Pune""}"`+"\n"+
		`3,"not json"`+"\n"), 0o644))

	stdout, err := execute(t, "--config", writeConfig(t, dir), "--output", output, "--workers", "2", input)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Total records:      3")
	assert.Contains(t, stdout, "PII records:        1")
	assert.Contains(t, stdout, "Non-PII records:    2")
	assert.Contains(t, stdout, "Decode errors:      1")
	assert.Contains(t, stdout, "Output:             "+output)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"record_id", "redacted_data_json", "is_pii"},
		{"1", `{"phone":"98XXXXXX10"}`, "True"},
		{"2", `{"city":"Pune"}`, "False"},
		{"3", "not json", "False"},
	}, rows)
}

func TestScanFailures(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	t.Run("MissingInput", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, filepath.Join(dir, "missing.csv"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input file does not exist")
	})

	t.Run("NoInput", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath)
		require.Error(t, err)
	})

	t.Run("SchemaError", func(t *testing.T) {
		input := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(input, []byte("id,payload\n1,{}\n"), 0o644))
		output := filepath.Join(dir, "bad-out.csv")

		_, err := execute(t, "--config", cfgPath, "--output", output, input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid input dataset")
		assert.NoFileExists(t, output)
	})

	t.Run("OutputIsInput", func(t *testing.T) {
		content := "record_id,data_json\n" + `1,"{""phone"": ""9876543210""}"` + "\n"
		input := filepath.Join(dir, "same.csv")
		require.NoError(t, os.WriteFile(input, []byte(content), 0o644))

		_, err := execute(t, "--config", cfgPath, "-o", input, input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid output")

		data, err := os.ReadFile(input)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("ClearCacheUnreachable", func(t *testing.T) {
		path := filepath.Join(dir, "redis.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\ncache:\n  redis_url: redis://127.0.0.1:1/0\n"), 0o644))

		_, err := execute(t, "--config", path, "--clear-cache")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize run cache")
	})

	t.Run("StatsWithoutStore", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "--stats")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--stats")
	})
}

func TestClearCacheNeedsRunCache(t *testing.T) {
	var out bytes.Buffer
	err := clearCache(context.Background(), &out, &services{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--clear-cache")
	assert.Empty(t, out.String())
}

func TestApplyFlagsClearCacheEnablesCache(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--clear-cache"}))

	cfg := config.GetDefaults()
	applyFlags(cmd, cfg, &options{clearCache: true})
	assert.True(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Storage.Enabled)
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--workers", "8", "--output", "x.parquet", "--db", "--dedupe"}))

	cfg := config.GetDefaults()
	opts := &options{workers: 8, output: "x.parquet", persistDB: true, dedupe: true}
	applyFlags(cmd, cfg, opts)

	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, 1000, cfg.Scan.BatchSize)
	assert.Equal(t, "x.parquet", cfg.Scan.Output)
	assert.True(t, cfg.Storage.Enabled)
	assert.True(t, cfg.Cache.Enabled)
}
