package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			log, err := New(Config{Level: level, Format: "json"})
			require.NoError(t, err)
			want, _ := zapcore.ParseLevel(level)
			assert.True(t, log.Core().Enabled(want))
			if want > zapcore.DebugLevel {
				assert.False(t, log.Core().Enabled(want-1))
			}
		})
	}

	_, err := New(Config{Level: "verbose", Format: "json"})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sentinel.log")
	log, err := New(Config{
		Level:  "info",
		Format: "console",
		Stderr: true,
		File:   &FileConfig{Enabled: true, Path: path},
	})
	require.NoError(t, err)

	// Sync fails on terminals and pipes; the file core writes unbuffered
	log.WithComponent("etl").WithRunID("run-1").Info("Scan started")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Scan started", entry["msg"])
	assert.Equal(t, "etl", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &Logger{Logger: zap.New(core)}

	log.WithRequestID("req-9").Info("handled")
	log.LogRecordError("42", errors.New("invalid JSON"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-9", entries[0].ContextMap()["request_id"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	fields := entries[1].ContextMap()
	assert.Equal(t, "42", fields["record_id"])
	assert.Equal(t, "invalid JSON", fields["error"])
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))
	log.WithComponent("x").Info("discarded")
}
