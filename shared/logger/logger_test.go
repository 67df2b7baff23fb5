package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(l *slog.Logger)
		wantLevel string
		wantMsg   string
		empty     bool
	}{
		{
			name:      "debug passes at debug level",
			level:     "debug",
			logFn:     func(l *slog.Logger) { l.Debug("Claimed job", slog.String("job_id", "j1")) },
			wantLevel: "DEBUG",
			wantMsg:   "Claimed job",
		},
		{
			name:  "debug dropped at info level",
			level: "info",
			logFn: func(l *slog.Logger) { l.Debug("Claimed job") },
			empty: true,
		},
		{
			name:      "warning alias",
			level:     "warning",
			logFn:     func(l *slog.Logger) { l.Warn("Job stalled", slog.String("job_id", "j1")) },
			wantLevel: "WARN",
			wantMsg:   "Job stalled",
		},
		{
			name:  "info dropped at error level",
			level: "error",
			logFn: func(l *slog.Logger) { l.Info("Worker started") },
			empty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: buf})
			require.NoError(t, err)

			tt.logFn(logger.Logger)
			if tt.empty {
				assert.Empty(t, buf.String())
				return
			}

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantMsg, entry["msg"])
			assert.Equal(t, "j1", entry["job_id"])
		})
	}
}

func TestNew_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: buf})
	require.NoError(t, err)

	logger.Info("Batch seeded", slog.String("batch_id", "b1"), slog.Int("jobs", 3))

	out := buf.String()
	assert.Contains(t, out, "Batch seeded")
	assert.Contains(t, out, "batch_id")
	assert.Contains(t, out, "b1")
	assert.Contains(t, out, "jobs")
}

func TestNew_Source(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", EnableSource: true, writer: buf})
	require.NoError(t, err)

	logger.Info("Queue paused")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry, "source")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNew_FileOutputFansOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	console := &bytes.Buffer{}

	logger, err := New(&Config{
		Level:  "info",
		Format: "console",
		Output: path,
		writer: console,
	})
	require.NoError(t, err)

	logger.With(slog.String("kind", "scrape")).Info("Job completed", slog.String("job_id", "j1"))
	require.NoError(t, logger.Close())

	assert.Contains(t, console.String(), "Job completed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &logEntry))
	assert.Equal(t, "Job completed", logEntry["msg"])
	assert.Equal(t, "scrape", logEntry["kind"])
	assert.Equal(t, "j1", logEntry["job_id"])
}

func TestNew_UnwritableFile(t *testing.T) {
	logger, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger, err := New(&Config{writer: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
