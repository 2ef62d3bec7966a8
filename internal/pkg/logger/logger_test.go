package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{
		Level:       level,
		Format:      "json",
		Output:      &buf,
		ServiceName: "framepipe-test",
	}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		t.Run("format="+format, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Level: "info", Format: format, Output: &buf})
			require.NotNil(t, log)
			log.Info("hello")
			assert.Contains(t, buf.String(), "hello")
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.Info("frame received", "frame", 12)

	entry := decodeLine(t, buf)
	assert.Equal(t, "frame received", entry["msg"])
	assert.Equal(t, float64(12), entry["frame"])
	assert.Equal(t, "framepipe-test", entry["service"])
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info logs info", "info", func(l *Logger) { l.Info("x") }, true},
		{"info drops debug", "info", func(l *Logger) { l.Debug("x") }, false},
		{"debug logs debug", "debug", func(l *Logger) { l.Debug("x") }, true},
		{"error logs error", "error", func(l *Logger) { l.Error("x") }, true},
		{"error drops warn", "error", func(l *Logger) { l.Warn("x") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBufferLogger(tt.level)
			tt.logFn(log)
			assert.Equal(t, tt.shouldLog, buf.Len() > 0)
		})
	}
}

func TestWithRenderJob(t *testing.T) {
	log, buf := newBufferLogger("info")

	log.WithRenderJob("sample", "HD").Info("queued")

	entry := decodeLine(t, buf)
	assert.Equal(t, "sample-HD", entry["job_id"])
	assert.Equal(t, "sample", entry["scene"])
	assert.Equal(t, "HD", entry["format"])
}

func TestWithComponentAndWorker(t *testing.T) {
	log, buf := newBufferLogger("info")

	log.WithComponent("worker-pool").WithWorkerID("w-1").Info("launched")

	entry := decodeLine(t, buf)
	assert.Equal(t, "worker-pool", entry["component"])
	assert.Equal(t, "w-1", entry["worker_id"])
}

func TestWithError(t *testing.T) {
	log, buf := newBufferLogger("info")

	assert.Same(t, log, log.WithError(nil))

	log.WithError(context.DeadlineExceeded).Info("encode failed")
	assert.Contains(t, buf.String(), "deadline exceeded")
}

func TestWithFields(t *testing.T) {
	log, buf := newBufferLogger("info")

	log.WithFields(map[string]any{"start_frame": 1, "end_frame": 600}).Info("dispatch")

	entry := decodeLine(t, buf)
	assert.Equal(t, float64(1), entry["start_frame"])
	assert.Equal(t, float64(600), entry["end_frame"])
}

func TestFromContext(t *testing.T) {
	log, buf := newBufferLogger("info")

	ctx := ContextWithRequestID(context.Background(), "req-abc")
	ctx = ContextWithJobID(ctx, "sample-plenary")
	ctx = ContextWithWorkerID(ctx, "w-9")

	log.FromContext(ctx).Info("check-in")

	entry := decodeLine(t, buf)
	assert.Equal(t, "req-abc", entry["request_id"])
	assert.Equal(t, "sample-plenary", entry["job_id"])
	assert.Equal(t, "w-9", entry["worker_id"])
}

func TestFromContextWithoutIDs(t *testing.T) {
	log := Discard()
	assert.Same(t, log, log.FromContext(context.Background()))
}

func TestWithFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.WithFields(map[string]any{"b": 2, "a": 1, "c": 3}).Info("x")

	out := buf.String()
	assert.Less(t, strings.Index(out, "a=1"), strings.Index(out, "b=2"))
	assert.Less(t, strings.Index(out, "b=2"), strings.Index(out, "c=3"))
}

func TestLogError(t *testing.T) {
	log, buf := newBufferLogger("info")

	log.LogError(context.Background(), "upload failed", nil)
	assert.Zero(t, buf.Len(), "nil error must not log")

	log.LogError(context.Background(), "upload failed", context.Canceled, "frame", 3)
	entry := decodeLine(t, buf)
	assert.Equal(t, "context canceled", entry["error"])
	assert.Contains(t, entry, "source")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"DEBUG":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
		"":        "INFO",
	}
	for input, expected := range tests {
		assert.Equal(t, expected, ParseLevel(input).String(), "input %q", input)
	}
}
