package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerManager_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{
		Level:         "info",
		Format:        "json",
		ContextFields: map[string]string{"service": "ohlcv-ingest"},
	}, &buf)

	lm.GetComponentLogger(ComponentAcquisition).Info("hello", "count", 3)
	lm.GetLogger().Debug("filtered out")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "acquisition", lines[0]["component"])
	assert.Equal(t, "ohlcv-ingest", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["count"])
}

func TestLoggerManager_ComponentCache(t *testing.T) {
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info"}, &bytes.Buffer{})
	assert.Same(t, lm.GetComponentLogger("storage"), lm.GetComponentLogger("storage"))
}

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithSymbol(ctx, "SPY")
	ctx = WithTimeframe(ctx, "1d")
	ctx = WithGapID(ctx, "gap-9")

	With(ctx, lm.GetLogger()).Info("resolving")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace-1", lines[0]["trace_id"])
	assert.Equal(t, "SPY", lines[0]["symbol"])
	assert.Equal(t, "1d", lines[0]["timeframe"])
	assert.Equal(t, "gap-9", lines[0]["gap_id"])
	assert.Equal(t, "trace-1", GetTraceID(ctx))
}

func TestWith_NoAttributesReturnsSameLogger(t *testing.T) {
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{}, &bytes.Buffer{})
	assert.Same(t, lm.GetLogger(), With(context.Background(), lm.GetLogger()))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	require.NoError(t, TimedOperation(context.Background(), lm.GetLogger(), "ok", func() error { return nil }))
	boom := errors.New("boom")
	assert.ErrorIs(t, TimedOperation(context.Background(), lm.GetLogger(), "fail", func() error { return boom }), boom)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "operation completed", lines[0]["msg"])
	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "fail", lines[1]["operation"])
}

func TestNewLoggerManager_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ohlcv.log")
	lm, err := NewLoggerManager(config.LoggingConfig{Level: "info", Format: "text", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	lm.GetLogger().Info("to file")
	require.NoError(t, lm.Close())
	assert.FileExists(t, path)

	_, err = NewLoggerManager(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "ERROR", parseLogLevel("ERROR").String())
	assert.Equal(t, "INFO", parseLogLevel("nonsense").String())
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
