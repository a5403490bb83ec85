package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
	"github.com/johnayoung/go-ohlcv-ingest/internal/storage"
)

const testConfig = `
[storage]
type = "memory"

[[providers]]
name = "yahoo"
enabled = true

[logging]
level = "error"
format = "json"
output = "stderr"
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIWithLogs(t, io.Discard, args...)
}

func runCLIWithLogs(t *testing.T, logs io.Writer, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ohlcv.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	cli := &CLI{logOutput: logs}
	defer cli.close()

	var out bytes.Buffer
	root := cli.rootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 4, 0, 0, time.UTC)

	start, end, err := parseRange("", "", 7, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), end)

	start, end, err = parseRange("2025-01-01", "2025-01-03", 0, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), end)

	_, _, err = parseRange("01/02/2025", "", 0, now)
	assert.ErrorContains(t, err, "invalid start date")

	_, _, err = parseRange("", "", 0, now)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"SPY", "QQQ"}, splitList(" SPY, ,QQQ,"))
	assert.Nil(t, splitList(""))
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitUsageError, exitCodeFor(&models.ValidationError{Field: "limit", Message: "bad"}))
	assert.Equal(t, ExitConnectionErr, exitCodeFor(fmt.Errorf("plan: %w", storage.NewQueryError("bars_1d", "", errors.New("closed")))))
	assert.Equal(t, ExitDataError, exitCodeFor(errors.New("other")))

	var ee *exitError
	require.ErrorAs(t, withExit(ExitConfigError, errors.New("x")), &ee)
	assert.Equal(t, ExitConfigError, ee.code)
	assert.NoError(t, withExit(ExitDataError, nil))
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ohlcv version "+Version)
}

func TestConfigShowRedacts(t *testing.T) {
	t.Setenv("OHLCV_TIINGO_API_KEY", "super-secret")
	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "memory"`)
	assert.NotContains(t, out, "super-secret")
}

func TestQueryEmptyStore(t *testing.T) {
	out, err := runCLI(t, "query", "SPY", "--ensure=false", "--start", "2025-01-01", "--end", "2025-01-03")
	require.NoError(t, err)
	assert.Contains(t, out, "0 bars")
}

func TestQueryRejectsBadTimeframe(t *testing.T) {
	_, err := runCLI(t, "query", "SPY", "--ensure=false", "--timeframe", "2h")
	require.Error(t, err)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitUsageError, ee.code)
}

func TestCalendarCommand(t *testing.T) {
	out, err := runCLI(t, "calendar", "--exchange", "XNYS", "--start", "2024-12-23", "--end", "2024-12-27")
	require.NoError(t, err)
	assert.Contains(t, out, "4 sessions")
	assert.Contains(t, out, "early close")
	assert.NotContains(t, out, "2024-12-25")
}

func TestInstrumentSetExchange(t *testing.T) {
	out, err := runCLI(t, "instrument", "set-exchange", "vod", "lse")
	require.NoError(t, err)
	assert.Contains(t, out, "VOD -> LSE")
}

func TestQualityEmptyStore(t *testing.T) {
	out, err := runCLI(t, "quality", "SPY", "--start", "2025-01-01", "--end", "2025-01-31")
	require.NoError(t, err)
	assert.Contains(t, out, "SPY 1d: 0 bars, 0 flagged")
	assert.Contains(t, out, "no anomalies")
}

func TestVerboseLogsToWriter(t *testing.T) {
	var logs bytes.Buffer
	_, err := runCLIWithLogs(t, &logs, "--verbose", "calendar", "--start", "2025-01-02", "--end", "2025-01-03")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"msg":"cli initialized"`)
	assert.Contains(t, logs.String(), `"component":"cli"`)
}

func TestWatchRequiresSymbols(t *testing.T) {
	_, err := runCLI(t, "watch")
	require.Error(t, err)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitUsageError, ee.code)
}
