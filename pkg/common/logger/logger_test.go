package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "test-service", nil)

	log.Info(context.Background(), "scan started", "scope", "PROJECT")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "scan started", record["msg"])
	assert.Equal(t, "test-service", record["service"])
	assert.Equal(t, "PROJECT", record["scope"])
}

func TestLoggerFiltersBelowMinLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "test-service", nil)

	log.Info(context.Background(), "too quiet")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "loud enough")
	assert.NotZero(t, buf.Len())
}

func TestNewStdLoggerRoutesThroughStructuredLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "test-service", nil)

	std := NewStdLogger(log, LevelError)
	std.Print("listener closed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "listener closed", record["msg"])
	assert.Equal(t, "ERROR", record["level"])
}
