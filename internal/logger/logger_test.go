package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture swaps the global logger for one writing JSON into a buffer.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSetup(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	require.NoError(t, Setup(LogConfig{Level: "DEBUG", Format: "json", Output: "stdout"}))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.Error(t, Setup(LogConfig{Level: "loud"}))
}

func TestWithRun(t *testing.T) {
	buf := capture(t)

	l := WithRun("run-1", "2024-01")
	l.Info().Msg("hello")

	entry := decode(t, buf)
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "2024-01", entry["batch"])
	assert.Equal(t, "hello", entry["message"])
}

func TestWithComponentAndFields(t *testing.T) {
	buf := capture(t)

	l := WithComponent("validator")
	l.Info().Msg("checked")
	assert.Equal(t, "validator", decode(t, buf)["component"])

	buf.Reset()
	l = WithFields(map[string]interface{}{"rows": 3})
	l.Info().Msg("read")
	assert.Equal(t, float64(3), decode(t, buf)["rows"])
}

func TestContextRoundTrip(t *testing.T) {
	buf := capture(t)

	ctx := WithContext(context.Background(), WithRun("run-2", "b"))
	l := FromContext(ctx)
	l.Info().Msg("from ctx")
	assert.Equal(t, "run-2", decode(t, buf)["run_id"])

	buf.Reset()
	l = FromContext(context.Background())
	l.Info().Msg("global")
	_, tagged := decode(t, buf)["run_id"]
	assert.False(t, tagged)
}
