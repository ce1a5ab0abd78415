package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Output: &buf})
	t.Cleanup(func() { Init(Config{}) })
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("disabled"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestInitLevelFilters(t *testing.T) {
	buf := captureLogs(t, "warn")

	Info().Msg("hidden")
	assert.Empty(t, buf.String())

	l := With("guard")
	l.Warn().Str("client", "1.2.3.4").Msg("blocked")
	m := lastLine(t, buf)
	assert.Equal(t, "blocked", m["message"])
	assert.Equal(t, "guard", m["component"])
	assert.Equal(t, "1.2.3.4", m["client"])
	assert.Equal(t, "warn", m["level"])
}

func TestRotatingFileOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "guard.log")
	var buf bytes.Buffer

	Init(Config{Output: &buf, File: RotationConfig{Enabled: true, Filename: file}})
	Info().Msg("to both")
	Init(Config{})

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestNewRotatingWriterDisabled(t *testing.T) {
	assert.Nil(t, NewRotatingWriter(RotationConfig{Filename: "x.log"}))
	assert.Nil(t, NewRotatingWriter(RotationConfig{Enabled: true}))

	lj := NewRotatingWriter(RotationConfig{Enabled: true, Filename: "x.log"})
	require.NotNil(t, lj)
	assert.Equal(t, 100, lj.MaxSize)
	assert.Equal(t, 3, lj.MaxBackups)
	assert.Equal(t, 28, lj.MaxAge)
}

func TestSlogHandler(t *testing.T) {
	buf := captureLogs(t, "debug")

	l := slog.New(NewSlogHandler(Logger())).With("service", "sweeper").WithGroup("event")
	l.Error("service failed", "restarts", 3, "err", errors.New("boom"))

	m := lastLine(t, buf)
	assert.Equal(t, "service failed", m["message"])
	assert.Equal(t, "error", m["level"])
	assert.Equal(t, "sweeper", m["service"])
	assert.EqualValues(t, 3, m["event.restarts"])
	assert.Equal(t, "boom", m["event.err"])
}

func TestSlogHandlerEnabled(t *testing.T) {
	captureLogs(t, "warn")

	h := NewSlogHandler(Logger())
	assert.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, h.Enabled(t.Context(), slog.LevelError))
}

func TestSetLevelReachesExistingLoggers(t *testing.T) {
	buf := captureLogs(t, "info")
	l := With("sweeper")

	l.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	l.Debug().Msg("shown")
	assert.Equal(t, "sweeper", lastLine(t, buf)["component"])
}
