package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNew_Writer(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Config{Level: "warn", Writer: &buf})
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	log.Info().Msg("hidden")
	log.Warn().Msgf("session swept: id=%s", "web-7-5")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "session swept: id=web-7-5")
	assert.Contains(t, out, "WRN")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	log, closer, err := New(Config{Output: path, File: path, Level: "info"})
	require.NoError(t, err)

	log.Info().Str("client_id", "abc").Msg("websocket client connected")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "websocket client connected", entry["message"])
	assert.Equal(t, "abc", entry["client_id"])
	assert.Contains(t, entry, "time")
	assert.NotContains(t, entry, "caller")
}

func TestNew_DebugAddsCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	log, closer, err := New(Config{Output: path, File: path, Level: "debug"})
	require.NoError(t, err)
	log.Debug().Msg("trace")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Contains(t, entry["caller"], "logger/logger_test.go:")
}
