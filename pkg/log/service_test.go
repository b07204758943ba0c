package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileLogger(t *testing.T, level string, jsonFormat bool) (LoggerService, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "goattach.log")
	return NewLoggerService("goattach", config.LogServerConfig{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
		File:       path,
		NoTerminal: true,
		JSON:       jsonFormat,
	}), path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestLevelFiltering(t *testing.T) {
	logger, path := fileLogger(t, "warn", false)

	logger.Debug("hidden")
	logger.Info("hidden %d", 1)
	logger.Warn("shown %s", "warning")
	logger.Error("shown error")

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "WARN")
	assert.Contains(t, lines[0], "[goattach] shown warning")
	assert.Contains(t, lines[1], "ERROR")
}

func TestNamedLoggers(t *testing.T) {
	logger, path := fileLogger(t, "debug", true)

	logger.Named("storage").Named("s3").Info("uploaded %s", "a1")

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "goattach/storage/s3", entry.Service)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "uploaded a1", entry.Message)
}

func TestParse(t *testing.T) {
	for input, expected := range map[string]LogLevel{
		"debug":   Debug,
		"TRACE":   Debug,
		"":        Info,
		"warning": Warn,
		" error ": Error,
		"fatal":   Fatal,
		"verbose": Info,
	} {
		assert.Equal(t, expected, Parse(input), input)
	}
}

func TestOrDiscard(t *testing.T) {
	logger := OrDiscard(nil)
	require.NotNil(t, logger)
	logger.Error("dropped")

	named := logger.Named("child")
	assert.NotNil(t, named)

	existing, _ := fileLogger(t, "info", false)
	assert.Same(t, existing, OrDiscard(existing))
}

func TestComponentLevelOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goattach.log")
	logger := NewLoggerService("goattach", config.LogServerConfig{
		Level:      "error",
		File:       path,
		NoTerminal: true,
		Components: map[string]string{"storage/s3": "debug"},
	})

	logger.Named("storage").Debug("hidden")
	logger.Named("storage").Named("s3").Debug("shown")

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[goattach/storage/s3] shown")
}
