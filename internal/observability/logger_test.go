package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tphakala/go-chronicle/internal/config"
)

func TestInitialize(t *testing.T) {
	t.Run("json to writer", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "chronicle"}, zapcore.AddSync(&buf))
		GetLogger().Debug("polling", zap.Int("attempt", 2))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "DEBUG", entry["level"])
		assert.Equal(t, "chronicle", entry["logger"])
		assert.Equal(t, "polling", entry["msg"])
		assert.Equal(t, float64(2), entry["attempt"])
	})

	t.Run("level filters", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "warn", Format: "console"}, zapcore.AddSync(&buf))
		GetLogger().Info("hidden")
		GetLogger().Warn("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "loud", Format: "json"}, zapcore.AddSync(&buf))
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()

		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	})

	t.Run("second call is ignored", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var first, second bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))
		GetLogger().Info("once")
		Sync()

		assert.NotEmpty(t, first.String())
		assert.Empty(t, second.String())
	})

	t.Run("rotated file", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		path := filepath.Join(t.TempDir(), "chronicle.log")
		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&buf))
		GetLogger().Info("to file")
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"to file"`)
	})
}

func TestGetLoggerBeforeInit(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}
