package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerUnsupported(t *testing.T) {
	_, err := NewLogger(&LoggerConfig{Logger: "logrus"})
	assert.Error(t, err)
}

func TestBackendsWriteRotatingFile(t *testing.T) {
	for _, backend := range []string{"zap", "zerolog"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			logger, err := NewLogger(&LoggerConfig{
				FilePath: dir,
				Encoding: "json",
				Level:    "info",
				Logger:   backend,
			})
			require.NoError(t, err)

			logger.Info(Relay, Join, "member joined", map[ExtraKey]any{RoomID: "lobby"})
			logger.Debug(Relay, Join, "filtered out", nil)
			_ = logger.Sync()

			data, err := os.ReadFile(filepath.Join(dir, logFileName))
			require.NoError(t, err)
			assert.Contains(t, string(data), "member joined")
			assert.Contains(t, string(data), `"RoomID":"lobby"`)
			assert.Contains(t, string(data), `"SubCategory":"Join"`)
			assert.NotContains(t, string(data), "filtered out")
		})
	}
}

func TestWithCategoryDoesNotMutateCaller(t *testing.T) {
	extra := map[ExtraKey]any{ConnID: "c1"}
	params := withCategory(Relay, Chat, extra)

	assert.Len(t, extra, 1)
	assert.Equal(t, Relay, params["Category"])
	assert.Equal(t, Chat, params["SubCategory"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Error(General, Startup, "ignored", nil)
	assert.NoError(t, logger.Sync())
}
