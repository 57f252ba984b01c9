package ecubridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerToFile(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "ecubridge.log")

	var logger, closer, err = NewLogger(LogConfig{Level: "warn", File: path}, false)
	require.NoError(t, err)
	require.NotNil(t, closer)

	assert.Equal(t, log.WarnLevel, logger.GetLevel())

	logger.Info("not this")
	logger.Warn("but this", "port", 5999)
	require.NoError(t, closer.Close())

	var data, readErr = os.ReadFile(path)
	require.NoError(t, readErr)

	assert.NotContains(t, string(data), "not this")
	assert.Contains(t, string(data), "but this")
	assert.Contains(t, string(data), "port=5999")
}

func TestNewLoggerDebugFlag(t *testing.T) {
	var logger, closer, err = NewLogger(LogConfig{Level: "error", File: ""}, true)
	require.NoError(t, err)

	assert.Nil(t, closer)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
}

func TestNewLoggerBadLevel(t *testing.T) {
	var _, _, err = NewLogger(LogConfig{Level: "loud", File: ""}, false)

	assert.ErrorIs(t, err, ErrConfig)
}
