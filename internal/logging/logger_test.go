package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("", "")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLoggerRejectsBadSettings(t *testing.T) {
	_, err := NewLogger("loud", "json")
	require.ErrorContains(t, err, "invalid log level")

	_, err = NewLogger("info", "xml")
	require.ErrorContains(t, err, "invalid log format")
}
