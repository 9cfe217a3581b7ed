package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Run("valid verbosity level", func(t *testing.T) {
		logger, err := New("info", EncodingJSON)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("another valid verbosity level", func(t *testing.T) {
		logger, err := New("debug", "")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid verbosity level", func(t *testing.T) {
		logger, err := New("invalid", "")
		require.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("empty verbosity level", func(t *testing.T) {
		// zap defaults to info level on empty string
		logger, err := New("", EncodingConsole)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("unknown encoding", func(t *testing.T) {
		logger, err := New("info", "logfmt")
		assert.ErrorContains(t, err, `unknown log encoding "logfmt"`)
		assert.Nil(t, logger)
	})

	t.Run("options are applied", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		logger, err := New("debug", EncodingJSON, zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
		require.NoError(t, err)
		for i := 0; i < 200; i++ {
			logger.Debug("custom call", zap.Int("i", i))
		}
		assert.Equal(t, 200, logs.FilterMessage("custom call").Len())
	})
}
