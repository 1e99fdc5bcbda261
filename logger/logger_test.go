package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/fee-engine/logger"
)

func TestLogger_WithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	log.With("component", "batch").Info("batch done", "generated", 49, "errors", 1)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "batch done", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "batch", fields["component"])
	assert.EqualValues(t, 49, fields["generated"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logger.OrNop(nil))

	l := logger.Nop()
	assert.Same(t, l, logger.OrNop(l))
	l.Warn("discarded", "key", "value")
}

func TestNew(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "PRODUCTION"} {
		l, err := logger.New(mode)
		require.NoError(t, err, mode)
		assert.NotNil(t, l.SugaredLogger)
	}
}
