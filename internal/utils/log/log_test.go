package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPackageLogger(t *testing.T) {
	prev := logger.Load()
	t.Cleanup(func() { SetLogger(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))

	Debug("dropped")
	Info("listening", zap.String("addr", "127.0.0.1:8081"))
	With(zap.String("role", "Responder")).Warn("handshake rejected")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "listening", entries[0].Message)
	assert.Equal(t, "127.0.0.1:8081", entries[0].ContextMap()["addr"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "Responder", entries[1].ContextMap()["role"])
}

func TestInitLevel(t *testing.T) {
	prev := logger.Load()
	t.Cleanup(func() { SetLogger(prev) })

	require.NoError(t, Init("debug"))
	assert.True(t, logger.Load().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init(""))
	assert.False(t, logger.Load().Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, Init("loud"))
}

func TestSetLoggerNil(t *testing.T) {
	prev := logger.Load()
	t.Cleanup(func() { SetLogger(prev) })

	SetLogger(nil)
	assert.NotPanics(t, func() { Info("nothing") })
}
