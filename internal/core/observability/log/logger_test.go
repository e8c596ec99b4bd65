package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewFromZap(zap.New(core), level), logs
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, logs := newObserved(LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "warn", logs.All()[0].Message)
	assert.Equal(t, "error", logs.All()[1].Message)
}

func TestLogger_SetLevelPropagatesToChildren(t *testing.T) {
	logger, logs := newObserved(LevelError)
	child := logger.With(String("component", "test"))

	child.Info("dropped")
	logger.SetLevel(LevelDebug)
	child.Info("kept")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "test", entry.ContextMap()["component"])
	assert.Equal(t, LevelDebug, child.GetLevel())
}

func TestLogger_FieldConversion(t *testing.T) {
	logger, logs := newObserved(LevelDebug)

	logger.Info("fields",
		Uint16("static_id", 7),
		Uint64("peer_id", 42),
		Bool("reliable", true),
		Error(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.EqualValues(t, 7, ctx["static_id"])
	assert.EqualValues(t, 42, ctx["peer_id"])
	assert.Equal(t, true, ctx["reliable"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":      LevelInfo,
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"error": LevelError,
		"off":   LevelNone,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing happens")
	assert.Equal(t, LevelNone, logger.GetLevel())
}
