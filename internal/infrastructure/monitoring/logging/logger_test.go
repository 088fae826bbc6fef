package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func newObservedLogger() (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_JSONFormat(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelInfo, Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_ConsoleWithSampling(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelDebug, Format: "console", Sampling: true})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_EmptyOutputPathsRejected(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestNopLogger_AllMethodsNoOp(t *testing.T) {
	l := NewNopLogger()
	l.Debug("msg")
	l.Info("msg")
	l.Warn("msg")
	l.Error("msg")
	assert.Equal(t, l, l.With(String("k", "v")))
	assert.Equal(t, l, l.Named("x"))
	assert.Equal(t, l, l.WithContext(context.Background()))
	assert.Equal(t, l, l.WithError(errors.New("boom")))
	assert.NoError(t, l.Sync())
}

func TestZapLogger_WritesTypedFields(t *testing.T) {
	l, logs := newObservedLogger()

	l.Info("grid evaluated", Int("points", 2601), Float64("max", 1.5), ModelKind("heatmap"), Any("errors", []string{"a", "b"}))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "grid evaluated", entry.Message)
	ctx := entry.ContextMap()
	assert.EqualValues(t, 2601, ctx["points"])
	assert.Equal(t, "heatmap", ctx[FieldModelKind])
	assert.Equal(t, []interface{}{"a", "b"}, ctx["errors"])
}

func TestZapLogger_WithContext_ExtractsRequestID(t *testing.T) {
	l, logs := newObservedLogger()
	ctx := ContextWithRequestID(context.Background(), "req-42")

	l.WithContext(ctx).Info("handled")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-42", logs.All()[0].ContextMap()[FieldRequestID])
}

func TestZapLogger_WithError_AppErrorAddsCode(t *testing.T) {
	l, logs := newObservedLogger()

	l.WithError(apperrors.ShapeMismatch("width 3")).Error("fine-tune rejected")

	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "ENG_002", ctx[FieldErrorCode])
	assert.Contains(t, ctx["error"], "width 3")
}

func TestZapLogger_WithError_Nil(t *testing.T) {
	l, _ := newObservedLogger()
	assert.Equal(t, l, l.WithError(nil))
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	l, _ := newObservedLogger()
	SetDefault(l)
	SetDefault(nil)
	assert.Equal(t, l, Default())
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestLogOperationDuration_SlowWarns(t *testing.T) {
	l, logs := newObservedLogger()

	LogOperationDuration(l, "analyze", time.Now().Add(-time.Second), time.Millisecond)
	LogOperationDuration(l, "analyze", time.Now(), 0)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
	assert.Equal(t, "analyze", logs.All()[0].ContextMap()[FieldOperation])
}

func TestErr_NilError(t *testing.T) {
	assert.Equal(t, "<nil>", Err(nil).Value)
}
