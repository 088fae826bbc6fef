package onnx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func TestModelPath(t *testing.T) {
	l := NewLoader(config.ONNXConfig{ModelDir: "/models"}, nil)
	assert.Equal(t, filepath.Join("/models", "risk.onnx"), l.ModelPath(common.KindRisk))
	assert.Equal(t, common.BackendONNX, l.Backend())
}

func TestLoadModel_MissingFileIsNotFound(t *testing.T) {
	l := NewLoader(config.ONNXConfig{Enabled: true, ModelDir: t.TempDir()}, nil)
	_, _, err := l.LoadModel(context.Background(), common.MustDescribe(common.KindValuation))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestLoadModel_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(config.ONNXConfig{ModelDir: t.TempDir()}, nil)
	_, _, err := l.LoadModel(ctx, common.MustDescribe(common.KindRisk))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModel_ShapeAndRelease(t *testing.T) {
	m := &Model{inputs: 6, outputs: 5}
	_, err := m.Predict(nn.NewMatrix(1, 4))
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))

	m.Release()
	m.Release()
}
