// Package onnx serves externally trained models through ONNX Runtime. Each
// kind is read from <model_dir>/<kind>.onnx with a single float32 input
// named "input" and a single output named "output".
package onnx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

const (
	inputName  = "input"
	outputName = "output"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes the process-wide runtime once.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Loader implements registry.ExternalLoader.
type Loader struct {
	cfg    config.ONNXConfig
	logger logging.Logger
}

// NewLoader returns a loader for cfg.ModelDir.
func NewLoader(cfg config.ONNXConfig, log logging.Logger) *Loader {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Loader{cfg: cfg, logger: log.Named("onnx")}
}

// ModelPath is the file consulted for kind.
func (l *Loader) ModelPath(kind common.ModelKind) string {
	return filepath.Join(l.cfg.ModelDir, string(kind)+".onnx")
}

func (l *Loader) Backend() common.BackendType { return common.BackendONNX }

// LoadModel opens a session for desc. A missing file reports
// ModelArtifactNotFound so the registry falls back to the native network.
func (l *Loader) LoadModel(ctx context.Context, desc common.ModelDescriptor) (registry.Model, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path := l.ModelPath(desc.Kind)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", errors.New(errors.CodeModelArtifactNotFound, "onnx model not found").WithDetail(path)
		}
		return nil, "", errors.Wrap(err, errors.ErrCodeStorageError, "stat onnx model")
	}
	if err := initEnvironment(l.cfg.LibraryPath); err != nil {
		return nil, "", errors.Wrap(err, errors.CodeNotInitialized, "initialize onnx runtime")
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CodeNotInitialized, "create onnx session options")
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CodeNotInitialized, "load onnx model").WithDetail(path)
	}
	version := fmt.Sprintf("%s+onnx.%d", desc.Version, info.ModTime().Unix())
	l.logger.Info("onnx model loaded",
		logging.ModelKind(string(desc.Kind)),
		logging.String("path", path),
		logging.String("version", version))
	return &Model{session: session, inputs: desc.InputWidth, outputs: desc.OutputWidth()}, version, nil
}

// Model runs one ONNX session.
type Model struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  int
	outputs int
}

// Predict converts x to float32, runs the session and converts back.
func (m *Model) Predict(x *nn.Matrix) (*nn.Matrix, error) {
	if x.Cols != m.inputs {
		return nil, errors.ShapeMismatch(fmt.Sprintf("onnx model expects %d features, got %d", m.inputs, x.Cols))
	}
	in := make([]float32, len(x.Data))
	for i, v := range x.Data {
		in[i] = float32(v)
	}
	inT, err := ort.NewTensor(ort.NewShape(int64(x.Rows), int64(x.Cols)), in)
	if err != nil {
		return nil, errors.PredictionFailure(err, "create onnx input tensor")
	}
	defer inT.Destroy()
	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(x.Rows), int64(m.outputs)))
	if err != nil {
		return nil, errors.PredictionFailure(err, "create onnx output tensor")
	}
	defer outT.Destroy()

	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, errors.Disposed("onnx session released")
	}
	err = m.session.Run([]ort.Value{inT}, []ort.Value{outT})
	m.mu.Unlock()
	if err != nil {
		return nil, errors.PredictionFailure(err, "onnx inference failed")
	}

	out := nn.NewMatrix(x.Rows, m.outputs)
	for i, v := range outT.GetData() {
		out.Data[i] = float64(v)
	}
	return out, nil
}

// Release destroys the session. It is safe to call more than once.
func (m *Model) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
}

var _ registry.ExternalLoader = (*Loader)(nil)
