// Package registry owns the lifecycle of the engine's models: creation with
// the documented architectures, initial training on bootstrap data,
// persistence, copy-on-write fine-tuning and synchronous disposal.
package registry

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// TrainingData supplies bootstrap datasets. n <= 0 selects the default size.
type TrainingData interface {
	Generate(kind common.ModelKind, n int) (x, y *nn.Matrix, err error)
}

// ExternalLoader serves kinds from an alternative backend. It returns an
// error satisfying errors.IsNotFound when it has no model for the kind.
type ExternalLoader interface {
	Backend() common.BackendType
	LoadModel(ctx context.Context, desc common.ModelDescriptor) (Model, string, error)
}

// Options holds training parameters.
type Options struct {
	Seed int64
	// Samples overrides bootstrap sizes per kind.
	Samples         map[common.ModelKind]int
	ValidationSplit float64
	// EpochOverride replaces every kind's epoch count when > 0.
	EpochOverride int

	FineTuneEpochs          int
	FineTuneBatchSize       int
	FineTuneValidationSplit float64
}

// DefaultOptions returns the standard schedule.
func DefaultOptions() Options {
	return Options{
		Seed:                    42,
		ValidationSplit:         0.2,
		FineTuneEpochs:          10,
		FineTuneBatchSize:       16,
		FineTuneValidationSplit: 0.1,
	}
}

// FineTuneResult describes a completed fine-tune.
type FineTuneResult struct {
	Kind      common.ModelKind `json:"kind"`
	Version   string           `json:"version"`
	Revision  int              `json:"revision"`
	Samples   int              `json:"samples"`
	FinalLoss float64          `json:"final_loss"`
}

// ModelInfo summarizes a registered handle.
type ModelInfo struct {
	Kind     common.ModelKind   `json:"kind"`
	Version  string             `json:"version"`
	Revision int                `json:"revision"`
	Backend  common.BackendType `json:"backend"`
}

// artifact is the persisted form of a native model.
type artifact struct {
	Kind     common.ModelKind `json:"kind"`
	Version  string           `json:"version"`
	Revision int              `json:"revision"`
	SavedAt  time.Time        `json:"saved_at"`
	Network  *nn.Snapshot     `json:"network"`
}

// ArtifactKey is the store key of kind's weights.
func ArtifactKey(kind common.ModelKind) string {
	return fmt.Sprintf("%s/model.json", kind)
}

// Registry maps model kinds to handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[common.ModelKind]*Handle
	loads   singleflight.Group

	store     ArtifactStore
	data      TrainingData
	external  ExternalLoader
	publisher events.Publisher
	metrics   common.IntelligenceMetrics
	logger    logging.Logger
	opts      Options
}

// Option configures a Registry.
type Option func(*Registry)

func WithTrainingData(d TrainingData) Option { return func(r *Registry) { r.data = d } }

func WithExternalLoader(l ExternalLoader) Option { return func(r *Registry) { r.external = l } }

func WithPublisher(p events.Publisher) Option { return func(r *Registry) { r.publisher = p } }

func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithOptions(o Options) Option { return func(r *Registry) { r.opts = o } }

type nopPublisher struct{}

func (nopPublisher) Publish(name events.Name, payload any) events.Event {
	return events.Event{Name: name, Payload: payload}
}

// New creates a registry persisting to store.
func New(store ArtifactStore, opts ...Option) *Registry {
	r := &Registry{
		handles:   map[common.ModelKind]*Handle{},
		store:     store,
		publisher: nopPublisher{},
		metrics:   common.NewNoopIntelligenceMetrics(),
		logger:    logging.NewNopLogger(),
		opts:      DefaultOptions(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

func (r *Registry) register(h *Handle) {
	r.mu.Lock()
	old := r.handles[h.Kind()]
	r.handles[h.Kind()] = h
	r.mu.Unlock()
	if old != nil && old != h {
		old.release()
	}
}

// Get returns the registered handle for kind.
func (r *Registry) Get(kind common.ModelKind) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[kind]
	r.mu.RUnlock()
	if !ok || h.Disposed() {
		return nil, errors.NotInitialized(fmt.Sprintf("model %s is not loaded", kind))
	}
	return h, nil
}

// Create builds an untrained model with the documented architecture and
// registers it, replacing any previous handle of the same kind.
func (r *Registry) Create(kind common.ModelKind) (*Handle, error) {
	desc, err := common.Describe(kind)
	if err != nil {
		return nil, errors.InvalidParam(err.Error())
	}
	net, err := buildNetwork(desc, r.opts.Seed)
	if err != nil {
		return nil, errors.TrainingFailure(err, "build network")
	}
	h := newHandle(desc, common.BackendNative, net, desc.Version, 0)
	r.register(h)
	r.logger.Debug("model created", logging.ModelKind(string(kind)), logging.Int("params", net.ParamCount()))
	return h, nil
}

func checkShape(desc common.ModelDescriptor, x, y *nn.Matrix) error {
	if x == nil || y == nil {
		return errors.ShapeMismatch("features and labels are required")
	}
	if x.Cols != desc.InputWidth {
		return errors.ShapeMismatch(fmt.Sprintf("%s expects %d features, got %d", desc.Kind, desc.InputWidth, x.Cols))
	}
	if y.Cols != desc.OutputWidth() {
		return errors.ShapeMismatch(fmt.Sprintf("%s expects %d labels, got %d", desc.Kind, desc.OutputWidth(), y.Cols))
	}
	if x.Rows != y.Rows {
		return errors.ShapeMismatch(fmt.Sprintf("%d feature rows but %d label rows", x.Rows, y.Rows))
	}
	if x.Rows == 0 {
		return errors.ShapeMismatch("no samples")
	}
	return nil
}

// TrainInitial fits h on a bootstrap dataset with the kind's schedule and
// installs the trained weights. Standardization statistics are fitted on x
// (and on y for regression kinds) and travel with the weights.
func (r *Registry) TrainInitial(ctx context.Context, h *Handle, x, y *nn.Matrix) error {
	desc := h.Descriptor()
	if err := checkShape(desc, x, y); err != nil {
		return err
	}
	h.tuneMu.Lock()
	defer h.tuneMu.Unlock()

	net, err := h.network()
	if err != nil {
		return errors.TrainingFailure(err, "prepare network")
	}
	var outScaler *nn.Standardizer
	if desc.ScaleOutputs {
		outScaler = nn.FitStandardizer(y)
	}
	net.SetScalers(nn.FitStandardizer(x), outScaler)

	epochs := desc.Epochs
	if r.opts.EpochOverride > 0 {
		epochs = r.opts.EpochOverride
	}
	hist, err := r.fit(ctx, desc, net, x, y, nn.FitOptions{
		Epochs:          epochs,
		BatchSize:       desc.BatchSize,
		ValidationSplit: r.opts.ValidationSplit,
		Shuffle:         true,
		Seed:            r.opts.Seed,
	}, false)
	if err != nil {
		return err
	}
	if err := h.swap(net, desc.Version, 0); err != nil {
		return errors.Disposed("model was disposed during training")
	}
	r.logger.Info("model trained",
		logging.ModelKind(string(desc.Kind)),
		logging.Int("epochs", epochs),
		logging.Float64("loss", hist.FinalLoss()))
	return nil
}

// fit runs a training schedule and reports it through events and metrics.
func (r *Registry) fit(ctx context.Context, desc common.ModelDescriptor, net *nn.Network, x, y *nn.Matrix, fo nn.FitOptions, fineTune bool) (nn.History, error) {
	model := string(desc.Kind)
	every := desc.ProgressEvery
	if every < 1 {
		every = 1
	}
	if !fineTune {
		r.publisher.Publish(events.TrainingStarted, events.TrainingPayload{Model: model, Epochs: fo.Epochs, Samples: x.Rows})
		fo.OnEpochEnd = func(s nn.EpochStats) {
			if s.Epoch%every == 0 {
				r.publisher.Publish(events.TrainingProgress, events.TrainingPayload{
					Model: model, Epoch: s.Epoch, Epochs: s.Epochs, Loss: s.Loss, ValLoss: s.ValLoss,
				})
			}
		}
	}

	start := time.Now()
	hist, err := net.Fit(ctx, x, y, fo)
	r.metrics.RecordTraining(ctx, &common.TrainingMetricParams{
		Kind:       model,
		FineTune:   fineTune,
		Samples:    x.Rows,
		Epochs:     len(hist.Loss),
		FinalLoss:  hist.FinalLoss(),
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Success:    err == nil,
	})
	if err != nil {
		return hist, errors.TrainingFailure(err, fmt.Sprintf("train %s", model))
	}
	if !fineTune {
		payload := events.TrainingPayload{Model: model, Epochs: fo.Epochs, Loss: hist.FinalLoss(), Samples: x.Rows}
		if n := len(hist.ValLoss); n > 0 {
			payload.ValLoss = hist.ValLoss[n-1]
		}
		r.publisher.Publish(events.TrainingCompleted, payload)
	}
	return hist, nil
}

// Load reads kind's artifact from the store and registers it.
func (r *Registry) Load(ctx context.Context, kind common.ModelKind) (*Handle, error) {
	desc, err := common.Describe(kind)
	if err != nil {
		return nil, errors.InvalidParam(err.Error())
	}
	start := time.Now()
	h, err := r.load(ctx, desc)
	r.metrics.RecordModelLoad(ctx, string(kind), desc.Version, float64(time.Since(start).Microseconds())/1000, err == nil)
	if err != nil {
		return nil, err
	}
	r.register(h)
	r.logger.Info("model loaded", logging.ModelKind(string(kind)), logging.String("version", h.Version()))
	return h, nil
}

func (r *Registry) load(ctx context.Context, desc common.ModelDescriptor) (*Handle, error) {
	data, err := r.store.Load(ctx, ArtifactKey(desc.Kind))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Wrap(err, errors.CodeModelArtifactNotFound, fmt.Sprintf("no artifact for %s", desc.Kind))
		}
		return nil, err
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode artifact")
	}
	if a.Kind != desc.Kind || a.Network == nil {
		return nil, errors.ShapeMismatch(fmt.Sprintf("artifact for %s holds %q", desc.Kind, a.Kind))
	}
	net, err := nn.FromSnapshot(a.Network)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "restore network")
	}
	if net.InputWidth() != desc.InputWidth || net.OutputWidth() != desc.OutputWidth() {
		return nil, errors.ShapeMismatch(fmt.Sprintf("artifact for %s has shape %dx%d", desc.Kind, net.InputWidth(), net.OutputWidth()))
	}
	return newHandle(desc, common.BackendNative, net, a.Version, a.Revision), nil
}

// LoadOrCreate returns the registered handle for kind, loading it from the
// external backend or the store, and otherwise creating, training and saving
// a fresh model. Concurrent calls for one kind share a single attempt.
func (r *Registry) LoadOrCreate(ctx context.Context, kind common.ModelKind) (*Handle, error) {
	if h, err := r.Get(kind); err == nil {
		return h, nil
	}
	v, err, _ := r.loads.Do(string(kind), func() (any, error) {
		if h, err := r.Get(kind); err == nil {
			return h, nil
		}
		return r.loadOrCreate(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Registry) loadOrCreate(ctx context.Context, kind common.ModelKind) (*Handle, error) {
	desc, err := common.Describe(kind)
	if err != nil {
		return nil, errors.InvalidParam(err.Error())
	}

	if r.external != nil {
		model, version, err := r.external.LoadModel(ctx, desc)
		switch {
		case err == nil:
			h := newHandle(desc, r.external.Backend(), model, version, 0)
			r.register(h)
			r.logger.Info("model served by external backend",
				logging.ModelKind(string(kind)), logging.String("backend", string(r.external.Backend())))
			return h, nil
		case !errors.IsNotFound(err):
			r.logger.Warn("external backend failed, using native model", logging.ModelKind(string(kind)), logging.Err(err))
		}
	}

	h, err := r.Load(ctx, kind)
	if err == nil {
		return h, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !errors.IsNotFound(err) {
		r.logger.Warn("stored model unusable, retraining", logging.ModelKind(string(kind)), logging.Err(err))
	}
	if r.data == nil {
		return nil, errors.NotInitialized(fmt.Sprintf("model %s has no artifact and no training data source", kind))
	}

	x, y, err := r.data.Generate(kind, r.opts.Samples[kind])
	if err != nil {
		return nil, errors.TrainingFailure(err, "generate bootstrap data")
	}
	h, err = r.Create(kind)
	if err != nil {
		return nil, err
	}
	if err := r.TrainInitial(ctx, h, x, y); err != nil {
		r.Dispose(kind)
		return nil, err
	}
	if err := r.Save(ctx, h); err != nil {
		r.logger.Error("save trained model failed", logging.ModelKind(string(kind)), logging.Err(err))
	}
	return h, nil
}

// Save persists h's architecture, weights and normalizers. It overwrites.
func (r *Registry) Save(ctx context.Context, h *Handle) error {
	snap, version, revision, err := h.snapshot()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "snapshot model")
	}
	data, err := json.Marshal(artifact{
		Kind:     h.Kind(),
		Version:  version,
		Revision: revision,
		SavedAt:  time.Now().UTC(),
		Network:  snap,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode artifact")
	}
	if err := r.store.Save(ctx, ArtifactKey(h.Kind()), data); err != nil {
		return errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("save %s", h.Kind()))
	}
	return nil
}

// FineTune continues training kind on observed samples. Fine-tunes of one
// kind are serialized; inference keeps using the previous weights until the
// new ones are swapped in. The result is persisted.
func (r *Registry) FineTune(ctx context.Context, kind common.ModelKind, x, y *nn.Matrix) (*FineTuneResult, error) {
	h, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	desc := h.Descriptor()
	if err := checkShape(desc, x, y); err != nil {
		return nil, err
	}

	h.tuneMu.Lock()
	defer h.tuneMu.Unlock()

	net, err := h.network()
	if err != nil {
		return nil, errors.TrainingFailure(err, fmt.Sprintf("fine-tune %s", kind))
	}
	revision := h.Revision() + 1
	hist, err := r.fit(ctx, desc, net, x, y, nn.FitOptions{
		Epochs:          r.opts.FineTuneEpochs,
		BatchSize:       r.opts.FineTuneBatchSize,
		ValidationSplit: r.opts.FineTuneValidationSplit,
		Shuffle:         true,
		Seed:            r.opts.Seed + int64(revision),
	}, true)
	if err != nil {
		return nil, err
	}
	version := fineTunedVersion(desc.Version, revision)
	if err := h.swap(net, version, revision); err != nil {
		return nil, errors.Disposed("model was disposed during fine-tune")
	}
	if err := r.Save(ctx, h); err != nil {
		r.logger.Error("save fine-tuned model failed", logging.ModelKind(string(kind)), logging.Err(err))
	}
	r.logger.Info("model fine-tuned",
		logging.ModelKind(string(kind)),
		logging.String("version", version),
		logging.Int("samples", x.Rows))
	return &FineTuneResult{Kind: kind, Version: version, Revision: revision, Samples: x.Rows, FinalLoss: hist.FinalLoss()}, nil
}

// Predict runs kind's model on x.
func (r *Registry) Predict(ctx context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	desc := h.Descriptor()
	if x == nil || x.Cols != desc.InputWidth {
		got := 0
		if x != nil {
			got = x.Cols
		}
		return nil, errors.ShapeMismatch(fmt.Sprintf("%s expects %d features, got %d", kind, desc.InputWidth, got))
	}

	start := time.Now()
	out, err := h.Predict(x)
	params := &common.InferenceMetricParams{
		Kind:       string(kind),
		Version:    h.Version(),
		Operation:  "predict",
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Success:    err == nil,
		BatchSize:  x.Rows,
	}
	r.metrics.RecordInference(ctx, params)

	switch {
	case err == nil:
	case stdliberrors.Is(err, nn.ErrReleased):
		return nil, errors.Disposed(fmt.Sprintf("model %s was disposed", kind))
	default:
		return nil, errors.PredictionFailure(err, fmt.Sprintf("predict %s", kind))
	}
	if out.Rows != x.Rows || out.Cols != desc.OutputWidth() {
		return nil, errors.ShapeMismatch(fmt.Sprintf("%s produced %dx%d, want %dx%d", kind, out.Rows, out.Cols, x.Rows, desc.OutputWidth()))
	}
	return out, nil
}

// Dispose releases kind's weights. It reports whether a live handle was
// released.
func (r *Registry) Dispose(kind common.ModelKind) bool {
	r.mu.Lock()
	h, ok := r.handles[kind]
	delete(r.handles, kind)
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.release()
}

// DisposeAll releases every handle and returns how many were live.
func (r *Registry) DisposeAll() int {
	r.mu.Lock()
	handles := r.handles
	r.handles = map[common.ModelKind]*Handle{}
	r.mu.Unlock()

	released := 0
	for _, h := range handles {
		if h.release() {
			released++
		}
	}
	r.logger.Info("models disposed", logging.Int("count", released))
	return released
}

// Models lists the registered handles sorted by kind.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	out := make([]ModelInfo, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, ModelInfo{Kind: h.Kind(), Version: h.Version(), Revision: h.Revision(), Backend: h.Backend()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
