package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/bootstrap"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func fastOptions() Options {
	o := DefaultOptions()
	o.EpochOverride = 3
	o.Samples = map[common.ModelKind]int{}
	for _, k := range common.AllKinds() {
		o.Samples[k] = 64
	}
	return o
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) listen(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func newTestRegistry(t *testing.T, store ArtifactStore, opts ...Option) (*Registry, *recorder, *common.InMemoryIntelligenceMetrics) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.listen)
	m := common.NewInMemoryIntelligenceMetrics()
	base := []Option{
		WithTrainingData(bootstrap.NewGenerator(1)),
		WithPublisher(bus),
		WithMetrics(m),
		WithOptions(fastOptions()),
	}
	return New(store, append(base, opts...)...), rec, m
}

func features(t *testing.T, kind common.ModelKind, rows int) *nn.Matrix {
	t.Helper()
	x, _, err := bootstrap.NewGenerator(99).Generate(kind, rows)
	require.NoError(t, err)
	return x
}

func TestCreate_EveryKindPredictsDeclaredShape(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	for _, kind := range common.AllKinds() {
		_, err := r.Create(kind)
		require.NoError(t, err, kind)
		out, err := r.Predict(context.Background(), kind, features(t, kind, 3))
		require.NoError(t, err, kind)
		assert.Equal(t, 3, out.Rows, kind)
		assert.Equal(t, common.MustDescribe(kind).OutputWidth(), out.Cols, kind)
	}
}

func TestCreate_UnknownKind(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.Create("unknown")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestPredict_NotInitialized(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.Predict(context.Background(), common.KindRisk, nn.NewMatrix(1, 6))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotInitialized))
	assert.False(t, errors.IsCode(err, errors.CodeShapeMismatch))
}

func TestPredict_ShapeMismatch(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.Create(common.KindRisk)
	require.NoError(t, err)
	_, err = r.Predict(context.Background(), common.KindRisk, nn.NewMatrix(1, 5))
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
	_, err = r.Predict(context.Background(), common.KindRisk, nil)
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
}

func TestPredict_RecordsInferenceMetrics(t *testing.T) {
	r, _, m := newTestRegistry(t, NewMemoryStore())
	_, err := r.Create(common.KindHeatmap)
	require.NoError(t, err)
	_, err = r.Predict(context.Background(), common.KindHeatmap, features(t, common.KindHeatmap, 5))
	require.NoError(t, err)

	assert.Equal(t, 1, m.InferenceCount(common.KindHeatmap))
	assert.Equal(t, 5, m.Inferences()[0].BatchSize)
}

func TestLoad_MissingArtifact(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.Load(context.Background(), common.KindTrend)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsCode(err, errors.CodeModelArtifactNotFound))
}

func TestLoadOrCreate_TrainsSavesAndReportsProgress(t *testing.T) {
	store := NewMemoryStore()
	r, rec, m := newTestRegistry(t, store)

	h, err := r.LoadOrCreate(context.Background(), common.KindHeatmap)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", h.Version())
	assert.Equal(t, []string{"heatmap/model.json"}, store.Keys())

	assert.Equal(t, 1, rec.count(events.TrainingStarted))
	assert.Equal(t, 1, rec.count(events.TrainingProgress), "epoch 0 of 3 with a cadence of 10")
	assert.Equal(t, 1, rec.count(events.TrainingCompleted))
	require.Len(t, m.Trainings(), 1)
	assert.True(t, m.Trainings()[0].Success)

	again, err := r.LoadOrCreate(context.Background(), common.KindHeatmap)
	require.NoError(t, err)
	assert.Same(t, h, again)
	assert.Equal(t, 1, store.Saves())
}

func TestLoadOrCreate_ImageKindsReportEveryEpoch(t *testing.T) {
	r, rec, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.LoadOrCreate(context.Background(), common.KindImageCondition)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.count(events.TrainingProgress))
}

func TestLoadOrCreate_ReloadsPersistedWeights(t *testing.T) {
	store := NewMemoryStore()
	first, _, _ := newTestRegistry(t, store)
	_, err := first.LoadOrCreate(context.Background(), common.KindValuation)
	require.NoError(t, err)

	second, rec, m := newTestRegistry(t, store)
	_, err = second.LoadOrCreate(context.Background(), common.KindValuation)
	require.NoError(t, err)
	assert.Zero(t, rec.count(events.TrainingStarted))
	require.Len(t, m.ModelLoads(), 1)
	assert.True(t, m.ModelLoads()[0].Success)

	x := features(t, common.KindValuation, 4)
	a, err := first.Predict(context.Background(), common.KindValuation, x)
	require.NoError(t, err)
	b, err := second.Predict(context.Background(), common.KindValuation, x)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestLoadOrCreate_CorruptArtifactRetrains(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), ArtifactKey(common.KindRisk), []byte("{not json")))
	r, rec, _ := newTestRegistry(t, store)

	_, err := r.LoadOrCreate(context.Background(), common.KindRisk)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(events.TrainingCompleted))
}

func TestLoadOrCreate_ConcurrentCallsTrainOnce(t *testing.T) {
	r, rec, _ := newTestRegistry(t, NewMemoryStore())
	var wg sync.WaitGroup
	handles := make([]*Handle, 4)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.LoadOrCreate(context.Background(), common.KindInvestment)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, rec.count(events.TrainingStarted))
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestLoadOrCreate_CancelledContext(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.LoadOrCreate(ctx, common.KindRisk)
	require.Error(t, err)
	_, err = r.Get(common.KindRisk)
	assert.True(t, errors.IsCode(err, errors.CodeNotInitialized))
}

func TestTrainInitial_ShapeMismatch(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	h, err := r.Create(common.KindRisk)
	require.NoError(t, err)
	err = r.TrainInitial(context.Background(), h, nn.NewMatrix(4, 6), nn.NewMatrix(4, 4))
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
	err = r.TrainInitial(context.Background(), h, nn.NewMatrix(4, 6), nn.NewMatrix(3, 5))
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
}

func TestFineTune_BumpsVersionAndPersists(t *testing.T) {
	store := NewMemoryStore()
	r, _, m := newTestRegistry(t, store)
	_, err := r.LoadOrCreate(context.Background(), common.KindHeatmap)
	require.NoError(t, err)

	x, y, err := bootstrap.NewGenerator(5).Generate(common.KindHeatmap, 20)
	require.NoError(t, err)
	before, err := r.Predict(context.Background(), common.KindHeatmap, x)
	require.NoError(t, err)

	res, err := r.FineTune(context.Background(), common.KindHeatmap, x, y)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0+ft.1", res.Version)
	assert.Equal(t, 1, res.Revision)
	assert.Equal(t, 20, res.Samples)
	assert.Equal(t, 2, store.Saves())

	after, err := r.Predict(context.Background(), common.KindHeatmap, x)
	require.NoError(t, err)
	assert.NotEqual(t, before.Data, after.Data)

	trainings := m.Trainings()
	require.Len(t, trainings, 2)
	assert.True(t, trainings[1].FineTune)
	assert.Equal(t, 10, trainings[1].Epochs)

	reloaded, _, _ := newTestRegistry(t, store)
	h, err := reloaded.Load(context.Background(), common.KindHeatmap)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0+ft.1", h.Version())
	assert.Equal(t, 1, h.Revision())
}

func TestFineTune_Validation(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.FineTune(context.Background(), common.KindHeatmap, nn.NewMatrix(2, 6), nn.NewMatrix(2, 4))
	assert.True(t, errors.IsCode(err, errors.CodeNotInitialized))

	_, err = r.Create(common.KindHeatmap)
	require.NoError(t, err)
	_, err = r.FineTune(context.Background(), common.KindHeatmap, nn.NewMatrix(2, 5), nn.NewMatrix(2, 4))
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
	_, err = r.FineTune(context.Background(), common.KindHeatmap, nn.NewMatrix(0, 6), nn.NewMatrix(0, 4))
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
}

func TestFineTune_ConcurrentInferenceSeesWholeWeights(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	_, err := r.LoadOrCreate(context.Background(), common.KindRisk)
	require.NoError(t, err)
	x, y, err := bootstrap.NewGenerator(6).Generate(common.KindRisk, 32)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				out, err := r.Predict(context.Background(), common.KindRisk, x)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, out.AllFinite())
			}
		}()
	}
	for i := 0; i < 2; i++ {
		_, err := r.FineTune(context.Background(), common.KindRisk, x, y)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	h, err := r.Get(common.KindRisk)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0+ft.2", h.Version())
}

func TestDispose_ExactCounts(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	for _, kind := range common.CoreKinds() {
		_, err := r.Create(kind)
		require.NoError(t, err)
	}
	h, err := r.Get(common.KindTrend)
	require.NoError(t, err)

	assert.True(t, r.Dispose(common.KindTrend))
	assert.False(t, r.Dispose(common.KindTrend))
	assert.True(t, h.Disposed())
	_, err = h.Predict(nn.NewMatrix(1, 36))
	assert.ErrorIs(t, err, nn.ErrReleased)

	assert.Equal(t, 4, r.DisposeAll())
	assert.Equal(t, 0, r.DisposeAll())
	assert.Empty(t, r.Models())
}

func TestCreate_ReplacesAndReleasesPrevious(t *testing.T) {
	r, _, _ := newTestRegistry(t, NewMemoryStore())
	old, err := r.Create(common.KindRisk)
	require.NoError(t, err)
	_, err = r.Create(common.KindRisk)
	require.NoError(t, err)
	assert.True(t, old.Disposed())
	assert.Equal(t, 1, r.DisposeAll())
}

type fakeModel struct {
	outputs  int
	released bool
}

func (f *fakeModel) Predict(x *nn.Matrix) (*nn.Matrix, error) {
	return nn.NewMatrix(x.Rows, f.outputs), nil
}

func (f *fakeModel) Release() { f.released = true }

type fakeLoader struct {
	kinds map[common.ModelKind]bool
}

func (l *fakeLoader) Backend() common.BackendType { return common.BackendONNX }

func (l *fakeLoader) LoadModel(_ context.Context, desc common.ModelDescriptor) (Model, string, error) {
	if !l.kinds[desc.Kind] {
		return nil, "", errors.NotFound("no onnx model")
	}
	return &fakeModel{outputs: desc.OutputWidth()}, "onnx-7", nil
}

func TestLoadOrCreate_ExternalBackend(t *testing.T) {
	store := NewMemoryStore()
	r, rec, _ := newTestRegistry(t, store, WithExternalLoader(&fakeLoader{kinds: map[common.ModelKind]bool{common.KindRisk: true}}))

	h, err := r.LoadOrCreate(context.Background(), common.KindRisk)
	require.NoError(t, err)
	assert.Equal(t, common.BackendONNX, h.Backend())
	assert.Equal(t, "onnx-7", h.Version())
	assert.Zero(t, rec.count(events.TrainingStarted))

	_, err = r.FineTune(context.Background(), common.KindRisk, nn.NewMatrix(2, 6), nn.NewMatrix(2, 5))
	assert.True(t, errors.IsCode(err, errors.CodeTrainingFailure))
	assert.Error(t, r.Save(context.Background(), h))

	_, err = r.LoadOrCreate(context.Background(), common.KindTrend)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(events.TrainingStarted))
}
