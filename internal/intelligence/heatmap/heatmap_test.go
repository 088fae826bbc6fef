package heatmap

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

type fakePredictor struct {
	mu       sync.Mutex
	calls    int
	rows     []int
	lastAttr []float64
	err      error
	failAt   int
	row      func(x []float64) []float64
}

func (f *fakePredictor) Predict(_ context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.rows = append(f.rows, x.Rows)
	if kind != common.KindHeatmap {
		return nil, fmt.Errorf("unexpected kind %s", kind)
	}
	if f.err != nil && f.calls >= f.failAt {
		return nil, f.err
	}
	f.lastAttr = append([]float64(nil), x.Row(0)[2:]...)
	out := nn.NewMatrix(x.Rows, 4)
	for i := 0; i < x.Rows; i++ {
		row := []float64{(x.At(i, 0) - 22) * 5000, 70, 60, 30}
		if f.row != nil {
			row = f.row(x.Row(i))
		}
		copy(out.Row(i), row)
	}
	return out, nil
}

type progressRecorder struct {
	mu     sync.Mutex
	values []int
}

func (r *progressRecorder) listen(e events.Event) {
	if e.Name != events.HeatmapProgress {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, e.Payload.(events.ProgressPayload).Progress)
}

func TestGenerateGrid_UAE(t *testing.T) {
	grid, err := GenerateGrid(UAEBounds, DefaultResolution)
	require.NoError(t, err)
	require.Len(t, grid, 2601)

	assert.Equal(t, GridPoint{Latitude: 22.633, Longitude: 51.583}, grid[0])
	assert.InDelta(t, 26.084, grid[2600].Latitude, 1e-9)
	assert.InDelta(t, 56.396, grid[2600].Longitude, 1e-9)
	assert.InDelta(t, 22.633, grid[50].Latitude, 1e-9)
	assert.InDelta(t, 56.396, grid[50].Longitude, 1e-9)
}

func TestGenerateGrid_Invalid(t *testing.T) {
	_, err := GenerateGrid(Bounds{North: 1, South: 2, East: 3, West: 1}, 10)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = GenerateGrid(UAEBounds, 0)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = GenerateGrid(Bounds{North: math.NaN(), South: 2, East: 3, West: 1}, 10)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestChunk(t *testing.T) {
	grid, err := GenerateGrid(UAEBounds, DefaultResolution)
	require.NoError(t, err)
	batches := Chunk(grid, 100)
	require.Len(t, batches, 27)
	assert.Len(t, batches[0], 100)
	assert.Len(t, batches[26], 1)
}

func TestEvaluate_BatchesAndProgress(t *testing.T) {
	p := &fakePredictor{}
	bus := events.NewBus()
	rec := &progressRecorder{}
	bus.Subscribe(rec.listen)
	m := common.NewInMemoryIntelligenceMetrics()
	e := NewEvaluator(p, WithPublisher(bus), WithMetrics(m))

	points, err := e.Evaluate(context.Background(), UAEBounds, DefaultResolution, Filters{})
	require.NoError(t, err)
	require.Len(t, points, 2601)

	assert.Equal(t, 27, p.calls)
	assert.Equal(t, 100, p.rows[0])
	assert.Equal(t, 1, p.rows[26])
	assert.Equal(t, []float64{0, 100, 5, 70}, p.lastAttr)

	require.Len(t, rec.values, 27)
	assert.Equal(t, 4, rec.values[0])
	assert.Equal(t, 100, rec.values[26])
	for i := 1; i < len(rec.values); i++ {
		assert.GreaterOrEqual(t, rec.values[i], rec.values[i-1])
	}

	first := points[0]
	assert.InDelta(t, (22.633-22)*5000, first.Value, 1e-9)
	assert.Equal(t, 70.0, first.Demand)
	assert.InDelta(t, DefaultCalibration.Normalize(first.Value), first.Intensity, 1e-12)

	require.Len(t, m.Batches(), 1)
	assert.Equal(t, 2601, m.Batches()[0].SuccessItems)
}

func TestEvaluate_AttributesOverrideDefaults(t *testing.T) {
	p := &fakePredictor{}
	e := NewEvaluator(p, WithBatchSize(10))
	f := Filters{HeatmapAttributes: features.HeatmapAttributes{PropertyType: 2, Size: 300}}

	points, err := e.Evaluate(context.Background(), UAEBounds, 4, f)
	require.NoError(t, err)
	assert.Len(t, points, 25)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []float64{2, 300, 5, 70}, p.lastAttr)
}

func TestEvaluate_PredictorFailure(t *testing.T) {
	p := &fakePredictor{err: errors.PredictionFailure(fmt.Errorf("nan"), "predict heatmap"), failAt: 3}
	rec := &progressRecorder{}
	bus := events.NewBus()
	bus.Subscribe(rec.listen)
	e := NewEvaluator(p, WithPublisher(bus))

	_, err := e.Evaluate(context.Background(), UAEBounds, DefaultResolution, Filters{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePredictionFailure))
	assert.Len(t, rec.values, 2)
}

func TestEvaluate_WrongOutputShape(t *testing.T) {
	e := NewEvaluator(shortPredictor{})
	_, err := e.Evaluate(context.Background(), UAEBounds, 2, Filters{})
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
}

type shortPredictor struct{}

func (shortPredictor) Predict(_ context.Context, _ common.ModelKind, x *nn.Matrix) (*nn.Matrix, error) {
	return nn.NewMatrix(x.Rows, 3), nil
}

func TestEvaluate_Cancelled(t *testing.T) {
	p := &fakePredictor{}
	e := NewEvaluator(p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Evaluate(ctx, UAEBounds, DefaultResolution, Filters{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.calls)
}

func ptr(v float64) *float64 { return &v }

func TestFilterAndRank_Composition(t *testing.T) {
	points := []Point{
		{Value: 10000, Demand: 70, Risk: 30},
		{Value: 20000, Demand: 90, Risk: 15},
		{Value: 5000, Demand: 40, Risk: 70},
	}
	out := FilterAndRank(points, Filters{
		MinValue:  ptr(8000),
		MaxValue:  ptr(18000),
		MinDemand: ptr(60),
		MaxRisk:   ptr(40),
	})
	require.Len(t, out, 1)
	assert.Equal(t, 10000.0, out[0].Value)
	assert.Len(t, points, 3)
}

func TestFilterAndRank_ZeroThresholdsStillApply(t *testing.T) {
	points := []Point{{Value: -5}, {Value: 3}}
	out := FilterAndRank(points, Filters{MinValue: ptr(0)})
	require.Len(t, out, 1)
	assert.Equal(t, 3.0, out[0].Value)
}

func TestFilterAndRank_StableSortAndTruncate(t *testing.T) {
	points := []Point{
		{GridPoint: GridPoint{Latitude: 1}, Intensity: 0.5},
		{GridPoint: GridPoint{Latitude: 2}, Intensity: 0.9},
		{GridPoint: GridPoint{Latitude: 3}, Intensity: 0.5},
		{GridPoint: GridPoint{Latitude: 4}, Intensity: 0.1},
		{GridPoint: GridPoint{Latitude: 5}, Intensity: 0.5},
	}
	out := FilterAndRank(points, Filters{})
	var lats []float64
	for _, p := range out {
		lats = append(lats, p.Latitude)
	}
	assert.Equal(t, []float64{2, 1, 3, 5, 4}, lats)

	out = FilterAndRank(points, Filters{MaxPoints: 2})
	require.Len(t, out, 2)
	assert.Equal(t, 2.0, out[0].Latitude)
	assert.Equal(t, 1.0, out[1].Latitude)
}

func TestFilterAndRank_InvestmentPredicate(t *testing.T) {
	points := []Point{{Investment: 50}, {Investment: 80}}
	out := FilterAndRank(points, Filters{MinInvestment: ptr(60)})
	require.Len(t, out, 1)
	assert.Equal(t, 80.0, out[0].Investment)
}

func TestCalibration_Normalize(t *testing.T) {
	c := DefaultCalibration
	assert.Equal(t, 0.0, c.Normalize(2000))
	assert.Equal(t, 1.0, c.Normalize(25000))
	assert.InDelta(t, 0.5, c.Normalize(13500), 1e-12)
	assert.Equal(t, 0.0, c.Normalize(-10))
	assert.Equal(t, 1.0, c.Normalize(1e9))
	assert.Equal(t, 0.0, c.Normalize(math.NaN()))
	assert.Equal(t, 0.0, Calibration{Min: 5, Max: 5}.Normalize(7))
}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 111.19, Haversine(0, 0, 0, 1), 0.01)
	assert.Zero(t, Haversine(25, 55, 25, 55))
}

func TestLocationConfidence(t *testing.T) {
	a, ok := PrimeAreaAt(25.0760, 55.1302)
	require.True(t, ok)
	assert.Equal(t, "Dubai Marina", a.Name)
	assert.InDelta(t, 0.9, LocationConfidence(25.0760, 55.1302), 1e-12)
	assert.InDelta(t, 0.9, LocationConfidence(25.0860, 55.1302), 1e-12)

	_, ok = PrimeAreaAt(23.5, 53.0)
	assert.False(t, ok)
	assert.InDelta(t, 0.8, LocationConfidence(23.5, 53.0), 1e-12)
}

func TestRecommendation(t *testing.T) {
	assert.Equal(t, "Excellent investment opportunity", Recommendation(85, 10))
	assert.Equal(t, "Good investment potential", Recommendation(85, 30))
	assert.Equal(t, "Good investment potential", Recommendation(65, 35))
	assert.Equal(t, "Moderate investment option", Recommendation(50, 50))
	assert.Equal(t, "High risk investment", Recommendation(40, 10))
	assert.Equal(t, "High risk investment", Recommendation(90, 70))
}

func TestPredictLocation(t *testing.T) {
	p := &fakePredictor{row: func([]float64) []float64 { return []float64{13500, 75, 85, 15} }}
	e := NewEvaluator(p)

	got, err := e.PredictLocation(context.Background(), 25.2048, 55.2708, features.HeatmapAttributes{Size: 120})
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, []int{1}, p.rows)
	assert.Equal(t, []float64{0, 120, 5, 70}, p.lastAttr)

	assert.Equal(t, 13500.0, got.Value)
	assert.InDelta(t, 0.5, got.Intensity, 1e-12)
	assert.Equal(t, "Downtown Dubai", got.PrimeArea)
	assert.InDelta(t, 0.9, got.Confidence, 1e-12)
	assert.Equal(t, "Excellent investment opportunity", got.Recommendation)
}

func TestPredictLocation_InvalidCoordinates(t *testing.T) {
	p := &fakePredictor{}
	_, err := NewEvaluator(p).PredictLocation(context.Background(), math.Inf(1), 55, features.HeatmapAttributes{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))
	assert.Zero(t, p.calls)
}
