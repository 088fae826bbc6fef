package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func TestBuild_ValuationDefaults(t *testing.T) {
	v, err := Build(Coordinates(25.2, 55.27), common.KindValuation)
	require.NoError(t, err)
	assert.Equal(t, Vector{25.2, 55.27, 100, 2, 2, 5, 10, 70, 1.05}, v)
}

func TestBuild_ValuationOverrides(t *testing.T) {
	p := Coordinates(25.2, 55.27)
	p.Size = 240
	p.Bedrooms = 4
	p.MarketTrend = math.NaN()
	v, err := Build(p, common.KindValuation)
	require.NoError(t, err)
	assert.Equal(t, 240.0, v[2])
	assert.Equal(t, 4.0, v[3])
	assert.Equal(t, DefaultMarketTrend, v[8])
}

func TestBuild_HeatmapDefaults(t *testing.T) {
	v, err := Build(Coordinates(24.45, 54.38), common.KindHeatmap)
	require.NoError(t, err)
	assert.Equal(t, Vector{24.45, 54.38, 0, 100, 5, 70}, v)
}

func TestBuild_RiskNeedsNoLocation(t *testing.T) {
	v, err := Build(Property{Age: 12}, common.KindRisk)
	require.NoError(t, err)
	assert.Equal(t, Vector{12, 0.8, 0.3, 4.0, 1.0, 0.5}, v)
}

func TestBuild_SpatialKindsRequireCoordinates(t *testing.T) {
	for _, kind := range []common.ModelKind{common.KindHeatmap, common.KindValuation, common.KindTrend} {
		_, err := Build(Property{Size: 80}, kind)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature), kind)

		_, err = Build(Coordinates(math.NaN(), 55), kind)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature), kind)
	}
}

func TestBuild_WidthsMatchDescriptors(t *testing.T) {
	for _, kind := range []common.ModelKind{common.KindHeatmap, common.KindValuation, common.KindRisk, common.KindTrend} {
		v, err := Build(Coordinates(25, 55), kind)
		require.NoError(t, err, kind)
		assert.Len(t, v, common.MustDescribe(kind).InputWidth, kind)
	}
	assert.Len(t, Investment(Property{}, InvestmentInputs{}), common.MustDescribe(common.KindInvestment).InputWidth)
}

func TestBuild_UnsupportedKinds(t *testing.T) {
	_, err := Build(Coordinates(25, 55), common.KindInvestment)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))
	_, err = Build(Coordinates(25, 55), common.KindImagePrice)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))
}

func TestBuild_TrendSeriesIsDeterministicPerLocation(t *testing.T) {
	a, err := Build(Coordinates(25.07, 55.13), common.KindTrend)
	require.NoError(t, err)
	b, err := Build(Coordinates(25.07, 55.13), common.KindTrend)
	require.NoError(t, err)
	c, err := Build(Coordinates(24.45, 54.37), common.KindTrend)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, v := range a {
		assert.True(t, v >= 0 && v < 1)
	}
}

func TestBuild_TrendHistory(t *testing.T) {
	p := Coordinates(25, 55)
	for i := 0; i < TrendMonths; i++ {
		p.History = append(p.History, Observation{Price: float64(i) / 12, Volume: 0.5, Economic: 0.25})
	}
	v, err := Build(p, common.KindTrend)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0 / 12, 0.5, 0.25}, []float64(v[3:6]))

	p.History = p.History[:5]
	_, err = Build(p, common.KindTrend)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))
}

func TestInvestment(t *testing.T) {
	v := Investment(Property{Liquidity: 0.4}, InvestmentInputs{ValuationConfidence: 0.8, OverallRisk: 0.3, TrendDirection: 0.2})
	assert.InDeltaSlice(t, []float64{0.8, 0.7, 0.6, 0.12, 0.4, 0.8, 0.08}, []float64(v), 1e-12)
}

func TestStack(t *testing.T) {
	m, err := Stack([]Vector{{1, 2}, {3, 4}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, m.Data)

	_, err = Stack([]Vector{{1, 2}, {3}}, 2)
	assert.True(t, errors.IsCode(err, errors.ErrCodeShapeMismatch))
}

func TestHeatmapTrainingSet(t *testing.T) {
	x, y, err := HeatmapTrainingSet([]Sample{
		{Latitude: Float(25.2), Longitude: Float(55.27), PricePerSqm: 18000, RiskScore: 12},
		{Latitude: Float(24.4), Longitude: Float(54.4), Value: 9000, Size: 150},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{25.2, 55.27, 0, 100, 5, 70}, x.Row(0))
	assert.Equal(t, []float64{24.4, 54.4, 0, 150, 5, 70}, x.Row(1))
	assert.Equal(t, []float64{18000, 70, 70, 12}, y.Row(0))
	assert.Equal(t, []float64{9000, 70, 70, 30}, y.Row(1))
}

func TestHeatmapTrainingSet_Invalid(t *testing.T) {
	_, _, err := HeatmapTrainingSet(nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))

	_, _, err = HeatmapTrainingSet([]Sample{{Value: 1}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))

	_, _, err = HeatmapTrainingSet([]Sample{{Latitude: Float(25), Longitude: Float(55)}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))
}
