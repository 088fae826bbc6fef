package scoring

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

type fakeEnsemble struct {
	mu      sync.Mutex
	outputs map[common.ModelKind][]float64
	calls   map[common.ModelKind]int
	inputs  map[common.ModelKind][]float64
	fail    map[common.ModelKind]error

	barrier *sync.WaitGroup
	joined  chan struct{}
}

func newFakeEnsemble() *fakeEnsemble {
	return &fakeEnsemble{
		outputs: map[common.ModelKind][]float64{
			common.KindValuation:  {1234567.4, 0.8, 12000, 65},
			common.KindRisk:       {0.3, 0.2, 0.25, 0.1, 0.15},
			common.KindTrend:      {0.2, 0.6, 9, 0.3},
			common.KindInvestment: {0.75, 0.7, 0.8, 0.65},
		},
		calls:  map[common.ModelKind]int{},
		inputs: map[common.ModelKind][]float64{},
		fail:   map[common.ModelKind]error{},
	}
}

func (f *fakeEnsemble) Predict(_ context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error) {
	f.mu.Lock()
	f.calls[kind]++
	f.inputs[kind] = append([]float64(nil), x.Row(0)...)
	err := f.fail[kind]
	row := f.outputs[kind]
	barrier, joined := f.barrier, f.joined
	f.mu.Unlock()

	if barrier != nil && kind != common.KindInvestment {
		barrier.Done()
		select {
		case <-joined:
		case <-time.After(2 * time.Second):
			return nil, fmt.Errorf("%s ran alone", kind)
		}
	}
	if err != nil {
		return nil, err
	}
	out := nn.NewMatrix(1, len(row))
	copy(out.Data, row)
	return out, nil
}

func property() features.Property {
	p := features.Coordinates(25.0760, 55.1302)
	p.ID = "prop-1"
	p.Size = 120
	return p
}

func TestOverallScore(t *testing.T) {
	score := OverallScore(
		Valuation{Confidence: 0.8},
		Risk{Overall: 0.3},
		Trend{Direction: 0.2},
		Investment{Overall: 0.75},
	)
	assert.InDelta(t, 0.7125, score, 1e-12)
}

func TestRiskGrade(t *testing.T) {
	cases := map[float64]string{0: "A", 0.19: "A", 0.2: "B", 0.39: "B", 0.4: "C", 0.6: "D", 0.79: "D", 0.8: "F", 1: "F"}
	for in, want := range cases {
		assert.Equal(t, want, RiskGrade(in), in)
	}
}

func TestInvestmentGrade(t *testing.T) {
	cases := map[float64]string{0.81: "Excellent", 0.8: "Good", 0.61: "Good", 0.6: "Fair", 0.41: "Fair", 0.4: "Poor", 0.21: "Poor", 0.2: "High Risk", 0: "High Risk"}
	for in, want := range cases {
		assert.Equal(t, want, InvestmentGrade(in), in)
	}
}

func TestRecommendations_Additive(t *testing.T) {
	assert.Equal(t,
		[]string{"Strong buy recommendation", "Implement risk mitigation strategies", "Market timing favorable"},
		Recommendations(Risk{Overall: 0.7}, Trend{Direction: 0.6}, Investment{Overall: 0.71}))
	assert.Equal(t,
		[]string{"Consider for investment"},
		Recommendations(Risk{Overall: 0.6}, Trend{Direction: 0.5}, Investment{Overall: 0.7}))
	assert.Equal(t,
		[]string{"High risk - proceed with caution", "Market timing favorable"},
		Recommendations(Risk{Overall: 0.1}, Trend{Direction: 0.9}, Investment{Overall: 0.5}))
}

func TestAnalyze(t *testing.T) {
	f := newFakeEnsemble()
	m := common.NewInMemoryIntelligenceMetrics()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAnalyzer(f, WithMetrics(m), WithClock(func() time.Time { return now }))

	got, err := a.Analyze(context.Background(), property())
	require.NoError(t, err)

	for _, kind := range common.CoreKinds() {
		if kind == common.KindHeatmap {
			continue
		}
		assert.Equal(t, 1, f.calls[kind], kind)
	}
	assert.Zero(t, f.calls[common.KindHeatmap])

	assert.Equal(t, "prop-1", got.PropertyID)
	assert.Equal(t, now, got.Timestamp)
	assert.InDelta(t, 0.7125, got.OverallScore, 1e-12)
	assert.InDelta(t, (0.8+0.7+0.6+0.75)/4, got.Confidence, 1e-12)
	assert.Equal(t, []string{"Strong buy recommendation"}, got.Recommendations)

	assert.Equal(t, "Property valued at AED 1,234,567", got.Valuation.Interpretation.Summary)
	assert.Equal(t, []string{"Location premium", "Size efficiency", "Market conditions"}, got.Valuation.Interpretation.Factors)
	assert.Equal(t, "B", got.Risk.Grade)
	assert.Equal(t, "B risk rating", got.Risk.Interpretation.Summary)
	assert.Equal(t, "Positive market trend", got.Trend.Interpretation.Summary)
	assert.Equal(t, "60%", got.Trend.Interpretation.Confidence)
	assert.Equal(t, "Good", got.Investment.Grade)
	assert.Equal(t, "Good investment opportunity", got.Investment.Interpretation.Summary)

	assert.InDeltaSlice(t, []float64{0.8, 0.7, 0.6, 0.12, 0.7, 0.8, 0.08}, f.inputs[common.KindInvestment], 1e-12)
	assert.Equal(t, []float64{25.0760, 55.1302, 120, 2, 2, 5, 10, 70, 1.05}, f.inputs[common.KindValuation])
	assert.Equal(t, map[string]int64{"B": 1}, m.GradeCounts())
}

func TestAnalyze_NegativeTrend(t *testing.T) {
	f := newFakeEnsemble()
	f.outputs[common.KindTrend] = []float64{-0.4, 0.25, 3, 0.5}
	got, err := NewAnalyzer(f).Analyze(context.Background(), property())
	require.NoError(t, err)
	assert.Equal(t, "Negative market trend", got.Trend.Interpretation.Summary)
	assert.Equal(t, "25%", got.Trend.Interpretation.Confidence)
	assert.InDelta(t, 0.3, f.inputs[common.KindInvestment][2], 1e-12)
}

func TestAnalyze_RunsIndependentModelsConcurrently(t *testing.T) {
	f := newFakeEnsemble()
	f.barrier = &sync.WaitGroup{}
	f.barrier.Add(3)
	f.joined = make(chan struct{})
	go func() {
		f.barrier.Wait()
		close(f.joined)
	}()

	_, err := NewAnalyzer(f).Analyze(context.Background(), property())
	require.NoError(t, err)
}

func TestAnalyze_SubModelFailure(t *testing.T) {
	f := newFakeEnsemble()
	f.fail[common.KindRisk] = errors.PredictionFailure(fmt.Errorf("boom"), "predict risk")

	_, err := NewAnalyzer(f).Analyze(context.Background(), property())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePredictionFailure))
	assert.Zero(t, f.calls[common.KindInvestment])
}

func TestAnalyze_MissingCoordinates(t *testing.T) {
	f := newFakeEnsemble()
	_, err := NewAnalyzer(f).Analyze(context.Background(), features.Property{ID: "x"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidFeature))
	assert.Empty(t, f.calls)
}

func TestAnalyze_OutputShape(t *testing.T) {
	f := newFakeEnsemble()
	f.outputs[common.KindValuation] = []float64{1, 2}
	_, err := NewAnalyzer(f).Analyze(context.Background(), property())
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "prop-1_25.076_55.1302_120", CacheKey(property()))
	assert.Equal(t, "x_nil_nil_0", CacheKey(features.Property{ID: "x"}))
}
