package nn

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rng *rand.Rand, rows, cols int) *Matrix {
	m := NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = rng.Float64()*2 - 1
	}
	return m
}

func TestFromRows_RejectsRaggedInput(t *testing.T) {
	_, err := FromRows([][]float64{{1, 2}, {3}})
	assert.Error(t, err)

	m, err := FromRows([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, 4.0, m.At(1, 1))
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, m.ToRows())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, MeanSquaredError, 1, NewDense(1, Linear))
	assert.Error(t, err)
	_, err = New(3, MeanSquaredError, 1)
	assert.Error(t, err)
	_, err = New(3, Loss("hinge"), 1, NewDense(1, Linear))
	assert.Error(t, err)
	_, err = New(3, MeanSquaredError, 1, NewDropout(1.5))
	assert.Error(t, err)
	_, err = New(10, MeanSquaredError, 1, NewLSTM(4, 3, false))
	assert.Error(t, err)
}

func TestPredict_SoftmaxRowsSumToOne(t *testing.T) {
	net, err := New(4, CategoricalCrossEntropy, 7, NewDense(8, ReLU), NewDense(5, Softmax))
	require.NoError(t, err)

	out, err := net.Predict(randomMatrix(rand.New(rand.NewSource(1)), 6, 4))
	require.NoError(t, err)
	for i := 0; i < out.Rows; i++ {
		var sum float64
		for _, v := range out.Row(i) {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestPredict_WidthMismatch(t *testing.T) {
	net, err := New(3, MeanSquaredError, 1, NewDense(2, Linear))
	require.NoError(t, err)

	_, err = net.Predict(NewMatrix(1, 4))
	assert.Error(t, err)
}

func TestNew_SameSeedSameWeights(t *testing.T) {
	a, err := New(3, MeanSquaredError, 11, NewDense(4, Tanh), NewDense(2, Linear))
	require.NoError(t, err)
	b, err := New(3, MeanSquaredError, 11, NewDense(4, Tanh), NewDense(2, Linear))
	require.NoError(t, err)

	x := randomMatrix(rand.New(rand.NewSource(2)), 5, 3)
	pa, _ := a.Predict(x)
	pb, _ := b.Predict(x)
	assert.Equal(t, pa.Data, pb.Data)
}

func TestFit_LearnsLinearFunction(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := NewMatrix(200, 1)
	y := NewMatrix(200, 1)
	for i := 0; i < 200; i++ {
		v := rng.Float64()
		x.Data[i] = v
		y.Data[i] = 2*v + 1
	}
	net, err := New(1, MeanSquaredError, 5, NewDense(1, Linear))
	require.NoError(t, err)
	net.SetLearningRate(0.05)

	var seen []int
	hist, err := net.Fit(context.Background(), x, y, FitOptions{
		Epochs: 100, BatchSize: 16, ValidationSplit: 0.2, Shuffle: true, Seed: 1,
		OnEpochEnd: func(s EpochStats) { seen = append(seen, s.Epoch) },
	})
	require.NoError(t, err)

	assert.Len(t, hist.Loss, 100)
	assert.Len(t, hist.ValLoss, 100)
	assert.Equal(t, 0, seen[0])
	assert.Equal(t, 99, seen[99])
	assert.Less(t, hist.FinalLoss(), hist.Loss[0])
	assert.Less(t, hist.FinalLoss(), 0.05)
}

func TestFit_RejectsBadShapes(t *testing.T) {
	net, err := New(2, MeanSquaredError, 1, NewDense(3, Linear))
	require.NoError(t, err)
	ctx := context.Background()
	opts := FitOptions{Epochs: 1, BatchSize: 2}

	_, err = net.Fit(ctx, NewMatrix(4, 3), NewMatrix(4, 3), opts)
	assert.Error(t, err)
	_, err = net.Fit(ctx, NewMatrix(4, 2), NewMatrix(4, 2), opts)
	assert.Error(t, err)
	_, err = net.Fit(ctx, NewMatrix(4, 2), NewMatrix(3, 3), opts)
	assert.Error(t, err)
	_, err = net.Fit(ctx, NewMatrix(1, 2), NewMatrix(1, 3), FitOptions{Epochs: 1, ValidationSplit: 1})
	assert.Error(t, err)
}

func TestFit_ContextCancelled(t *testing.T) {
	net, err := New(2, MeanSquaredError, 1, NewDense(1, Linear))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = net.Fit(ctx, NewMatrix(8, 2), NewMatrix(8, 1), FitOptions{Epochs: 3, BatchSize: 4})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClone_IsIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net, err := New(3, MeanSquaredError, 9, NewDense(4, Tanh), NewBatchNorm(), NewDense(1, Linear))
	require.NoError(t, err)
	x := randomMatrix(rng, 32, 3)
	y := randomMatrix(rng, 32, 1)
	before, err := net.Predict(x)
	require.NoError(t, err)

	c := net.Clone()
	_, err = c.Fit(context.Background(), x, y, FitOptions{Epochs: 3, BatchSize: 8})
	require.NoError(t, err)

	after, err := net.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)

	changed, err := c.Predict(x)
	require.NoError(t, err)
	assert.NotEqual(t, before.Data, changed.Data)
}

func TestRelease(t *testing.T) {
	net, err := New(2, MeanSquaredError, 1, NewDense(1, Linear))
	require.NoError(t, err)

	net.Release()

	assert.True(t, net.Released())
	_, err = net.Predict(NewMatrix(1, 2))
	assert.ErrorIs(t, err, ErrReleased)
	_, err = net.MarshalBinary()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestSnapshot_RoundTripPreservesPredictions(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net, err := New(12, MeanSquaredError, 21,
		NewLSTM(6, 4, true), NewDropout(0.2), NewLSTM(3, 4, false),
		NewDense(5, ReLU, WithL2(0.001)), NewBatchNorm(), NewDense(2, Linear))
	require.NoError(t, err)
	x := randomMatrix(rng, 10, 12)
	net.SetScalers(FitStandardizer(x), &Standardizer{Mean: []float64{10, 20}, Std: []float64{2, 3}})

	data, err := net.MarshalBinary()
	require.NoError(t, err)
	restored, err := Unmarshal(data)
	require.NoError(t, err)

	want, err := net.Predict(x)
	require.NoError(t, err)
	got, err := restored.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, net.ParamCount(), restored.ParamCount())
}

func TestUnmarshal_RejectsCorruptSnapshots(t *testing.T) {
	_, err := Unmarshal([]byte("{"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"format":99}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"format":1,"input_width":2,"loss":"mse","layers":[{"type":"dense","units":1,"activation":"linear","weights":{"kernel":[1],"bias":[0]}}]}`))
	assert.Error(t, err)
}

func TestStandardizer(t *testing.T) {
	m, _ := FromRows([][]float64{{1, 5}, {3, 5}})
	s := FitStandardizer(m)

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Std)

	tr := s.Transform(m)
	assert.Equal(t, []float64{-1, 0, 1, 0}, tr.Data)
	assert.Equal(t, m.Data, s.Inverse(tr).Data)
}

// ---------------------------------------------------------------------------
// Gradient checks
// ---------------------------------------------------------------------------

func trainLoss(net *Network, x, y *Matrix) float64 {
	rng := rand.New(rand.NewSource(0))
	out := x
	for _, l := range net.layers {
		out = l.forward(out, rng)
	}
	return net.loss.value(out, y)
}

func checkGradients(t *testing.T, net *Network, x, y *Matrix) {
	t.Helper()
	rng := rand.New(rand.NewSource(0))
	out := x
	for _, l := range net.layers {
		out = l.forward(out, rng)
	}
	params := net.params()
	for _, p := range params {
		p.zeroGrad()
	}
	grad := net.loss.gradient(out, y)
	for i := len(net.layers) - 1; i >= 0; i-- {
		grad = net.layers[i].backward(grad)
	}
	analytic := make([][]float64, len(params))
	for i, p := range params {
		analytic[i] = append([]float64(nil), p.Grad...)
	}

	const eps = 1e-5
	for pi, p := range params {
		for i := 0; i < len(p.Value); i += 1 + len(p.Value)/7 {
			orig := p.Value[i]
			p.Value[i] = orig + eps
			lp := trainLoss(net, x, y)
			p.Value[i] = orig - eps
			lm := trainLoss(net, x, y)
			p.Value[i] = orig
			numeric := (lp - lm) / (2 * eps)
			assert.InDelta(t, numeric, analytic[pi][i], 1e-6+1e-4*math.Abs(numeric),
				"param %s index %d", p.Name, i)
		}
	}
}

func TestGradients_DenseSigmoidBCE(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	net, err := New(3, BinaryCrossEntropy, 1, NewDense(5, Tanh), NewDense(2, Sigmoid))
	require.NoError(t, err)
	y := NewMatrix(4, 2)
	for i := range y.Data {
		y.Data[i] = rng.Float64()
	}
	checkGradients(t, net, randomMatrix(rng, 4, 3), y)
}

func TestGradients_SoftmaxCCE(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	net, err := New(3, CategoricalCrossEntropy, 2, NewDense(4, Tanh), NewDense(3, Softmax))
	require.NoError(t, err)
	y := NewMatrix(4, 3)
	for i := 0; i < 4; i++ {
		y.Set(i, i%3, 1)
	}
	checkGradients(t, net, randomMatrix(rng, 4, 3), y)
}

func TestGradients_BatchNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	net, err := New(3, MeanSquaredError, 3, NewDense(4, Linear), NewBatchNorm(), NewDense(2, Tanh))
	require.NoError(t, err)
	checkGradients(t, net, randomMatrix(rng, 6, 3), randomMatrix(rng, 6, 2))
}

func TestGradients_LSTM(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net, err := New(6, MeanSquaredError, 4, NewLSTM(3, 3, true), NewLSTM(2, 3, false), NewDense(2, Linear))
	require.NoError(t, err)
	checkGradients(t, net, randomMatrix(rng, 3, 6), randomMatrix(rng, 3, 2))
}
