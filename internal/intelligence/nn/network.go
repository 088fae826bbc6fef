package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrReleased is returned by a Network whose weights were released.
var ErrReleased = errors.New("nn: network released")

// ---------------------------------------------------------------------------
// Network
// ---------------------------------------------------------------------------

// Network is a sequential stack of layers with a loss and an optimizer.
type Network struct {
	inputWidth int
	layers     []Layer
	loss       Loss
	optimizer  Adam

	inputScaler  *Standardizer
	outputScaler *Standardizer

	released bool
}

// New builds a Network for rows of inputWidth features. Weights are drawn
// from a generator seeded with seed so identical calls build identical nets.
func New(inputWidth int, loss Loss, seed int64, layers ...Layer) (*Network, error) {
	if inputWidth < 1 {
		return nil, fmt.Errorf("nn: input width must be positive, got %d", inputWidth)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("nn: network needs at least one layer")
	}
	if err := loss.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	in := inputWidth
	for i, l := range layers {
		if err := l.build(in, rng); err != nil {
			return nil, fmt.Errorf("nn: layer %d (%s): %w", i, l.Type(), err)
		}
		in = l.OutWidth()
	}
	return &Network{inputWidth: inputWidth, layers: layers, loss: loss, optimizer: DefaultAdam()}, nil
}

// InputWidth returns the number of features per row.
func (n *Network) InputWidth() int { return n.inputWidth }

// OutputWidth returns the number of outputs per row.
func (n *Network) OutputWidth() int {
	if len(n.layers) == 0 {
		return 0
	}
	return n.layers[len(n.layers)-1].OutWidth()
}

// Loss returns the training objective.
func (n *Network) Loss() Loss { return n.loss }

// ParamCount returns the number of trainable scalars.
func (n *Network) ParamCount() int {
	total := 0
	for _, l := range n.layers {
		for _, p := range l.params() {
			total += len(p.Value)
		}
	}
	return total
}

// SetScalers installs input and output standardizers. Either may be nil.
func (n *Network) SetScalers(in, out *Standardizer) {
	n.inputScaler = in
	n.outputScaler = out
}

// Scalers returns the installed standardizers.
func (n *Network) Scalers() (in, out *Standardizer) { return n.inputScaler, n.outputScaler }

// SetLearningRate overrides the optimizer learning rate.
func (n *Network) SetLearningRate(lr float64) { n.optimizer.LearningRate = lr }

// Released reports whether Release was called.
func (n *Network) Released() bool { return n.released }

// Release drops all weights. Later calls fail with ErrReleased.
func (n *Network) Release() {
	n.layers = nil
	n.released = true
}

// Clone returns an independent deep copy including optimizer state.
func (n *Network) Clone() *Network {
	c := &Network{
		inputWidth:   n.inputWidth,
		loss:         n.loss,
		optimizer:    n.optimizer,
		inputScaler:  n.inputScaler.clone(),
		outputScaler: n.outputScaler.clone(),
		released:     n.released,
	}
	c.layers = make([]Layer, len(n.layers))
	for i, l := range n.layers {
		c.layers[i] = l.clone()
	}
	return c
}

// Predict runs inference on x. It does not mutate the network.
func (n *Network) Predict(x *Matrix) (*Matrix, error) {
	if n.released {
		return nil, ErrReleased
	}
	if x.Cols != n.inputWidth {
		return nil, fmt.Errorf("nn: input has %d features, network expects %d", x.Cols, n.inputWidth)
	}
	out := n.inputScaler.Transform(x)
	for _, l := range n.layers {
		out = l.infer(out)
	}
	if n.outputScaler != nil {
		if out == x {
			out = out.Clone()
		}
		n.outputScaler.Inverse(out)
	}
	if !out.AllFinite() {
		return nil, fmt.Errorf("nn: prediction produced non-finite values")
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Training
// ---------------------------------------------------------------------------

// FitOptions configures Fit.
type FitOptions struct {
	Epochs    int
	BatchSize int
	// ValidationSplit holds out the trailing fraction of rows, as Keras does.
	ValidationSplit float64
	Shuffle         bool
	Seed            int64
	// OnEpochEnd is called after every epoch with 0-based epoch numbers.
	OnEpochEnd func(EpochStats)
}

// EpochStats reports one finished epoch.
type EpochStats struct {
	Epoch   int
	Epochs  int
	Loss    float64
	ValLoss float64
}

// History is the per-epoch loss record of a Fit call.
type History struct {
	Loss    []float64
	ValLoss []float64
}

// FinalLoss returns the last training loss, or NaN when empty.
func (h History) FinalLoss() float64 {
	if len(h.Loss) == 0 {
		return math.NaN()
	}
	return h.Loss[len(h.Loss)-1]
}

// Fit trains the network in place on x and y. Cancellation of ctx is
// observed between mini-batches.
func (n *Network) Fit(ctx context.Context, x, y *Matrix, opts FitOptions) (History, error) {
	var hist History
	if n.released {
		return hist, ErrReleased
	}
	if x.Cols != n.inputWidth {
		return hist, fmt.Errorf("nn: input has %d features, network expects %d", x.Cols, n.inputWidth)
	}
	if y.Cols != n.OutputWidth() {
		return hist, fmt.Errorf("nn: target has %d outputs, network produces %d", y.Cols, n.OutputWidth())
	}
	if x.Rows != y.Rows {
		return hist, fmt.Errorf("nn: %d inputs but %d targets", x.Rows, y.Rows)
	}
	if opts.Epochs < 1 {
		return hist, fmt.Errorf("nn: epochs must be positive")
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 32
	}

	xs := n.inputScaler.Transform(x)
	ys := n.outputScaler.Transform(y)

	nVal := int(float64(x.Rows) * opts.ValidationSplit)
	nTrain := x.Rows - nVal
	if nTrain < 1 {
		return hist, fmt.Errorf("nn: validation split %.2f leaves no training rows", opts.ValidationSplit)
	}
	order := make([]int, nTrain)
	for i := range order {
		order[i] = i
	}
	var xVal, yVal *Matrix
	if nVal > 0 {
		valIdx := make([]int, nVal)
		for i := range valIdx {
			valIdx[i] = nTrain + i
		}
		xVal, yVal = xs.SelectRows(valIdx), ys.SelectRows(valIdx)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	params := n.params()

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if opts.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		var epochLoss float64
		batches := 0
		for start := 0; start < nTrain; start += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := start + opts.BatchSize
			if end > nTrain {
				end = nTrain
			}
			bx, by := xs.SelectRows(order[start:end]), ys.SelectRows(order[start:end])

			out := bx
			for _, l := range n.layers {
				out = l.forward(out, rng)
			}
			epochLoss += n.loss.value(out, by)
			batches++

			for _, p := range params {
				p.zeroGrad()
			}
			grad := n.loss.gradient(out, by)
			for i := len(n.layers) - 1; i >= 0; i-- {
				grad = n.layers[i].backward(grad)
			}
			n.optimizer.update(params)
		}
		epochLoss /= float64(batches)
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return hist, fmt.Errorf("nn: non-finite loss at epoch %d", epoch)
		}

		stats := EpochStats{Epoch: epoch, Epochs: opts.Epochs, Loss: epochLoss, ValLoss: math.NaN()}
		if xVal != nil {
			out := xVal
			for _, l := range n.layers {
				out = l.infer(out)
			}
			stats.ValLoss = n.loss.value(out, yVal)
			hist.ValLoss = append(hist.ValLoss, stats.ValLoss)
		}
		hist.Loss = append(hist.Loss, epochLoss)
		if opts.OnEpochEnd != nil {
			opts.OnEpochEnd(stats)
		}
	}
	return hist, nil
}

func (n *Network) params() []*Param {
	var out []*Param
	for _, l := range n.layers {
		out = append(out, l.params()...)
	}
	return out
}
