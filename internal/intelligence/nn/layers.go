package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// ---------------------------------------------------------------------------
// Param / Layer
// ---------------------------------------------------------------------------

// Param is one trainable tensor with its gradient and Adam moments.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
	L2    float64

	m, v []float64
}

func newParam(name string, size int, l2 float64) *Param {
	return &Param{Name: name, Value: make([]float64, size), Grad: make([]float64, size), L2: l2}
}

func (p *Param) clone() *Param {
	c := &Param{
		Name:  p.Name,
		Value: append([]float64(nil), p.Value...),
		Grad:  make([]float64, len(p.Grad)),
		L2:    p.L2,
	}
	if p.m != nil {
		c.m = append([]float64(nil), p.m...)
		c.v = append([]float64(nil), p.v...)
	}
	return c
}

func (p *Param) zeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Layer is one stage of a Network. Implementations cache activations during
// forward so that backward can run; infer is side-effect free.
type Layer interface {
	// Type is the serialized layer name.
	Type() string
	// OutWidth is valid after build.
	OutWidth() int

	build(in int, rng *rand.Rand) error
	infer(x *Matrix) *Matrix
	forward(x *Matrix, rng *rand.Rand) *Matrix
	backward(grad *Matrix) *Matrix
	params() []*Param
	spec() LayerSpec
	clone() Layer
}

func glorot(p *Param, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}

// ---------------------------------------------------------------------------
// Dense
// ---------------------------------------------------------------------------

// Dense is a fully connected layer followed by an activation.
type Dense struct {
	Units      int
	Activation Activation
	L2         float64

	in   int
	w, b *Param
	x, a *Matrix
}

// DenseOption customises a Dense layer.
type DenseOption func(*Dense)

// WithL2 adds an L2 kernel penalty of the given factor.
func WithL2(factor float64) DenseOption { return func(d *Dense) { d.L2 = factor } }

// NewDense returns a Dense layer with units outputs.
func NewDense(units int, act Activation, opts ...DenseOption) *Dense {
	d := &Dense{Units: units, Activation: act}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dense) Type() string  { return "dense" }
func (d *Dense) OutWidth() int { return d.Units }

func (d *Dense) build(in int, rng *rand.Rand) error {
	if d.Units < 1 {
		return fmt.Errorf("nn: dense units must be positive, got %d", d.Units)
	}
	if err := d.Activation.validate(); err != nil {
		return err
	}
	d.in = in
	d.w = newParam("kernel", in*d.Units, d.L2)
	d.b = newParam("bias", d.Units, 0)
	glorot(d.w, in, d.Units, rng)
	return nil
}

func (d *Dense) preact(x *Matrix) *Matrix {
	z := matMul(x, d.w.Value, d.in, d.Units)
	for i := 0; i < z.Rows; i++ {
		row := z.Row(i)
		for j := range row {
			row[j] += d.b.Value[j]
		}
	}
	return z
}

func (d *Dense) infer(x *Matrix) *Matrix {
	z := d.preact(x)
	d.Activation.apply(z)
	return z
}

func (d *Dense) forward(x *Matrix, _ *rand.Rand) *Matrix {
	d.x = x
	d.a = d.infer(x)
	return d.a
}

func (d *Dense) backward(grad *Matrix) *Matrix {
	dz := d.Activation.backward(d.a, grad)
	accumTransA(d.w.Grad, d.x, dz)
	for i := 0; i < dz.Rows; i++ {
		for j, g := range dz.Row(i) {
			d.b.Grad[j] += g
		}
	}
	return matMulTransB(dz, d.w.Value, d.in, d.Units)
}

func (d *Dense) params() []*Param { return []*Param{d.w, d.b} }

func (d *Dense) clone() Layer {
	c := &Dense{Units: d.Units, Activation: d.Activation, L2: d.L2, in: d.in}
	if d.w != nil {
		c.w, c.b = d.w.clone(), d.b.clone()
	}
	return c
}

// ---------------------------------------------------------------------------
// Dropout
// ---------------------------------------------------------------------------

// Dropout zeroes a fraction of activations during training (inverted scaling).
type Dropout struct {
	Rate float64

	width int
	mask  []float64
}

// NewDropout returns a Dropout layer with the given drop rate.
func NewDropout(rate float64) *Dropout { return &Dropout{Rate: rate} }

func (d *Dropout) Type() string  { return "dropout" }
func (d *Dropout) OutWidth() int { return d.width }

func (d *Dropout) build(in int, _ *rand.Rand) error {
	if d.Rate < 0 || d.Rate >= 1 {
		return fmt.Errorf("nn: dropout rate must be in [0, 1), got %.2f", d.Rate)
	}
	d.width = in
	return nil
}

func (d *Dropout) infer(x *Matrix) *Matrix { return x }

func (d *Dropout) forward(x *Matrix, rng *rand.Rand) *Matrix {
	out := x.Clone()
	d.mask = make([]float64, len(x.Data))
	keep := 1 - d.Rate
	for i := range out.Data {
		if rng.Float64() < keep {
			d.mask[i] = 1 / keep
		}
		out.Data[i] *= d.mask[i]
	}
	return out
}

func (d *Dropout) backward(grad *Matrix) *Matrix {
	out := grad.Clone()
	for i := range out.Data {
		out.Data[i] *= d.mask[i]
	}
	return out
}

func (d *Dropout) params() []*Param { return nil }

func (d *Dropout) clone() Layer { return &Dropout{Rate: d.Rate, width: d.width} }

// ---------------------------------------------------------------------------
// BatchNorm
// ---------------------------------------------------------------------------

// BatchNorm normalizes each feature over the mini-batch during training and
// with running statistics at inference.
type BatchNorm struct {
	Momentum float64
	Epsilon  float64

	width       int
	gamma, beta *Param
	runMean     []float64
	runVar      []float64

	xhat   *Matrix
	invStd []float64
}

// NewBatchNorm returns a BatchNorm layer with momentum 0.99 and epsilon 1e-3.
func NewBatchNorm() *BatchNorm { return &BatchNorm{Momentum: 0.99, Epsilon: 1e-3} }

func (b *BatchNorm) Type() string  { return "batch_norm" }
func (b *BatchNorm) OutWidth() int { return b.width }

func (b *BatchNorm) build(in int, _ *rand.Rand) error {
	b.width = in
	b.gamma = newParam("gamma", in, 0)
	b.beta = newParam("beta", in, 0)
	b.runMean = make([]float64, in)
	b.runVar = make([]float64, in)
	for i := 0; i < in; i++ {
		b.gamma.Value[i] = 1
		b.runVar[i] = 1
	}
	return nil
}

func (b *BatchNorm) infer(x *Matrix) *Matrix {
	out := NewMatrix(x.Rows, x.Cols)
	for j := 0; j < b.width; j++ {
		inv := 1 / math.Sqrt(b.runVar[j]+b.Epsilon)
		for i := 0; i < x.Rows; i++ {
			out.Data[i*b.width+j] = b.gamma.Value[j]*(x.Data[i*b.width+j]-b.runMean[j])*inv + b.beta.Value[j]
		}
	}
	return out
}

func (b *BatchNorm) forward(x *Matrix, _ *rand.Rand) *Matrix {
	n := float64(x.Rows)
	out := NewMatrix(x.Rows, x.Cols)
	b.xhat = NewMatrix(x.Rows, x.Cols)
	b.invStd = make([]float64, b.width)
	for j := 0; j < b.width; j++ {
		var mean, variance float64
		for i := 0; i < x.Rows; i++ {
			mean += x.Data[i*b.width+j]
		}
		mean /= n
		for i := 0; i < x.Rows; i++ {
			d := x.Data[i*b.width+j] - mean
			variance += d * d
		}
		variance /= n
		inv := 1 / math.Sqrt(variance+b.Epsilon)
		b.invStd[j] = inv
		for i := 0; i < x.Rows; i++ {
			xh := (x.Data[i*b.width+j] - mean) * inv
			b.xhat.Data[i*b.width+j] = xh
			out.Data[i*b.width+j] = b.gamma.Value[j]*xh + b.beta.Value[j]
		}
		b.runMean[j] = b.Momentum*b.runMean[j] + (1-b.Momentum)*mean
		b.runVar[j] = b.Momentum*b.runVar[j] + (1-b.Momentum)*variance
	}
	return out
}

func (b *BatchNorm) backward(grad *Matrix) *Matrix {
	n := float64(grad.Rows)
	dx := NewMatrix(grad.Rows, grad.Cols)
	for j := 0; j < b.width; j++ {
		var sumG, sumGX float64
		for i := 0; i < grad.Rows; i++ {
			g := grad.Data[i*b.width+j]
			xh := b.xhat.Data[i*b.width+j]
			sumG += g
			sumGX += g * xh
		}
		b.beta.Grad[j] += sumG
		b.gamma.Grad[j] += sumGX
		scale := b.gamma.Value[j] * b.invStd[j] / n
		for i := 0; i < grad.Rows; i++ {
			g := grad.Data[i*b.width+j]
			xh := b.xhat.Data[i*b.width+j]
			dx.Data[i*b.width+j] = scale * (n*g - sumG - xh*sumGX)
		}
	}
	return dx
}

func (b *BatchNorm) params() []*Param { return []*Param{b.gamma, b.beta} }

func (b *BatchNorm) clone() Layer {
	c := &BatchNorm{Momentum: b.Momentum, Epsilon: b.Epsilon, width: b.width}
	if b.gamma != nil {
		c.gamma, c.beta = b.gamma.clone(), b.beta.clone()
		c.runMean = append([]float64(nil), b.runMean...)
		c.runVar = append([]float64(nil), b.runVar...)
	}
	return c
}
