package nn

import (
	"fmt"
	"math"
)

// Activation names an element-wise (or row-wise, for softmax) output transform.
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Tanh    Activation = "tanh"
	Softmax Activation = "softmax"
)

func (a Activation) validate() error {
	switch a {
	case Linear, ReLU, Sigmoid, Tanh, Softmax:
		return nil
	}
	return fmt.Errorf("nn: unknown activation %q", a)
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// apply transforms z in place.
func (a Activation) apply(z *Matrix) {
	switch a {
	case ReLU:
		for i, v := range z.Data {
			if v < 0 {
				z.Data[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range z.Data {
			z.Data[i] = sigmoid(v)
		}
	case Tanh:
		for i, v := range z.Data {
			z.Data[i] = math.Tanh(v)
		}
	case Softmax:
		for r := 0; r < z.Rows; r++ {
			row := z.Row(r)
			maxV := math.Inf(-1)
			for _, v := range row {
				if v > maxV {
					maxV = v
				}
			}
			var sum float64
			for j, v := range row {
				row[j] = math.Exp(v - maxV)
				sum += row[j]
			}
			for j := range row {
				row[j] /= sum
			}
		}
	}
}

// backward converts dL/da into dL/dz given the activated output a.
func (a Activation) backward(out, grad *Matrix) *Matrix {
	dz := NewMatrix(grad.Rows, grad.Cols)
	switch a {
	case Linear:
		copy(dz.Data, grad.Data)
	case ReLU:
		for i, v := range out.Data {
			if v > 0 {
				dz.Data[i] = grad.Data[i]
			}
		}
	case Sigmoid:
		for i, v := range out.Data {
			dz.Data[i] = grad.Data[i] * v * (1 - v)
		}
	case Tanh:
		for i, v := range out.Data {
			dz.Data[i] = grad.Data[i] * (1 - v*v)
		}
	case Softmax:
		for r := 0; r < out.Rows; r++ {
			o, g, d := out.Row(r), grad.Row(r), dz.Row(r)
			var dot float64
			for j := range o {
				dot += o[j] * g[j]
			}
			for j := range o {
				d[j] = o[j] * (g[j] - dot)
			}
		}
	}
	return dz
}
