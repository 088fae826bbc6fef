package nn

import (
	"fmt"
	"math"
)

// Loss names a training objective.
type Loss string

const (
	MeanSquaredError        Loss = "mse"
	BinaryCrossEntropy      Loss = "binary_crossentropy"
	CategoricalCrossEntropy Loss = "categorical_crossentropy"
)

const probEpsilon = 1e-7

func clampProb(p float64) float64 {
	return math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
}

func (l Loss) validate() error {
	switch l {
	case MeanSquaredError, BinaryCrossEntropy, CategoricalCrossEntropy:
		return nil
	}
	return fmt.Errorf("nn: unknown loss %q", l)
}

// value returns the mean loss of pred against target.
func (l Loss) value(pred, target *Matrix) float64 {
	var sum float64
	switch l {
	case MeanSquaredError:
		for i, p := range pred.Data {
			d := p - target.Data[i]
			sum += d * d
		}
		return sum / float64(len(pred.Data))
	case BinaryCrossEntropy:
		for i, p := range pred.Data {
			p = clampProb(p)
			y := target.Data[i]
			sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
		}
		return sum / float64(len(pred.Data))
	default:
		for i, p := range pred.Data {
			if y := target.Data[i]; y != 0 {
				sum -= y * math.Log(clampProb(p))
			}
		}
		return sum / float64(pred.Rows)
	}
}

// gradient returns dLoss/dpred.
func (l Loss) gradient(pred, target *Matrix) *Matrix {
	g := NewMatrix(pred.Rows, pred.Cols)
	switch l {
	case MeanSquaredError:
		scale := 2 / float64(len(pred.Data))
		for i, p := range pred.Data {
			g.Data[i] = scale * (p - target.Data[i])
		}
	case BinaryCrossEntropy:
		scale := 1 / float64(len(pred.Data))
		for i, p := range pred.Data {
			p = clampProb(p)
			g.Data[i] = scale * (p - target.Data[i]) / (p * (1 - p))
		}
	default:
		scale := 1 / float64(pred.Rows)
		for i, p := range pred.Data {
			g.Data[i] = -scale * target.Data[i] / clampProb(p)
		}
	}
	return g
}
