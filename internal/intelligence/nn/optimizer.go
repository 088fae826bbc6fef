package nn

import "math"

// Adam holds the hyper-parameters of the Adam optimizer.
type Adam struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Epsilon      float64 `json:"epsilon"`

	step int
}

// DefaultAdam returns Adam with learning rate 0.001.
func DefaultAdam() Adam {
	return Adam{LearningRate: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// update applies one Adam step to every parameter, adding the L2 penalty
// gradient first.
func (a *Adam) update(params []*Param) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params {
		if p.m == nil {
			p.m = make([]float64, len(p.Value))
			p.v = make([]float64, len(p.Value))
		}
		for i, g := range p.Grad {
			if p.L2 > 0 {
				g += 2 * p.L2 * p.Value[i]
			}
			p.m[i] = a.Beta1*p.m[i] + (1-a.Beta1)*g
			p.v[i] = a.Beta2*p.v[i] + (1-a.Beta2)*g*g
			mh := p.m[i] / c1
			vh := p.v[i] / c2
			p.Value[i] -= a.LearningRate * mh / (math.Sqrt(vh) + a.Epsilon)
		}
	}
}
