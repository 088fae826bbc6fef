package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// LSTM is a long short-term memory layer over a flattened sequence. Each input
// row holds Steps consecutive frames of width in/Steps. With ReturnSequences
// the output row holds every hidden state (Steps*Units), otherwise only the
// last one (Units).
type LSTM struct {
	Units           int
	Steps           int
	ReturnSequences bool

	features int
	w, u, b  *Param

	cache []lstmStep
}

type lstmStep struct {
	x, hPrev, cPrev     *Matrix
	i, f, g, o, c, tanC *Matrix
}

// NewLSTM returns an LSTM layer reading steps frames per row.
func NewLSTM(units, steps int, returnSequences bool) *LSTM {
	return &LSTM{Units: units, Steps: steps, ReturnSequences: returnSequences}
}

func (l *LSTM) Type() string { return "lstm" }

func (l *LSTM) OutWidth() int {
	if l.ReturnSequences {
		return l.Steps * l.Units
	}
	return l.Units
}

func (l *LSTM) build(in int, rng *rand.Rand) error {
	if l.Units < 1 || l.Steps < 1 {
		return fmt.Errorf("nn: lstm units and steps must be positive")
	}
	if in%l.Steps != 0 {
		return fmt.Errorf("nn: lstm input width %d is not a multiple of %d steps", in, l.Steps)
	}
	l.features = in / l.Steps
	g := 4 * l.Units
	l.w = newParam("kernel", l.features*g, 0)
	l.u = newParam("recurrent_kernel", l.Units*g, 0)
	l.b = newParam("bias", g, 0)
	glorot(l.w, l.features, g, rng)
	glorot(l.u, l.Units, g, rng)
	// forget gate bias starts at one
	for j := l.Units; j < 2*l.Units; j++ {
		l.b.Value[j] = 1
	}
	return nil
}

func (l *LSTM) frame(x *Matrix, t int) *Matrix {
	return x.SliceCols(t*l.features, (t+1)*l.features)
}

// step advances one time step and returns the gate activations.
func (l *LSTM) step(xt, hPrev, cPrev *Matrix) lstmStep {
	units := l.Units
	gw := 4 * units
	z := matMul(xt, l.w.Value, l.features, gw)
	zh := matMul(hPrev, l.u.Value, units, gw)
	n := xt.Rows
	s := lstmStep{
		x: xt, hPrev: hPrev, cPrev: cPrev,
		i: NewMatrix(n, units), f: NewMatrix(n, units), g: NewMatrix(n, units), o: NewMatrix(n, units),
		c: NewMatrix(n, units), tanC: NewMatrix(n, units),
	}
	for r := 0; r < n; r++ {
		zr, hr := z.Row(r), zh.Row(r)
		for k := 0; k < units; k++ {
			iv := sigmoid(zr[k] + hr[k] + l.b.Value[k])
			fv := sigmoid(zr[units+k] + hr[units+k] + l.b.Value[units+k])
			gv := math.Tanh(zr[2*units+k] + hr[2*units+k] + l.b.Value[2*units+k])
			ov := sigmoid(zr[3*units+k] + hr[3*units+k] + l.b.Value[3*units+k])
			cv := fv*cPrev.Data[r*units+k] + iv*gv
			idx := r*units + k
			s.i.Data[idx], s.f.Data[idx], s.g.Data[idx], s.o.Data[idx] = iv, fv, gv, ov
			s.c.Data[idx] = cv
			s.tanC.Data[idx] = math.Tanh(cv)
		}
	}
	return s
}

func (l *LSTM) run(x *Matrix, keep bool) *Matrix {
	n := x.Rows
	h := NewMatrix(n, l.Units)
	c := NewMatrix(n, l.Units)
	out := NewMatrix(n, l.OutWidth())
	if keep {
		l.cache = make([]lstmStep, l.Steps)
	}
	for t := 0; t < l.Steps; t++ {
		s := l.step(l.frame(x, t), h, c)
		hNext := NewMatrix(n, l.Units)
		for idx := range hNext.Data {
			hNext.Data[idx] = s.o.Data[idx] * s.tanC.Data[idx]
		}
		if keep {
			l.cache[t] = s
		}
		if l.ReturnSequences {
			for r := 0; r < n; r++ {
				copy(out.Data[r*out.Cols+t*l.Units:r*out.Cols+(t+1)*l.Units], hNext.Row(r))
			}
		}
		h, c = hNext, s.c
	}
	if !l.ReturnSequences {
		copy(out.Data, h.Data)
	}
	return out
}

func (l *LSTM) infer(x *Matrix) *Matrix { return l.run(x, false) }

func (l *LSTM) forward(x *Matrix, _ *rand.Rand) *Matrix { return l.run(x, true) }

func (l *LSTM) backward(grad *Matrix) *Matrix {
	units := l.Units
	gw := 4 * units
	n := grad.Rows
	dx := NewMatrix(n, l.Steps*l.features)
	dhNext := NewMatrix(n, units)
	dcNext := NewMatrix(n, units)

	for t := l.Steps - 1; t >= 0; t-- {
		s := l.cache[t]
		dh := dhNext.Clone()
		if l.ReturnSequences {
			for r := 0; r < n; r++ {
				src := grad.Data[r*grad.Cols+t*units : r*grad.Cols+(t+1)*units]
				dst := dh.Row(r)
				for k := range dst {
					dst[k] += src[k]
				}
			}
		} else if t == l.Steps-1 {
			for idx := range dh.Data {
				dh.Data[idx] += grad.Data[idx]
			}
		}

		dz := NewMatrix(n, gw)
		for r := 0; r < n; r++ {
			for k := 0; k < units; k++ {
				idx := r*units + k
				iv, fv, gv, ov := s.i.Data[idx], s.f.Data[idx], s.g.Data[idx], s.o.Data[idx]
				tc := s.tanC.Data[idx]
				dhv := dh.Data[idx]

				dc := dhv*ov*(1-tc*tc) + dcNext.Data[idx]
				row := dz.Row(r)
				row[k] = dc * gv * iv * (1 - iv)
				row[units+k] = dc * s.cPrev.Data[idx] * fv * (1 - fv)
				row[2*units+k] = dc * iv * (1 - gv*gv)
				row[3*units+k] = dhv * tc * ov * (1 - ov)
				dcNext.Data[idx] = dc * fv
			}
		}

		accumTransA(l.w.Grad, s.x, dz)
		accumTransA(l.u.Grad, s.hPrev, dz)
		for r := 0; r < n; r++ {
			for j, g := range dz.Row(r) {
				l.b.Grad[j] += g
			}
		}

		dxt := matMulTransB(dz, l.w.Value, l.features, gw)
		for r := 0; r < n; r++ {
			copy(dx.Data[r*dx.Cols+t*l.features:r*dx.Cols+(t+1)*l.features], dxt.Row(r))
		}
		dhNext = matMulTransB(dz, l.u.Value, units, gw)
	}
	return dx
}

func (l *LSTM) params() []*Param { return []*Param{l.w, l.u, l.b} }

func (l *LSTM) clone() Layer {
	c := &LSTM{Units: l.Units, Steps: l.Steps, ReturnSequences: l.ReturnSequences, features: l.features}
	if l.w != nil {
		c.w, c.u, c.b = l.w.clone(), l.u.clone(), l.b.clone()
	}
	return c
}
