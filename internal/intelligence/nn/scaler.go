package nn

import "math"

// Standardizer rescales each column to zero mean and unit variance.
type Standardizer struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitStandardizer computes per-column statistics of m. Constant columns keep
// a unit scale.
func FitStandardizer(m *Matrix) *Standardizer {
	s := &Standardizer{Mean: make([]float64, m.Cols), Std: make([]float64, m.Cols)}
	if m.Rows == 0 {
		for j := range s.Std {
			s.Std[j] = 1
		}
		return s
	}
	n := float64(m.Rows)
	for i := 0; i < m.Rows; i++ {
		for j, v := range m.Row(i) {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for i := 0; i < m.Rows; i++ {
		for j, v := range m.Row(i) {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] < 1e-9 {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardized copy of m.
func (s *Standardizer) Transform(m *Matrix) *Matrix {
	if s == nil {
		return m
	}
	out := m.Clone()
	for i := 0; i < out.Rows; i++ {
		row := out.Row(i)
		for j := range row {
			row[j] = (row[j] - s.Mean[j]) / s.Std[j]
		}
	}
	return out
}

// Inverse maps standardized values back into the original scale, in place.
func (s *Standardizer) Inverse(m *Matrix) *Matrix {
	if s == nil {
		return m
	}
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = row[j]*s.Std[j] + s.Mean[j]
		}
	}
	return m
}

func (s *Standardizer) clone() *Standardizer {
	if s == nil {
		return nil
	}
	return &Standardizer{Mean: append([]float64(nil), s.Mean...), Std: append([]float64(nil), s.Std...)}
}
