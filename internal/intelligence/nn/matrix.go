// Package nn implements the small feed-forward and recurrent networks used by
// the valuation engine: dense, dropout, batch-normalization and LSTM layers,
// trained with Adam on mean-squared or cross-entropy objectives.
//
// Inference through a Network never mutates it, so a single Network may serve
// concurrent Predict calls. Training runs on a private copy (see Clone).
package nn

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Matrix
// ---------------------------------------------------------------------------

// Matrix is a dense row-major matrix. Each row is one sample.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// FromRows copies rows into a new Matrix. All rows must have equal width.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return NewMatrix(0, 0), nil
	}
	cols := len(rows[0])
	m := NewMatrix(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("nn: row %d has width %d, expected %d", i, len(r), cols)
		}
		copy(m.Data[i*cols:], r)
	}
	return m, nil
}

// Row returns a view of row i.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float64 { return m.Data[i*m.Cols+j] }

// Set assigns element (i, j).
func (m *Matrix) Set(i, j int, v float64) { m.Data[i*m.Cols+j] = v }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// ToRows copies the matrix into a slice of rows.
func (m *Matrix) ToRows() [][]float64 {
	out := make([][]float64, m.Rows)
	for i := range out {
		out[i] = append([]float64(nil), m.Row(i)...)
	}
	return out
}

// SelectRows gathers the given row indices into a new matrix.
func (m *Matrix) SelectRows(idx []int) *Matrix {
	out := NewMatrix(len(idx), m.Cols)
	for i, r := range idx {
		copy(out.Data[i*m.Cols:(i+1)*m.Cols], m.Row(r))
	}
	return out
}

// SliceCols copies columns [from, to) into a new matrix.
func (m *Matrix) SliceCols(from, to int) *Matrix {
	w := to - from
	out := NewMatrix(m.Rows, w)
	for i := 0; i < m.Rows; i++ {
		copy(out.Data[i*w:(i+1)*w], m.Data[i*m.Cols+from:i*m.Cols+to])
	}
	return out
}

// AllFinite reports whether the matrix holds no NaN or Inf.
func (m *Matrix) AllFinite() bool {
	for _, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Kernels
// ---------------------------------------------------------------------------

// matMul computes a (n x k) * b (k x m) into a new n x m matrix.
func matMul(a *Matrix, b []float64, k, cols int) *Matrix {
	out := NewMatrix(a.Rows, cols)
	for i := 0; i < a.Rows; i++ {
		ar := a.Data[i*k : (i+1)*k]
		or := out.Data[i*cols : (i+1)*cols]
		for p, av := range ar {
			if av == 0 {
				continue
			}
			br := b[p*cols : (p+1)*cols]
			for j, bv := range br {
				or[j] += av * bv
			}
		}
	}
	return out
}

// matMulTransB computes g (n x cols) * bᵀ where b is (k x cols), giving n x k.
func matMulTransB(g *Matrix, b []float64, k, cols int) *Matrix {
	out := NewMatrix(g.Rows, k)
	for i := 0; i < g.Rows; i++ {
		gr := g.Data[i*cols : (i+1)*cols]
		or := out.Data[i*k : (i+1)*k]
		for p := 0; p < k; p++ {
			br := b[p*cols : (p+1)*cols]
			var s float64
			for j, gv := range gr {
				s += gv * br[j]
			}
			or[p] = s
		}
	}
	return out
}

// accumTransA adds aᵀ (k x n) * g (n x cols) into dst (k x cols).
func accumTransA(dst []float64, a *Matrix, g *Matrix) {
	k, cols := a.Cols, g.Cols
	for i := 0; i < a.Rows; i++ {
		ar := a.Data[i*k : (i+1)*k]
		gr := g.Data[i*cols : (i+1)*cols]
		for p, av := range ar {
			if av == 0 {
				continue
			}
			dr := dst[p*cols : (p+1)*cols]
			for j, gv := range gr {
				dr[j] += av * gv
			}
		}
	}
}
