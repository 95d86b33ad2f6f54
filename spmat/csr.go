package spmat

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// CSR is an immutable compressed sparse row matrix. The raw arrays are kept
// alongside the embedded sparse.CSR so device uploads and the cache file writer
// can read them directly.
type CSR struct {
	*sparse.CSR
	Rows, Cols int
	Indptr     []int
	Ind        []int
	Data       []float64
}

// NewCSR wraps raw CSR arrays. Column indices within a row must be increasing.
func NewCSR(rows, cols int, indptr, ind []int, data []float64) *CSR {
	if len(indptr) != rows+1 {
		panic(fmt.Sprintf("spmat: indptr length %d, want %d", len(indptr), rows+1))
	}
	if len(ind) != len(data) || indptr[rows] != len(data) {
		panic(fmt.Sprintf("spmat: inconsistent CSR arrays: nnz %d, ind %d, data %d",
			indptr[rows], len(ind), len(data)))
	}
	return &CSR{
		CSR:    sparse.NewCSR(rows, cols, indptr, ind, data),
		Rows:   rows,
		Cols:   cols,
		Indptr: indptr,
		Ind:    ind,
		Data:   data,
	}
}

// NNZ returns the number of stored entries, explicit zeros included
func (a *CSR) NNZ() int { return len(a.Data) }

// Dims returns the matrix dimensions
func (a *CSR) Dims() (int, int) { return a.Rows, a.Cols }

// MulVec computes dst = A x on the host
func (a *CSR) MulVec(dst, x []float64) {
	if len(dst) != a.Rows || len(x) != a.Cols {
		panic(fmt.Sprintf("spmat: MulVec shape mismatch: A is %dx%d, x %d, dst %d",
			a.Rows, a.Cols, len(x), len(dst)))
	}
	for i := range dst {
		dst[i] = 0
	}
	if a.Rows == 0 || a.Cols == 0 {
		return
	}
	a.CSR.MulVecTo(dst, false, x)
}

// Diagonal returns the stored diagonal (zero where absent)
func (a *CSR) Diagonal() []float64 {
	n := a.Rows
	if a.Cols < n {
		n = a.Cols
	}
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			if a.Ind[p] == i {
				d[i] = a.Data[p]
				break
			}
		}
	}
	return d
}

// Triplets expands the matrix into row, column, value arrays in row-major order
func (a *CSR) Triplets() (rows, cols []int, vals []float64) {
	rows = make([]int, a.NNZ())
	cols = make([]int, a.NNZ())
	vals = make([]float64, a.NNZ())
	for i := 0; i < a.Rows; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			rows[p], cols[p], vals[p] = i, a.Ind[p], a.Data[p]
		}
	}
	return
}

// Dense returns a dense copy
func (a *CSR) Dense() *mat.Dense {
	return mat.DenseCopyOf(a.CSR)
}

// FrobeniusNorm returns ||A||_F
func (a *CSR) FrobeniusNorm() float64 {
	var s float64
	for _, v := range a.Data {
		s += v * v
	}
	return math.Sqrt(s)
}

// RelativeDifference returns ||A - B||_F / ||A||_F (absolute when A is zero).
// Matrices of different shape are infinitely far apart.
func (a *CSR) RelativeDifference(b *CSR) float64 {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return math.Inf(1)
	}
	var diff float64
	for i := 0; i < a.Rows; i++ {
		pa, pb := a.Indptr[i], b.Indptr[i]
		ea, eb := a.Indptr[i+1], b.Indptr[i+1]
		for pa < ea || pb < eb {
			var d float64
			switch {
			case pb >= eb || (pa < ea && a.Ind[pa] < b.Ind[pb]):
				d = a.Data[pa]
				pa++
			case pa >= ea || b.Ind[pb] < a.Ind[pa]:
				d = b.Data[pb]
				pb++
			default:
				d = a.Data[pa] - b.Data[pb]
				pa++
				pb++
			}
			diff += d * d
		}
	}
	norm := a.FrobeniusNorm()
	if norm == 0 {
		return math.Sqrt(diff)
	}
	return math.Sqrt(diff) / norm
}

// SamePattern reports whether both matrices store exactly the same positions
func (a *CSR) SamePattern(b *CSR) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols || a.NNZ() != b.NNZ() {
		return false
	}
	for i, v := range a.Indptr {
		if b.Indptr[i] != v {
			return false
		}
	}
	for i, v := range a.Ind {
		if b.Ind[i] != v {
			return false
		}
	}
	return true
}

// IsSymmetric reports whether A = Aᵀ within an absolute tolerance
func (a *CSR) IsSymmetric(tol float64) bool {
	if a.Rows != a.Cols {
		return false
	}
	for i := 0; i < a.Rows; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			if math.Abs(a.Data[p]-a.At(a.Ind[p], i)) > tol {
				return false
			}
		}
	}
	return true
}

// Permute returns P_r A P_cᵀ where rowInv and colInv map old indices to new
// ones. A nil map leaves that dimension unpermuted.
func Permute(a *CSR, rowInv, colInv []int) *CSR {
	if rowInv != nil && len(rowInv) != a.Rows {
		panic(fmt.Sprintf("spmat: row permutation length %d, want %d", len(rowInv), a.Rows))
	}
	if colInv != nil && len(colInv) != a.Cols {
		panic(fmt.Sprintf("spmat: column permutation length %d, want %d", len(colInv), a.Cols))
	}
	t := NewTriplet(a.Rows, a.Cols, a.NNZ())
	for i := 0; i < a.Rows; i++ {
		ni := i
		if rowInv != nil {
			ni = rowInv[i]
		}
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			nj := a.Ind[p]
			if colInv != nil {
				nj = colInv[nj]
			}
			t.Put(ni, nj, a.Data[p])
		}
	}
	return t.ToCSR()
}

// PermuteSymmetric returns P A Pᵀ
func PermuteSymmetric(a *CSR, inv []int) *CSR {
	return Permute(a, inv, inv)
}

// Bandwidth returns max |i - j| over stored entries
func (a *CSR) Bandwidth() int {
	var bw int
	for i := 0; i < a.Rows; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			d := i - a.Ind[p]
			if d < 0 {
				d = -d
			}
			if d > bw {
				bw = d
			}
		}
	}
	return bw
}
