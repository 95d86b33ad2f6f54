// Package spmat holds the sparse operator storage used throughout the solver:
// a triplet accumulator, a CSR matrix backed by github.com/james-bowman/sparse,
// symmetric permutation and the row/column/value file format of the operator cache.
package spmat

import (
	"fmt"
	"sort"
)

// Triplet accumulates (row, column, value) entries and bulk-constructs a CSR
// matrix once. Duplicate entries are summed; explicit zeros are kept so that a
// structurally required diagonal survives assembly.
type Triplet struct {
	rows, cols int
	I, J       []int
	V          []float64
}

// NewTriplet creates an accumulator for a rows × cols matrix
func NewTriplet(rows, cols, capacity int) *Triplet {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("spmat: invalid dimensions %dx%d", rows, cols))
	}
	return &Triplet{
		rows: rows,
		cols: cols,
		I:    make([]int, 0, capacity),
		J:    make([]int, 0, capacity),
		V:    make([]float64, 0, capacity),
	}
}

// Dims returns the matrix dimensions
func (t *Triplet) Dims() (int, int) { return t.rows, t.cols }

// Len returns the number of accumulated entries, duplicates included
func (t *Triplet) Len() int { return len(t.V) }

// Put appends an entry
func (t *Triplet) Put(i, j int, v float64) {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		panic(fmt.Sprintf("spmat: entry (%d,%d) outside %dx%d", i, j, t.rows, t.cols))
	}
	t.I = append(t.I, i)
	t.J = append(t.J, j)
	t.V = append(t.V, v)
}

// ToCSR sorts the entries by row then column, sums duplicates, and builds the matrix
func (t *Triplet) ToCSR() *CSR {
	order := make([]int, len(t.V))
	for n := range order {
		order[n] = n
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := t.I[order[a]], t.I[order[b]]
		if ia != ib {
			return ia < ib
		}
		return t.J[order[a]] < t.J[order[b]]
	})

	indptr := make([]int, t.rows+1)
	ind := make([]int, 0, len(order))
	data := make([]float64, 0, len(order))
	lastI, lastJ := -1, -1
	for _, n := range order {
		i, j, v := t.I[n], t.J[n], t.V[n]
		if i == lastI && j == lastJ {
			data[len(data)-1] += v
			continue
		}
		ind = append(ind, j)
		data = append(data, v)
		indptr[i+1]++
		lastI, lastJ = i, j
	}
	for i := 0; i < t.rows; i++ {
		indptr[i+1] += indptr[i]
	}
	return NewCSR(t.rows, t.cols, indptr, ind, data)
}
