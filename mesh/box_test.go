package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_Indexing(t *testing.T) {
	b := Box{Nx: 4, Ny: 3, Nz: 2, Lx: 2, Ly: 1.5, Lz: 1}
	require.NoError(t, b.Validate())
	assert.Equal(t, 24, b.Cells())

	for c := 0; c < b.Cells(); c++ {
		i, j, k := b.CellIJK(c)
		assert.Equal(t, c, b.Cell(i, j, k))
	}

	assert.Equal(t, 3*3*2, b.Faces(X))
	assert.Equal(t, 4*2*2, b.Faces(Y))
	assert.Equal(t, 4*3*1, b.Faces(Z))

	for _, a := range []Axis{X, Y, Z} {
		for f := 0; f < b.Faces(a); f++ {
			i, j, k := b.FaceIJK(a, f)
			assert.Equal(t, f, b.Face(a, i, j, k), "axis %v face %d", a, f)
		}
	}
	assert.Equal(t, -1, b.Face(X, 3, 0, 0))
	assert.Equal(t, -1, b.CellOrNone(0, 3, 0))

	c := b.CellCenter(b.Cell(1, 2, 0))
	assert.InDeltaSlice(t, []float64{0.75, 1.25, 0.25}, c[:], 1e-15)
}

func TestBox_Validate(t *testing.T) {
	assert.Error(t, Box{Nx: 0, Ny: 1, Nz: 1, Lx: 1, Ly: 1, Lz: 1}.Validate())
	assert.Error(t, Box{Nx: 1, Ny: 1, Nz: 1, Lx: 1, Ly: 0, Lz: 1}.Validate())
	assert.NoError(t, Box{Nx: 8, Ny: 1, Nz: 1, Lx: 1, Ly: 1, Lz: 1}.Validate())
}

func TestBox_CellSpeed(t *testing.T) {
	b := Box{Nx: 3, Ny: 3, Nz: 3, Lx: 1, Ly: 1, Lz: 1}
	fill := func(n int, v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	u, v, w := fill(b.Faces(X), 1), fill(b.Faces(Y), 1), fill(b.Faces(Z), 1)

	// interior cell: unit flow along every axis has magnitude sqrt(3)
	assert.InDelta(t, math.Sqrt(3), b.CellSpeed(u, v, w, b.Cell(1, 1, 1)), 1e-15)
	// corner cell sees one face and one wall per axis
	assert.InDelta(t, math.Sqrt(3)/2, b.CellSpeed(u, v, w, b.Cell(0, 0, 0)), 1e-15)
	assert.Equal(t, 0.0, b.CellSpeed(make([]float64, b.Faces(X)), nil, nil, 0))
}
