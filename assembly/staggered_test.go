package assembly

import (
	"math"
	"testing"

	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/layout"
	"github.com/notargets/KrylovStepper/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox() mesh.Box {
	return mesh.Box{Nx: 4, Ny: 3, Nz: 3, Lx: 1, Ly: 0.75, Lz: 1.5}
}

func newStaggered(t *testing.T, box mesh.Box, edit func(p *config.PhysicalParameters)) *Staggered {
	p := config.DefaultConfig().Physics
	p.CoriolisTilde = 0.3
	if edit != nil {
		edit(&p)
	}
	s, err := NewStaggered(box, p)
	require.NoError(t, err)
	return s
}

// ============================================================================
// Inversion operator
// ============================================================================

func TestInversionOperator_Structure(t *testing.T) {
	s := newStaggered(t, testBox(), nil)
	a, err := s.InversionOperator()
	require.NoError(t, err)
	lay := s.Layout()

	r, c := a.Dims()
	require.Equal(t, lay.N(), r)
	require.Equal(t, lay.N(), c)
	assert.Equal(t, s.Mesh().Faces(mesh.X)+s.Mesh().Faces(mesh.Y)+s.Mesh().Faces(mesh.Z)+s.Mesh().Cells()-1, r)

	d := a.Dense()
	pStart, pEnd := lay.Range(layout.P)
	uStart, uEnd := lay.Range(layout.U)
	vStart, vEnd := lay.Range(layout.V)

	t.Run("explicit zero pressure diagonal", func(t *testing.T) {
		for i := pStart; i < pEnd; i++ {
			found := false
			for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
				if a.Ind[p] == i {
					found = true
					assert.Equal(t, 0.0, a.Data[p])
				}
			}
			assert.True(t, found, "row %d", i)
		}
	})

	t.Run("gradient and constraint are transposes", func(t *testing.T) {
		for i := 0; i < pStart; i++ {
			for j := pStart; j < pEnd; j++ {
				assert.Equal(t, d.At(i, j), d.At(j, i))
			}
		}
	})

	t.Run("coriolis is skew", func(t *testing.T) {
		var sum float64
		for i := uStart; i < uEnd; i++ {
			for j := vStart; j < vEnd; j++ {
				assert.InDelta(t, -d.At(i, j), d.At(j, i), 1e-15)
				sum += math.Abs(d.At(i, j))
			}
		}
		assert.Greater(t, sum, 0.0)
	})

	t.Run("symmetric without rotation", func(t *testing.T) {
		assert.False(t, a.IsSymmetric(1e-12))
		s0 := newStaggered(t, testBox(), func(p *config.PhysicalParameters) {
			p.Coriolis, p.CoriolisTilde = 0, 0
		})
		a0, err := s0.InversionOperator()
		require.NoError(t, err)
		assert.True(t, a0.IsSymmetric(1e-12))
	})
}

func TestInversionOperator_ConstraintRows(t *testing.T) {
	s := newStaggered(t, mesh.Box{Nx: 3, Ny: 1, Nz: 1, Lx: 3, Ly: 1, Lz: 1}, nil)
	a, err := s.InversionOperator()
	require.NoError(t, err)
	lay := s.Layout()
	pStart, _ := lay.Range(layout.P)
	// face 0 separates cells 0 and 1 (h = 1)
	assert.Equal(t, -1.0, a.At(pStart+0, 0))
	assert.Equal(t, 1.0, a.At(pStart+1, 0))
	// face 1 touches the pinned cell 2, whose row is dropped
	assert.Equal(t, -1.0, a.At(pStart+1, 1))
	assert.Equal(t, lay.N(), 2+2)
}

// ============================================================================
// Buoyancy and Evolution
// ============================================================================

func TestBuoyancyOperator_UniformField(t *testing.T) {
	s := newStaggered(t, testBox(), func(p *config.PhysicalParameters) { p.Buoyancy = 2.5 })
	r, err := s.BuoyancyOperator()
	require.NoError(t, err)
	lay := s.Layout()

	b := make([]float64, s.Mesh().Cells())
	for i := range b {
		b[i] = 1
	}
	rhs := make([]float64, lay.N())
	r.MulVec(rhs, b)
	wStart, wEnd := lay.Range(layout.W)
	for i, v := range rhs {
		if i >= wStart && i < wEnd {
			assert.InDelta(t, 2.5, v, 1e-15)
		} else {
			assert.Equal(t, 0.0, v)
		}
	}
}

func TestEvolutionOperator(t *testing.T) {
	t.Run("pure diffusion is symmetric and conservative", func(t *testing.T) {
		s := newStaggered(t, testBox(), nil)
		m, err := s.EvolutionOperator()
		require.NoError(t, err)
		assert.True(t, s.EvolutionSymmetric())
		assert.True(t, m.IsSymmetric(1e-15))
		ones := make([]float64, s.Mesh().Cells())
		for i := range ones {
			ones[i] = 1
		}
		out := make([]float64, len(ones))
		m.MulVec(out, ones)
		assert.InDeltaSlice(t, ones, out, 1e-12)
	})

	t.Run("mean flow breaks symmetry and conserves mass", func(t *testing.T) {
		s := newStaggered(t, testBox(), func(p *config.PhysicalParameters) {
			p.MeanFlow = [3]float64{1, -0.5, 0}
		})
		m, err := s.EvolutionOperator()
		require.NoError(t, err)
		assert.False(t, s.EvolutionSymmetric())
		assert.False(t, m.IsSymmetric(1e-12))
		d := m.Dense()
		n, _ := d.Dims()
		for j := 0; j < n; j++ {
			var col float64
			for i := 0; i < n; i++ {
				col += d.At(i, j)
			}
			assert.InDelta(t, 1.0, col, 1e-12)
		}
	})
}

func TestEvolutionRHS(t *testing.T) {
	box := mesh.Box{Nx: 5, Ny: 1, Nz: 1, Lx: 5, Ly: 1, Lz: 1}
	s := newStaggered(t, box, nil)
	lay := s.Layout()
	b := []float64{0, 1, 2, 3, 4} // db/dx = 1
	u := make([]float64, lay.Sizes[layout.U])
	for i := range u {
		u[i] = 2
	}

	assert.Equal(t, b, s.EvolutionRHS(b, make([]float64, len(u)), nil, nil))

	rhs := s.EvolutionRHS(b, u, nil, nil)
	dt := config.DefaultDt
	// interior cells see both faces, wall cells only one
	want := []float64{0 - dt*1*1, 1 - dt*2, 2 - dt*2, 3 - dt*2, 4 - dt*1}
	assert.InDeltaSlice(t, want, rhs, 1e-15)

	assert.Panics(t, func() { s.EvolutionRHS(b[:3], u, nil, nil) })
}

// ============================================================================
// Patterns
// ============================================================================

func TestBlockPatterns_MatchLayout(t *testing.T) {
	s := newStaggered(t, testBox(), nil)
	blocks := s.BlockPatterns()
	require.Len(t, blocks, int(layout.NumBlocks))
	for b, blk := range blocks {
		r, c := blk.Pattern.Dims()
		assert.Equal(t, s.Layout().Sizes[b], r, blk.Name)
		assert.Equal(t, r, c)
	}
	assert.Equal(t, "p", blocks[layout.P].Name)
	n, _ := s.ScalarPattern().Dims()
	assert.Equal(t, s.Mesh().Cells(), n)
}

func TestNewStaggered_Validates(t *testing.T) {
	p := config.DefaultConfig().Physics
	_, err := NewStaggered(mesh.Box{Nx: 0, Ny: 1, Nz: 1, Lx: 1, Ly: 1, Lz: 1}, p)
	assert.Error(t, err)
	p.Dt = 0
	_, err = NewStaggered(testBox(), p)
	assert.Error(t, err)
}
