package assembly

import (
	"fmt"

	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/layout"
	"github.com/notargets/KrylovStepper/mesh"
	"github.com/notargets/KrylovStepper/reorder"
	"github.com/notargets/KrylovStepper/spmat"
)

var axes = [3]mesh.Axis{mesh.X, mesh.Y, mesh.Z}

// Staggered is a marker-and-cell finite volume discretization: velocity
// components on interior faces normal to their own axis, pressure and
// buoyancy at cell centres. Walls are impermeable and free-slip; the scalar
// has no flux through the walls. The last cell's pressure is pinned.
type Staggered struct {
	box    mesh.Box
	params config.PhysicalParameters
	lay    layout.Layout
	h      [3]float64
}

// NewStaggered validates the mesh and parameters and prepares the discretization
func NewStaggered(box mesh.Box, p config.PhysicalParameters) (*Staggered, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Staggered{box: box, params: p, lay: layout.FromBox(box), h: box.H()}, nil
}

func (s *Staggered) Mesh() mesh.Box                    { return s.box }
func (s *Staggered) Params() config.PhysicalParameters { return s.params }
func (s *Staggered) Layout() layout.Layout             { return s.lay }
func (s *Staggered) EvolutionSymmetric() bool          { return s.params.Symmetric() }

// velocity returns the global index of face f of component a
func (s *Staggered) velocity(a mesh.Axis, f int) int { return s.lay.Offsets[a] + f }

// pressure returns the global index of cell c's pressure, -1 for the pinned cell
func (s *Staggered) pressure(c int) int {
	if c < 0 || c >= s.lay.Sizes[layout.P] {
		return -1
	}
	return s.lay.Offsets[layout.P] + c
}

func shift(idx [3]int, a mesh.Axis, d int) [3]int {
	idx[a] += d
	return idx
}

// faceLaplacian adds scale·(-∇²) for component a at offset off. Along its own
// axis the wall value is zero (Dirichlet); across the other axes the wall is
// free-slip (zero normal derivative).
func (s *Staggered) faceLaplacian(t *spmat.Triplet, a mesh.Axis, off int, scale float64) {
	for f := 0; f < s.box.Faces(a); f++ {
		i, j, k := s.box.FaceIJK(a, f)
		idx := [3]int{i, j, k}
		var diag float64
		for _, d := range axes {
			c := scale / (s.h[d] * s.h[d])
			for _, step := range []int{-1, 1} {
				n := shift(idx, d, step)
				if nb := s.box.Face(a, n[0], n[1], n[2]); nb >= 0 {
					t.Put(off+f, off+nb, -c)
					diag += c
				} else if d == a {
					diag += c
				}
			}
		}
		t.Put(off+f, off+f, diag)
	}
}

// cellLaplacian adds scale·(-∇²) with no-flux walls over the first n cells at
// offset off; neighbours at or beyond n are left out.
func (s *Staggered) cellLaplacian(t *spmat.Triplet, n, off int, scale float64) {
	for c := 0; c < n; c++ {
		i, j, k := s.box.CellIJK(c)
		idx := [3]int{i, j, k}
		var diag float64
		for _, d := range axes {
			w := scale / (s.h[d] * s.h[d])
			for _, step := range []int{-1, 1} {
				m := shift(idx, d, step)
				nb := s.box.CellOrNone(m[0], m[1], m[2])
				if nb < 0 || nb >= n {
					continue
				}
				t.Put(off+c, off+nb, -w)
				diag += w
			}
		}
		t.Put(off+c, off+c, diag)
	}
}

// coupling adds coef times the four-point average of component b onto the
// faces of component a. The stencil is symmetric between a and b, so adding
// coupling(a, b, x) and coupling(b, a, -x) gives a skew-symmetric block pair.
func (s *Staggered) coupling(t *spmat.Triplet, a, b mesh.Axis, coef float64) {
	if coef == 0 {
		return
	}
	for f := 0; f < s.box.Faces(a); f++ {
		i, j, k := s.box.FaceIJK(a, f)
		lo := [3]int{i, j, k}
		for _, cell := range [][3]int{lo, shift(lo, a, 1)} {
			for _, m := range []int{-1, 0} {
				n := shift(cell, b, m)
				if g := s.box.Face(b, n[0], n[1], n[2]); g >= 0 {
					t.Put(s.velocity(a, f), s.velocity(b, g), coef/4)
				}
			}
		}
	}
}

// InversionOperator assembles
//
//	-E∇²u - f v + f̃ w + ∂x p = 0
//	-E∇²v + f u       + ∂y p = 0
//	-E∇²w - f̃ u       + ∂z p = Γ b
//	∇·u = 0 (sign chosen so the constraint block is the transpose of the gradient)
func (s *Staggered) InversionOperator() (*spmat.CSR, error) {
	n := s.lay.N()
	t := spmat.NewTriplet(n, n, 16*n)
	for _, a := range axes {
		s.faceLaplacian(t, a, s.lay.Offsets[a], s.params.Ekman)
	}
	fc, ft := s.params.Coriolis, s.params.CoriolisTilde
	s.coupling(t, mesh.X, mesh.Y, -fc)
	s.coupling(t, mesh.Y, mesh.X, fc)
	s.coupling(t, mesh.X, mesh.Z, ft)
	s.coupling(t, mesh.Z, mesh.X, -ft)

	for _, a := range axes {
		inv := 1 / s.h[a]
		for f := 0; f < s.box.Faces(a); f++ {
			i, j, k := s.box.FaceIJK(a, f)
			lo := [3]int{i, j, k}
			hi := shift(lo, a, 1)
			row := s.velocity(a, f)
			if p := s.pressure(s.box.Cell(lo[0], lo[1], lo[2])); p >= 0 {
				t.Put(row, p, -inv)
				t.Put(p, row, -inv)
			}
			if p := s.pressure(s.box.Cell(hi[0], hi[1], hi[2])); p >= 0 {
				t.Put(row, p, inv)
				t.Put(p, row, inv)
			}
		}
	}
	for c := 0; c < s.lay.Sizes[layout.P]; c++ {
		t.Put(s.pressure(c), s.pressure(c), 0)
	}
	return t.ToCSR(), nil
}

// BuoyancyOperator interpolates Γ b onto the w faces
func (s *Staggered) BuoyancyOperator() (*spmat.CSR, error) {
	cells := s.box.Cells()
	t := spmat.NewTriplet(s.lay.N(), cells, 2*s.box.Faces(mesh.Z))
	half := s.params.Buoyancy / 2
	for f := 0; f < s.box.Faces(mesh.Z); f++ {
		i, j, k := s.box.FaceIJK(mesh.Z, f)
		row := s.velocity(mesh.Z, f)
		t.Put(row, s.box.Cell(i, j, k), half)
		t.Put(row, s.box.Cell(i, j, k+1), half)
	}
	return t.ToCSR(), nil
}

// EvolutionOperator assembles I + Δt κ L + Δt A(U₀): backward Euler diffusion
// plus first-order upwind advection by the constant mean flow in flux form.
func (s *Staggered) EvolutionOperator() (*spmat.CSR, error) {
	n := s.box.Cells()
	dt := s.params.Dt
	t := spmat.NewTriplet(n, n, 13*n)
	for c := 0; c < n; c++ {
		t.Put(c, c, 1)
	}
	s.cellLaplacian(t, n, 0, dt*s.params.Kappa)
	for _, a := range axes {
		vel := s.params.MeanFlow[a]
		if vel == 0 {
			continue
		}
		w := dt * vel / s.h[a]
		for c := 0; c < n; c++ {
			i, j, k := s.box.CellIJK(c)
			idx := [3]int{i, j, k}
			up, down := shift(idx, a, 1), shift(idx, a, -1)
			next := s.box.CellOrNone(up[0], up[1], up[2])
			prev := s.box.CellOrNone(down[0], down[1], down[2])
			if vel > 0 {
				if next >= 0 {
					t.Put(c, c, w)
				}
				if prev >= 0 {
					t.Put(c, prev, -w)
				}
			} else {
				if next >= 0 {
					t.Put(c, next, w)
				}
				if prev >= 0 {
					t.Put(c, c, -w)
				}
			}
		}
	}
	return t.ToCSR(), nil
}

// EvolutionRHS returns bⁿ - Δt (u·∇bⁿ) with the face velocities averaged to
// cell centres and central gradients, one-sided at the walls
func (s *Staggered) EvolutionRHS(b, u, v, w []float64) []float64 {
	n := s.box.Cells()
	if len(b) != n {
		panic(fmt.Sprintf("assembly: scalar field length %d, want %d", len(b), n))
	}
	vel := [3][]float64{u, v, w}
	for _, a := range axes {
		if len(vel[a]) != s.lay.Sizes[a] {
			panic(fmt.Sprintf("assembly: velocity %v length %d, want %d", a, len(vel[a]), s.lay.Sizes[a]))
		}
	}
	dt := s.params.Dt
	rhs := make([]float64, n)
	copy(rhs, b)
	for c := 0; c < n; c++ {
		i, j, k := s.box.CellIJK(c)
		idx := [3]int{i, j, k}
		for _, a := range axes {
			var uc float64
			lo := shift(idx, a, -1)
			if f := s.box.Face(a, lo[0], lo[1], lo[2]); f >= 0 {
				uc += vel[a][f]
			}
			if f := s.box.Face(a, i, j, k); f >= 0 {
				uc += vel[a][f]
			}
			if uc == 0 {
				continue
			}
			rhs[c] -= dt * 0.5 * uc * s.gradient(b, idx, a)
		}
	}
	return rhs
}

func (s *Staggered) gradient(b []float64, idx [3]int, a mesh.Axis) float64 {
	c := s.box.Cell(idx[0], idx[1], idx[2])
	up, down := shift(idx, a, 1), shift(idx, a, -1)
	next := s.box.CellOrNone(up[0], up[1], up[2])
	prev := s.box.CellOrNone(down[0], down[1], down[2])
	h := s.h[a]
	switch {
	case next >= 0 && prev >= 0:
		return (b[next] - b[prev]) / (2 * h)
	case next >= 0:
		return (b[next] - b[c]) / h
	case prev >= 0:
		return (b[c] - b[prev]) / h
	}
	return 0
}

// BlockPatterns returns the auxiliary adjacency of each variable block in
// layout order: the component Laplacians, then the cell adjacency of the
// unpinned pressures
func (s *Staggered) BlockPatterns() []reorder.Block {
	blocks := make([]reorder.Block, 0, layout.NumBlocks)
	for _, a := range axes {
		n := s.box.Faces(a)
		t := spmat.NewTriplet(n, n, 7*n)
		s.faceLaplacian(t, a, 0, 1)
		blocks = append(blocks, reorder.Block{Name: layout.Block(a).String(), Pattern: t.ToCSR()})
	}
	np := s.lay.Sizes[layout.P]
	t := spmat.NewTriplet(np, np, 7*np)
	s.cellLaplacian(t, np, 0, 1)
	return append(blocks, reorder.Block{Name: layout.P.String(), Pattern: t.ToCSR()})
}

// ScalarPattern returns the cell adjacency of the scalar field
func (s *Staggered) ScalarPattern() *spmat.CSR {
	n := s.box.Cells()
	t := spmat.NewTriplet(n, n, 7*n)
	s.cellLaplacian(t, n, 0, 1)
	return t.ToCSR()
}

var _ Assembler = (*Staggered)(nil)
