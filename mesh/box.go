// Package mesh provides the uniform box mesh the discretization collaborator
// works on. Velocity unknowns live on interior faces (walls carry no normal flow),
// pressure and scalar unknowns live at cell centres.
package mesh

import (
	"fmt"
	"math"
)

// Axis names a coordinate direction
type Axis int

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	return [...]string{"x", "y", "z"}[a]
}

// Box is an Nx × Ny × Nz uniform cell mesh of [0,Lx]×[0,Ly]×[0,Lz]
type Box struct {
	Nx, Ny, Nz int
	Lx, Ly, Lz float64
}

// Validate checks the mesh dimensions
func (b Box) Validate() error {
	if b.Nx < 1 || b.Ny < 1 || b.Nz < 1 {
		return fmt.Errorf("mesh: cell counts must be positive, got %dx%dx%d", b.Nx, b.Ny, b.Nz)
	}
	if b.Lx <= 0 || b.Ly <= 0 || b.Lz <= 0 {
		return fmt.Errorf("mesh: extents must be positive, got %gx%gx%g", b.Lx, b.Ly, b.Lz)
	}
	return nil
}

// Dims returns the cell counts along each axis
func (b Box) Dims() [3]int { return [3]int{b.Nx, b.Ny, b.Nz} }

// H returns the cell widths
func (b Box) H() [3]float64 {
	return [3]float64{b.Lx / float64(b.Nx), b.Ly / float64(b.Ny), b.Lz / float64(b.Nz)}
}

// Cells returns the number of cells
func (b Box) Cells() int { return b.Nx * b.Ny * b.Nz }

// Cell returns the linear cell index of (i, j, k)
func (b Box) Cell(i, j, k int) int { return i + b.Nx*(j+b.Ny*k) }

// CellIJK inverts Cell
func (b Box) CellIJK(c int) (i, j, k int) {
	i = c % b.Nx
	j = (c / b.Nx) % b.Ny
	k = c / (b.Nx * b.Ny)
	return
}

// CellCenter returns the coordinates of a cell centre
func (b Box) CellCenter(c int) [3]float64 {
	i, j, k := b.CellIJK(c)
	h := b.H()
	return [3]float64{(float64(i) + 0.5) * h[0], (float64(j) + 0.5) * h[1], (float64(k) + 0.5) * h[2]}
}

// FaceDims returns the index extents of the interior faces normal to axis a.
// Along a itself there is one fewer face than cells.
func (b Box) FaceDims(a Axis) [3]int {
	d := b.Dims()
	d[a]--
	return d
}

// Faces returns the number of interior faces normal to axis a
func (b Box) Faces(a Axis) int {
	d := b.FaceDims(a)
	return d[0] * d[1] * d[2]
}

// Face returns the linear index of the interior face normal to a with index
// (i, j, k) in FaceDims(a) coordinates, or -1 when out of range. The face with
// index i along its own axis separates cells i and i+1.
func (b Box) Face(a Axis, i, j, k int) int {
	d := b.FaceDims(a)
	if i < 0 || j < 0 || k < 0 || i >= d[0] || j >= d[1] || k >= d[2] {
		return -1
	}
	return i + d[0]*(j+d[1]*k)
}

// FaceIJK inverts Face
func (b Box) FaceIJK(a Axis, f int) (i, j, k int) {
	d := b.FaceDims(a)
	i = f % d[0]
	j = (f / d[0]) % d[1]
	k = f / (d[0] * d[1])
	return
}

// CellOrNone returns the linear cell index or -1 when (i, j, k) is outside the box
func (b Box) CellOrNone(i, j, k int) int {
	if i < 0 || j < 0 || k < 0 || i >= b.Nx || j >= b.Ny || k >= b.Nz {
		return -1
	}
	return b.Cell(i, j, k)
}

// CellSpeed averages the interior face velocities u, v, w onto cell c and
// returns the magnitude of the cell-centred vector. Wall faces carry no
// normal flow.
func (b Box) CellSpeed(u, v, w []float64, c int) float64 {
	i, j, k := b.CellIJK(c)
	var sum float64
	for a, vel := range [3][]float64{u, v, w} {
		axis := Axis(a)
		idx := [3]int{i, j, k}
		var uc float64
		if f := b.Face(axis, i, j, k); f >= 0 && f < len(vel) {
			uc += vel[f]
		}
		idx[a]--
		if f := b.Face(axis, idx[0], idx[1], idx[2]); f >= 0 && f < len(vel) {
			uc += vel[f]
		}
		sum += 0.25 * uc * uc
	}
	return math.Sqrt(sum)
}

func (b Box) String() string {
	return fmt.Sprintf("%dx%dx%d cells on [0,%g]x[0,%g]x[0,%g]", b.Nx, b.Ny, b.Nz, b.Lx, b.Ly, b.Lz)
}
