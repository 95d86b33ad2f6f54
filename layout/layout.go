// Package layout fixes the global degree-of-freedom ordering of the coupled
// system: [velocity_x; velocity_y; velocity_z; pressure]. Pressure carries one
// fewer free DOF than it has cells because the last cell is pinned by the
// zero-mean constraint.
package layout

import (
	"fmt"

	"github.com/notargets/KrylovStepper/mesh"
)

// Block identifies one variable block of the global vector
type Block int

const (
	U Block = iota
	V
	W
	P
	NumBlocks
)

func (b Block) String() string {
	switch b {
	case U:
		return "u"
	case V:
		return "v"
	case W:
		return "w"
	case P:
		return "p"
	}
	return fmt.Sprintf("block(%d)", int(b))
}

// Layout represents a global vector distributed across variable blocks.
// Block b occupies [Offsets[b], Offsets[b+1]).
type Layout struct {
	Sizes   [NumBlocks]int
	Offsets [NumBlocks + 1]int
}

// New builds a layout from block sizes
func New(nu, nv, nw, np int) Layout {
	var l Layout
	l.Sizes = [NumBlocks]int{nu, nv, nw, np}
	for b := 0; b < int(NumBlocks); b++ {
		if l.Sizes[b] < 0 {
			panic(fmt.Sprintf("layout: negative size for block %v", Block(b)))
		}
		l.Offsets[b+1] = l.Offsets[b] + l.Sizes[b]
	}
	return l
}

// FromBox derives the staggered layout of a box mesh: interior face velocities
// and cell pressures minus the pinned cell.
func FromBox(box mesh.Box) Layout {
	return New(box.Faces(mesh.X), box.Faces(mesh.Y), box.Faces(mesh.Z), box.Cells()-1)
}

// N returns the global dimension nu + nv + nw + np - 1
func (l Layout) N() int { return l.Offsets[NumBlocks] }

// PressureCells returns the nominal pressure count, pinned cell included
func (l Layout) PressureCells() int { return l.Sizes[P] + 1 }

// Range returns the half open index range of block b
func (l Layout) Range(b Block) (start, end int) {
	return l.Offsets[b], l.Offsets[b+1]
}

// Block returns the slice of x belonging to block b. The result aliases x.
func (l Layout) Block(x []float64, b Block) []float64 {
	l.check(x)
	return x[l.Offsets[b]:l.Offsets[b+1]:l.Offsets[b+1]]
}

// Split copies x into its four per-block vectors
func (l Layout) Split(x []float64) (u, v, w, p []float64) {
	l.check(x)
	out := make([][]float64, NumBlocks)
	for b := range out {
		out[b] = make([]float64, l.Sizes[b])
		copy(out[b], x[l.Offsets[b]:l.Offsets[b+1]])
	}
	return out[U], out[V], out[W], out[P]
}

// Join concatenates the four per-block vectors into a new global vector
func (l Layout) Join(u, v, w, p []float64) []float64 {
	x := make([]float64, l.N())
	for b, src := range [][]float64{u, v, w, p} {
		if len(src) != l.Sizes[b] {
			panic(fmt.Sprintf("layout: block %v has length %d, want %d", Block(b), len(src), l.Sizes[b]))
		}
		copy(x[l.Offsets[b]:], src)
	}
	return x
}

func (l Layout) check(x []float64) {
	if len(x) != l.N() {
		panic(fmt.Sprintf("layout: vector length %d, want %d", len(x), l.N()))
	}
}
