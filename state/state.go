// Package state holds the prognostic fields of a run and persists them as
// numbered checkpoints.
package state

import (
	"math"

	"github.com/notargets/KrylovStepper/layout"
	"github.com/notargets/KrylovStepper/mesh"
	"gonum.org/v1/gonum/floats"
)

// Simulation is the state of a run after SaveIndex checkpoints. Velocity
// components live on the interior faces of their axis, P and B at cell
// centres; P has one entry per cell with zero mean.
type Simulation struct {
	U, V, W []float64
	P       []float64
	B       []float64

	Time      float64
	SaveIndex int
}

// New returns a zero state sized for lay. P carries every cell, the pinned
// one included.
func New(lay layout.Layout) Simulation {
	return Simulation{
		U: make([]float64, lay.Sizes[layout.U]),
		V: make([]float64, lay.Sizes[layout.V]),
		W: make([]float64, lay.Sizes[layout.W]),
		P: make([]float64, lay.PressureCells()),
		B: make([]float64, lay.PressureCells()),
	}
}

func clone(x []float64) []float64 {
	if x == nil {
		return nil
	}
	return append(make([]float64, 0, len(x)), x...)
}

// Clone returns a deep copy
func (s Simulation) Clone() Simulation {
	c := s
	c.U, c.V, c.W, c.P, c.B = clone(s.U), clone(s.V), clone(s.W), clone(s.P), clone(s.B)
	return c
}

// Finite reports whether every field value and the time are finite
func (s Simulation) Finite() bool {
	if math.IsNaN(s.Time) || math.IsInf(s.Time, 0) {
		return false
	}
	for _, f := range [][]float64{s.U, s.V, s.W, s.P, s.B} {
		if floats.HasNaN(f) {
			return false
		}
		for _, v := range f {
			if math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// MaxSpeed is the largest cell-centred velocity magnitude on box
func (s Simulation) MaxSpeed(box mesh.Box) float64 {
	var m float64
	for c := 0; c < box.Cells(); c++ {
		m = math.Max(m, box.CellSpeed(s.U, s.V, s.W, c))
	}
	return m
}
