package main

import (
	"math"

	"github.com/notargets/KrylovStepper/mesh"
)

// Perturbation is a stable linear stratification b = z/Lz plus a smooth
// cosine bump of the given amplitude that satisfies the no-flux walls
func Perturbation(box mesh.Box, amplitude float64) []float64 {
	b := make([]float64, box.Cells())
	for c := range b {
		x := box.CellCenter(c)
		b[c] = x[2]/box.Lz + amplitude*
			math.Cos(math.Pi*x[0]/box.Lx)*math.Cos(math.Pi*x[1]/box.Ly)*math.Cos(math.Pi*x[2]/box.Lz)
	}
	return b
}
