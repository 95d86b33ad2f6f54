// Package assembly discretizes the rotating Boussinesq system on a box mesh.
// It is the operator factory the cache calls on a miss, and the per-step
// right-hand-side evaluator of the scalar Evolution problem.
package assembly

import (
	"github.com/notargets/KrylovStepper/layout"
	"github.com/notargets/KrylovStepper/mesh"
	"github.com/notargets/KrylovStepper/reorder"
	"github.com/notargets/KrylovStepper/spmat"
)

// Operator names, used as cache key prefixes
const (
	Inversion = "inversion"
	Buoyancy  = "buoyancy"
	Evolution = "evolution"
)

// Assembler builds the operators of the coupled system. Rows and columns of
// the Inversion operator follow the global layout [u; v; w; p'], scalar
// operators are indexed by cell.
type Assembler interface {
	Mesh() mesh.Box
	Layout() layout.Layout
	// InversionOperator returns the saddle-point velocity/pressure matrix (N × N)
	InversionOperator() (*spmat.CSR, error)
	// BuoyancyOperator maps the scalar field onto the Inversion right-hand side (N × cells)
	BuoyancyOperator() (*spmat.CSR, error)
	// EvolutionOperator returns the implicit scalar step matrix (cells × cells)
	EvolutionOperator() (*spmat.CSR, error)
	// EvolutionRHS evaluates the explicit part of the scalar step
	EvolutionRHS(b, u, v, w []float64) []float64
	// EvolutionSymmetric reports whether the Evolution operator is symmetric
	EvolutionSymmetric() bool
	BlockPatterns() []reorder.Block
	ScalarPattern() *spmat.CSR
}
