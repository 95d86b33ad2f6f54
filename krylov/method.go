package krylov

import (
	"math"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/linalg"
)

// System is the linear system a Method iterates on
type System struct {
	Backend linalg.Backend
	A       arch.Matrix
	M       Preconditioner
	N       int
}

// Method is an iterative solver. Solve starts from the current contents of x,
// updates it in place and stops once the residual norm is at or below tol or
// after maxIter iterations. It records every residual norm in st.
type Method interface {
	Name() string
	Solve(sys *System, x, b arch.Vector, tol float64, maxIter int, st *Stats) error
	Release(sys *System)
}

// residual computes r = b - A x and returns ‖r‖
func residual(sys *System, r, x, b arch.Vector) float64 {
	sys.Backend.SpMV(r, sys.A, x)
	sys.Backend.Scale(-1, r)
	sys.Backend.Axpy(1, b, r)
	return sys.Backend.Norm(r)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func newVectors(b linalg.Backend, n, count int) []arch.Vector {
	out := make([]arch.Vector, count)
	for i := range out {
		out[i] = b.NewVector(n)
	}
	return out
}

func releaseVectors(b linalg.Backend, vs []arch.Vector) {
	for _, v := range vs {
		if v != nil {
			b.Release(v)
		}
	}
}
