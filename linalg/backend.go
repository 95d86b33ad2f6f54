// Package linalg provides the vector and sparse kernels the Krylov methods are
// written against, with one implementation per architecture.
package linalg

import (
	"github.com/notargets/KrylovStepper/arch"
)

// Backend performs vector and sparse operations on values resident on one
// architecture. Device failures are sticky: the first one is kept and reported
// by Err, and later operations become no-ops.
type Backend interface {
	Kind() arch.Kind
	NewVector(n int) arch.Vector
	Release(v arch.Vector)
	Upload(dst arch.Vector, src []float64)
	Download(dst []float64, src arch.Vector)

	Copy(dst, src arch.Vector)
	Fill(x arch.Vector, alpha float64)
	// Axpy computes y += alpha x
	Axpy(alpha float64, x, y arch.Vector)
	Scale(alpha float64, x arch.Vector)
	Dot(x, y arch.Vector) float64
	Norm(x arch.Vector) float64
	// SpMV computes dst = A x
	SpMV(dst arch.Vector, a arch.Matrix, x arch.Vector)
	// PointwiseMul computes dst[i] = x[i] y[i]
	PointwiseMul(dst, x, y arch.Vector)
	AllFinite(x arch.Vector) bool

	Err() error
}

// New returns the backend matching the adapter's architecture
func New(a *arch.Adapter) Backend {
	if a.Kind() == arch.Accelerator {
		return NewDevice(a)
	}
	return Host{}
}
