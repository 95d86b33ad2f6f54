// Package krylov solves the sparse linear systems of the time integrator with
// preconditioned Krylov methods. The algorithms are written once against
// linalg.Backend and run unchanged on host or accelerator.
package krylov

import (
	"fmt"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/reorder"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
)

// Operator is a square matrix in solver ordering together with the
// permutation that produced it. It is immutable once built and is shared
// read-only by every solve.
type Operator struct {
	// Matrix is P A Pᵀ on the host
	Matrix    *spmat.CSR
	Perm      reorder.Permutation
	Symmetric bool
	// target is Matrix resident on the adapter's architecture
	target  arch.Matrix
	adapter *arch.Adapter
}

// NewOperator permutes a once and moves it to the adapter's architecture
func NewOperator(adapter *arch.Adapter, a *spmat.CSR, perm reorder.Permutation, symmetric bool) (*Operator, error) {
	r, c := a.Dims()
	if r != c {
		return nil, simerr.Configuration("operator must be square, got %dx%d", r, c)
	}
	if perm.Len() != r {
		return nil, simerr.Configuration("permutation of length %d for operator of dimension %d", perm.Len(), r)
	}
	if err := perm.Validate(); err != nil {
		return nil, simerr.Configuration("operator permutation: %v", err)
	}
	permuted := spmat.PermuteSymmetric(a, perm.Inverse)
	target, err := adapter.MatrixTo(&arch.HostMatrix{CSR: permuted}, adapter.Kind())
	if err != nil {
		return nil, fmt.Errorf("move operator to %v: %w", adapter.Kind(), err)
	}
	return &Operator{Matrix: permuted, Perm: perm, Symmetric: symmetric, target: target, adapter: adapter}, nil
}

// Dim returns the operator dimension
func (op *Operator) Dim() int { return op.Matrix.Rows }

// Target returns the operator on the adapter's architecture
func (op *Operator) Target() arch.Matrix { return op.target }

// Release frees device copies
func (op *Operator) Release() {
	op.adapter.Release(op.target)
}
