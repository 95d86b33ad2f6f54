package krylov

import (
	"github.com/notargets/KrylovStepper/arch"
)

// CG is the preconditioned conjugate gradient method for symmetric positive
// definite operators with a symmetric preconditioner
type CG struct {
	r, z, p, q arch.Vector
}

func (m *CG) Name() string { return "cg" }

func (m *CG) init(sys *System) {
	if m.r != nil {
		return
	}
	ws := newVectors(sys.Backend, sys.N, 4)
	m.r, m.z, m.p, m.q = ws[0], ws[1], ws[2], ws[3]
}

func (m *CG) Release(sys *System) {
	releaseVectors(sys.Backend, []arch.Vector{m.r, m.z, m.p, m.q})
	m.r = nil
}

func (m *CG) Solve(sys *System, x, b arch.Vector, tol float64, maxIter int, st *Stats) error {
	m.init(sys)
	be := sys.Backend
	res := residual(sys, m.r, x, b)
	st.MatVec++
	st.record(res)
	if res <= tol || !finite(res) || maxIter == 0 {
		st.ResidualNorm = res
		return be.Err()
	}
	if err := sys.M.Apply(m.z, m.r); err != nil {
		return err
	}
	st.PSolve++
	be.Copy(m.p, m.z)
	rz := be.Dot(m.r, m.z)

	for st.Iterations < maxIter {
		be.SpMV(m.q, sys.A, m.p)
		st.MatVec++
		pq := be.Dot(m.p, m.q)
		if pq == 0 {
			break
		}
		alpha := rz / pq
		be.Axpy(alpha, m.p, x)
		be.Axpy(-alpha, m.q, m.r)
		st.Iterations++
		res = be.Norm(m.r)
		st.record(res)
		if res <= tol || !finite(res) {
			break
		}
		if err := sys.M.Apply(m.z, m.r); err != nil {
			return err
		}
		st.PSolve++
		rzNext := be.Dot(m.r, m.z)
		be.Scale(rzNext/rz, m.p)
		be.Axpy(1, m.z, m.p)
		rz = rzNext
	}
	st.ResidualNorm = res
	return be.Err()
}
