package krylov

import (
	"github.com/notargets/KrylovStepper/arch"
)

// BiCGStab is the right-preconditioned stabilized biconjugate gradient method
// for non-symmetric operators. An iteration is one full step (two operator
// applications).
type BiCGStab struct {
	r, rhat, p, v, s, t, phat, shat arch.Vector
}

func (m *BiCGStab) Name() string { return "bicgstab" }

func (m *BiCGStab) init(sys *System) {
	if m.r != nil {
		return
	}
	ws := newVectors(sys.Backend, sys.N, 8)
	m.r, m.rhat, m.p, m.v, m.s, m.t, m.phat, m.shat = ws[0], ws[1], ws[2], ws[3], ws[4], ws[5], ws[6], ws[7]
}

func (m *BiCGStab) Release(sys *System) {
	releaseVectors(sys.Backend, []arch.Vector{m.r, m.rhat, m.p, m.v, m.s, m.t, m.phat, m.shat})
	m.r = nil
}

func (m *BiCGStab) Solve(sys *System, x, b arch.Vector, tol float64, maxIter int, st *Stats) error {
	m.init(sys)
	be := sys.Backend
	res := residual(sys, m.r, x, b)
	st.MatVec++
	st.record(res)
	if res <= tol || !finite(res) || maxIter == 0 {
		st.ResidualNorm = res
		return be.Err()
	}
	be.Copy(m.rhat, m.r)
	be.Fill(m.p, 0)
	be.Fill(m.v, 0)
	rho, alpha, omega := 1.0, 1.0, 1.0

	for st.Iterations < maxIter {
		rhoNext := be.Dot(m.rhat, m.r)
		if rhoNext == 0 {
			break
		}
		beta := (rhoNext / rho) * (alpha / omega)
		rho = rhoNext
		// p = r + β (p - ω v)
		be.Axpy(-omega, m.v, m.p)
		be.Scale(beta, m.p)
		be.Axpy(1, m.r, m.p)

		if err := sys.M.Apply(m.phat, m.p); err != nil {
			return err
		}
		st.PSolve++
		be.SpMV(m.v, sys.A, m.phat)
		st.MatVec++
		rv := be.Dot(m.rhat, m.v)
		if rv == 0 {
			break
		}
		alpha = rho / rv

		// s = r - α v
		be.Copy(m.s, m.r)
		be.Axpy(-alpha, m.v, m.s)
		if sn := be.Norm(m.s); sn <= tol || !finite(sn) {
			be.Axpy(alpha, m.phat, x)
			st.Iterations++
			res = sn
			st.record(res)
			break
		}

		if err := sys.M.Apply(m.shat, m.s); err != nil {
			return err
		}
		st.PSolve++
		be.SpMV(m.t, sys.A, m.shat)
		st.MatVec++
		tt := be.Dot(m.t, m.t)
		if tt == 0 {
			break
		}
		omega = be.Dot(m.t, m.s) / tt
		be.Axpy(alpha, m.phat, x)
		be.Axpy(omega, m.shat, x)
		be.Copy(m.r, m.s)
		be.Axpy(-omega, m.t, m.r)

		st.Iterations++
		res = be.Norm(m.r)
		st.record(res)
		if res <= tol || !finite(res) || omega == 0 {
			break
		}
	}
	st.ResidualNorm = res
	return be.Err()
}
