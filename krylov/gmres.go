package krylov

import (
	"math"

	"github.com/notargets/KrylovStepper/arch"
)

// GMRES is restarted GMRES(m) with right preconditioning, modified
// Gram-Schmidt orthogonalization and Givens rotations. An iteration is one
// Arnoldi step.
type GMRES struct {
	Restart int

	v         []arch.Vector // Krylov basis, Restart+1 vectors
	w, z, r   arch.Vector
	h         [][]float64 // Hessenberg matrix, column major: h[j][i]
	cs, sn, g []float64
}

func (m *GMRES) Name() string { return "gmres" }

func (m *GMRES) init(sys *System) {
	if m.Restart < 1 {
		m.Restart = 20
	}
	if len(m.v) == m.Restart+1 {
		return
	}
	m.v = newVectors(sys.Backend, sys.N, m.Restart+1)
	ws := newVectors(sys.Backend, sys.N, 3)
	m.w, m.z, m.r = ws[0], ws[1], ws[2]
	m.h = make([][]float64, m.Restart)
	for j := range m.h {
		m.h[j] = make([]float64, m.Restart+1)
	}
	m.cs = make([]float64, m.Restart)
	m.sn = make([]float64, m.Restart)
	m.g = make([]float64, m.Restart+1)
}

func (m *GMRES) Release(sys *System) {
	releaseVectors(sys.Backend, m.v)
	releaseVectors(sys.Backend, []arch.Vector{m.w, m.z, m.r})
	m.v = nil
}

func givens(a, b float64) (c, s float64) {
	if b == 0 {
		return 1, 0
	}
	r := math.Hypot(a, b)
	return a / r, b / r
}

func (m *GMRES) Solve(sys *System, x, b arch.Vector, tol float64, maxIter int, st *Stats) error {
	m.init(sys)
	be := sys.Backend
	beta := residual(sys, m.r, x, b)
	st.MatVec++
	st.record(beta)
	for beta > tol && finite(beta) && st.Iterations < maxIter {
		be.Copy(m.v[0], m.r)
		be.Scale(1/beta, m.v[0])
		for i := range m.g {
			m.g[i] = 0
		}
		m.g[0] = beta

		k := 0
		for k < m.Restart && st.Iterations < maxIter {
			if err := sys.M.Apply(m.z, m.v[k]); err != nil {
				return err
			}
			st.PSolve++
			be.SpMV(m.w, sys.A, m.z)
			st.MatVec++
			hk := m.h[k]
			for i := 0; i <= k; i++ {
				hk[i] = be.Dot(m.w, m.v[i])
				be.Axpy(-hk[i], m.v[i], m.w)
			}
			hk[k+1] = be.Norm(m.w)
			invariant := hk[k+1] == 0
			if !invariant {
				be.Copy(m.v[k+1], m.w)
				be.Scale(1/hk[k+1], m.v[k+1])
			}
			for i := 0; i < k; i++ {
				hk[i], hk[i+1] = m.cs[i]*hk[i]+m.sn[i]*hk[i+1], -m.sn[i]*hk[i]+m.cs[i]*hk[i+1]
			}
			m.cs[k], m.sn[k] = givens(hk[k], hk[k+1])
			hk[k] = m.cs[k]*hk[k] + m.sn[k]*hk[k+1]
			hk[k+1] = 0
			m.g[k+1] = -m.sn[k] * m.g[k]
			m.g[k] = m.cs[k] * m.g[k]

			st.Iterations++
			k++
			est := math.Abs(m.g[k])
			st.record(est)
			if !finite(est) || est <= tol || invariant {
				break
			}
		}

		// y = H⁻¹ g by back substitution, then x += M⁻¹ V y
		y := make([]float64, k)
		for i := k - 1; i >= 0; i-- {
			s := m.g[i]
			for j := i + 1; j < k; j++ {
				s -= m.h[j][i] * y[j]
			}
			if m.h[i][i] == 0 {
				continue
			}
			y[i] = s / m.h[i][i]
		}
		be.Fill(m.w, 0)
		for i := 0; i < k; i++ {
			be.Axpy(y[i], m.v[i], m.w)
		}
		if err := sys.M.Apply(m.z, m.w); err != nil {
			return err
		}
		st.PSolve++
		be.Axpy(1, m.z, x)

		beta = residual(sys, m.r, x, b)
		st.MatVec++
		st.Residuals[len(st.Residuals)-1] = beta
		if err := be.Err(); err != nil {
			return err
		}
	}
	st.ResidualNorm = beta
	return be.Err()
}
