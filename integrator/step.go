package integrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/notargets/KrylovStepper/krylov"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/sirupsen/logrus"
)

// Step advances one Δt. The new fields are staged and only committed once
// both solves have produced finite values and the blow-up check has passed,
// so a failed step never changes State().
func (it *Integrator) Step() error {
	if it.fatal != nil {
		return it.terminated()
	}
	next := it.sim.Clone()
	stats := StepStats{Step: it.step + 1}

	// scalar: explicit advection into the right-hand side, implicit diffusion
	rhs := it.asm.EvolutionRHS(it.sim.B, it.sim.U, it.sim.V, it.sim.W)
	evoOp := it.evolution.Operator()
	evoOp.Perm.Apply(it.rhsE, rhs)
	st, err := it.evolution.Solve(it.rhsE)
	stats.Evolution = st
	if err != nil {
		return it.solveFailed(err)
	}
	it.evolution.Solution(it.solE)
	evoOp.Perm.Unapply(next.B, it.solE)

	// velocity and pressure forced by the updated scalar
	it.buoyancy.MulVec(it.rhsI, next.B)
	st, err = it.inversion.Solve(it.rhsI)
	stats.Inversion = st
	if err != nil {
		return it.solveFailed(err)
	}
	it.inversion.Solution(it.solI)
	it.inversion.Operator().Perm.Unapply(it.global, it.solI)
	u, v, w, p := it.lay.Split(it.global)
	copy(next.U, u)
	copy(next.V, v)
	copy(next.W, w)
	restorePressure(next.P, p)

	next.Time = it.sim.Time + it.params.Dt
	stats.Time = next.Time

	if !next.Finite() {
		return it.abort(simerr.ErrDivergence, errors.New("non-finite field after step"))
	}
	if speed := next.MaxSpeed(it.asm.Mesh()); speed > it.params.BlowUp {
		return it.abort(simerr.ErrBlowUp, fmt.Errorf("max speed %g exceeds %g", speed, it.params.BlowUp))
	}
	if stats.Evolution.Status == krylov.Unconverged || stats.Inversion.Status == krylov.Unconverged {
		it.unconverged++
		if limit := it.run.MaxUnconvergedSteps; limit > 0 && it.unconverged > limit {
			return it.abort(simerr.ErrNonconvergence,
				fmt.Errorf("%d consecutive steps without convergence", it.unconverged))
		}
	} else {
		it.unconverged = 0
	}

	it.sim = next
	it.step++
	it.last = stats
	it.log.WithFields(logrus.Fields{
		"step":                 it.step,
		"time":                 it.sim.Time,
		"evolution_iterations": stats.Evolution.Iterations,
		"inversion_iterations": stats.Inversion.Iterations,
	}).Debug("step complete")
	return nil
}

// solveFailed turns a solver error into a fatal abort on divergence and
// passes anything else through
func (it *Integrator) solveFailed(err error) error {
	if errors.Is(err, simerr.ErrDivergence) {
		return it.abort(simerr.ErrDivergence, err)
	}
	return err
}

// restorePressure appends the pinned cell's zero to the solved pressures and
// removes the mean
func restorePressure(dst, solved []float64) {
	copy(dst, solved)
	dst[len(dst)-1] = 0
	var mean float64
	for _, v := range dst {
		mean += v
	}
	mean /= float64(len(dst))
	for i := range dst {
		dst[i] -= mean
	}
}

// Run advances n steps, checkpointing every max(1, n/K) steps (K checkpoints
// per run, none in between when K is zero) and after the last step
func (it *Integrator) Run(n int) error {
	if it.fatal != nil {
		return it.terminated()
	}
	every := 0
	if k := it.run.Checkpoints; k > 0 {
		every = max(1, n/k)
	}
	logEvery := max(1, it.run.ProgressEvery)
	start := time.Now()
	for done := 1; done <= n; done++ {
		if err := it.Step(); err != nil {
			return err
		}
		last := done == n
		if last || (every > 0 && done%every == 0) {
			if err := it.checkpoint(); err != nil {
				return fmt.Errorf("checkpoint at step %d: %w", it.step, err)
			}
		}
		if last || done%logEvery == 0 {
			it.progress(done, n, time.Since(start))
		}
	}
	return nil
}

func (it *Integrator) progress(done, n int, elapsed time.Duration) {
	eta := time.Duration(float64(elapsed) / float64(done) * float64(n-done))
	it.log.WithFields(logrus.Fields{
		"step":                 it.step,
		"time":                 it.sim.Time,
		"progress":             fmt.Sprintf("%d/%d", done, n),
		"elapsed":              elapsed.Round(time.Millisecond),
		"eta":                  eta.Round(time.Second),
		"evolution_iterations": it.last.Evolution.Iterations,
		"inversion_iterations": it.last.Inversion.Iterations,
		"max_speed":            it.sim.MaxSpeed(it.asm.Mesh()),
	}).Info("progress")
}

// Initialize seeds the scalar field and solves the Inversion problem once so
// the velocity is consistent with it; time and save index are left alone
func (it *Integrator) Initialize(b []float64) error {
	if it.fatal != nil {
		return it.terminated()
	}
	if len(b) != it.lay.PressureCells() {
		return simerr.Configuration("initial scalar field length %d, want %d", len(b), it.lay.PressureCells())
	}
	next := it.sim.Clone()
	copy(next.B, b)
	it.evolution.Operator().Perm.Apply(it.solE, next.B)
	if err := it.evolution.SetSolution(it.solE); err != nil {
		return err
	}
	it.buoyancy.MulVec(it.rhsI, next.B)
	st, err := it.inversion.Solve(it.rhsI)
	if err != nil {
		return it.solveFailed(err)
	}
	if st.Status != krylov.Converged {
		it.log.WithField("residual", st.ResidualNorm).Warn("initial inversion did not converge")
	}
	it.inversion.Solution(it.solI)
	it.inversion.Operator().Perm.Unapply(it.global, it.solI)
	u, v, w, p := it.lay.Split(it.global)
	copy(next.U, u)
	copy(next.V, v)
	copy(next.W, w)
	restorePressure(next.P, p)
	if !next.Finite() {
		return it.abort(simerr.ErrDivergence, errors.New("non-finite initial state"))
	}
	it.sim = next
	return nil
}
