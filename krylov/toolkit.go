package krylov

import (
	"fmt"
	"math"
	"time"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/linalg"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/sirupsen/logrus"
)

// Status is the state of a toolkit's most recent solve
type Status uint8

const (
	Idle Status = iota
	Solving
	Converged
	Unconverged
	Diverged
)

func (s Status) String() string {
	return [...]string{"idle", "solving", "converged", "unconverged", "diverged"}[s]
}

// Stats describes the most recent solve
type Stats struct {
	Status       Status
	Iterations   int
	MatVec       int
	PSolve       int
	ResidualNorm float64
	// Residuals holds the residual norm before the first iteration and after
	// every iteration
	Residuals []float64
	Elapsed   time.Duration
}

func (st *Stats) record(r float64) { st.Residuals = append(st.Residuals, r) }

// Toolkit owns one operator, its preconditioner, a Krylov method and the
// persistent solution vector. The solution vector is only ever modified by
// Solve and SetSolution, and warm-starts every solve.
type Toolkit struct {
	name     string
	adapter  *arch.Adapter
	backend  linalg.Backend
	op       *Operator
	pc       Preconditioner
	method   Method
	settings config.SolverParameters
	sys      *System

	x, b     arch.Vector
	stats    Stats
	diverged bool
	log      *logrus.Entry
}

// NewInversion builds the toolkit of the saddle-point problem: restarted GMRES
func NewInversion(adapter *arch.Adapter, op *Operator, settings config.SolverParameters, logger *logrus.Logger) (*Toolkit, error) {
	restart := settings.Restart
	if restart <= 0 {
		restart = config.DefaultRestart
	}
	return newToolkit("inversion", adapter, op, settings, &GMRES{Restart: restart}, logger)
}

// NewEvolution builds the toolkit of the scalar problem: CG when the operator
// is symmetric, BiCGStab otherwise
func NewEvolution(adapter *arch.Adapter, op *Operator, settings config.SolverParameters, logger *logrus.Logger) (*Toolkit, error) {
	var m Method = &BiCGStab{}
	if op.Symmetric {
		m = &CG{}
	}
	return newToolkit("evolution", adapter, op, settings, m, logger)
}

func newToolkit(name string, adapter *arch.Adapter, op *Operator, settings config.SolverParameters,
	method Method, logger *logrus.Logger) (*Toolkit, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := settings.Validate(); err != nil {
		return nil, simerr.Configuration("%s solver: %v", name, err)
	}
	if op.adapter != adapter {
		return nil, simerr.Configuration("%s operator was built for a different architecture adapter", name)
	}
	kind, err := ParsePreconditioner(settings.Preconditioner)
	if err != nil {
		return nil, err
	}
	backend := linalg.New(adapter)
	pc, err := NewPreconditioner(kind, op, adapter, backend)
	if err != nil {
		return nil, fmt.Errorf("%s solver: %w", name, err)
	}
	t := &Toolkit{
		name:     name,
		adapter:  adapter,
		backend:  backend,
		op:       op,
		pc:       pc,
		method:   method,
		settings: settings,
		sys:      &System{Backend: backend, A: op.Target(), M: pc, N: op.Dim()},
		x:        backend.NewVector(op.Dim()),
		b:        backend.NewVector(op.Dim()),
		log: logger.WithFields(logrus.Fields{
			"solver": name, "method": method.Name(), "preconditioner": kind, "arch": adapter.Kind(),
		}),
	}
	t.log.WithField("n", op.Dim()).Debug("solver ready")
	return t, nil
}

// Name identifies the toolkit in logs
func (t *Toolkit) Name() string { return t.name }

// Dim returns the operator dimension
func (t *Toolkit) Dim() int { return t.op.Dim() }

// Operator returns the operator the toolkit solves with
func (t *Toolkit) Operator() *Operator { return t.op }

// MaxIterations resolves the iteration cap: nil means the problem dimension
func (t *Toolkit) MaxIterations() int {
	if t.settings.MaxIterations != nil {
		return *t.settings.MaxIterations
	}
	return max(t.op.Dim(), 1)
}

// Solve solves A x = rhs starting from the previous solution. rhs is in
// solver (permuted) order. Non-convergence is reported in the returned Stats
// with a nil error; a non-finite solution is terminal and returns
// ErrDivergence on this and every later call.
func (t *Toolkit) Solve(rhs []float64) (Stats, error) {
	if t.diverged {
		return t.State(), fmt.Errorf("%s solver: %w", t.name, simerr.ErrDivergence)
	}
	if len(rhs) != t.op.Dim() {
		return t.State(), simerr.Configuration("%s solver: rhs length %d, operator dimension %d",
			t.name, len(rhs), t.op.Dim())
	}
	start := time.Now()
	t.stats = Stats{Status: Solving}
	t.backend.Upload(t.b, rhs)

	tol := math.Max(t.settings.Atol, t.settings.Rtol*t.backend.Norm(t.b))
	err := t.method.Solve(t.sys, t.x, t.b, tol, t.MaxIterations(), &t.stats)
	t.stats.Elapsed = time.Since(start)
	if err != nil {
		t.stats.Status = Unconverged
		return t.State(), fmt.Errorf("%s solver: %w", t.name, err)
	}

	log := t.log.WithFields(logrus.Fields{
		"iterations": t.stats.Iterations,
		"residual":   t.stats.ResidualNorm,
		"tolerance":  tol,
		"elapsed":    t.stats.Elapsed,
	})
	switch {
	case !finite(t.stats.ResidualNorm) || !t.backend.AllFinite(t.x):
		t.stats.Status = Diverged
		t.diverged = true
		log.Error("solution is not finite")
		return t.State(), fmt.Errorf("%s solver: %w", t.name, simerr.ErrDivergence)
	case t.stats.ResidualNorm <= tol:
		t.stats.Status = Converged
		log.Debug("solve converged")
	default:
		t.stats.Status = Unconverged
		log.Warn("iteration cap reached without meeting tolerance")
	}
	return t.State(), nil
}

// Diverged reports whether the toolkit has entered the terminal state
func (t *Toolkit) Diverged() bool { return t.diverged }

// State returns a copy of the most recent solve statistics
func (t *Toolkit) State() Stats {
	st := t.stats
	st.Residuals = append([]float64(nil), t.stats.Residuals...)
	return st
}

// Solution copies the solution (solver order) into dst
func (t *Toolkit) Solution(dst []float64) {
	if len(dst) != t.op.Dim() {
		panic(fmt.Sprintf("krylov: solution buffer length %d, want %d", len(dst), t.op.Dim()))
	}
	t.backend.Download(dst, t.x)
}

// SetSolution seeds the warm-start vector (solver order), e.g. on restart
func (t *Toolkit) SetSolution(src []float64) error {
	if t.diverged {
		return fmt.Errorf("%s solver: %w", t.name, simerr.ErrDivergence)
	}
	if len(src) != t.op.Dim() {
		return simerr.Configuration("%s solver: solution length %d, operator dimension %d",
			t.name, len(src), t.op.Dim())
	}
	t.backend.Upload(t.x, src)
	return t.backend.Err()
}

// Close releases device resources
func (t *Toolkit) Close() {
	t.method.Release(t.sys)
	t.pc.Release()
	t.backend.Release(t.x)
	t.backend.Release(t.b)
}
