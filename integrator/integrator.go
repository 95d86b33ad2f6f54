// Package integrator advances the coupled system in time: every step solves
// the scalar Evolution problem, then the velocity/pressure Inversion problem
// forced by the updated scalar.
package integrator

import (
	"fmt"
	"math"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/assembly"
	"github.com/notargets/KrylovStepper/cache"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/krylov"
	"github.com/notargets/KrylovStepper/layout"
	"github.com/notargets/KrylovStepper/reorder"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
	"github.com/notargets/KrylovStepper/state"
	"github.com/notargets/KrylovStepper/viz"
	"github.com/sirupsen/logrus"
)

// Setup injects everything an Integrator depends on
type Setup struct {
	Adapter   *arch.Adapter
	Physics   config.PhysicalParameters
	Run       config.RunConfig
	Ordering  reorder.Method // zero value is the bandwidth ordering
	Assembler assembly.Assembler
	Cache     *cache.Cache
	Store     *state.Store
	Sink      viz.Sink // nil discards snapshots
	Logger    *logrus.Logger
}

// StepStats reports the solves of the most recent step
type StepStats struct {
	Step      int
	Time      float64
	Evolution krylov.Stats
	Inversion krylov.Stats
}

type Integrator struct {
	adapter *arch.Adapter
	params  config.PhysicalParameters
	run     config.RunConfig
	asm     assembly.Assembler
	store   *state.Store
	sink    viz.Sink
	log     *logrus.Logger

	lay layout.Layout
	// buoyancy maps the scalar field straight into Inversion solver order
	buoyancy  *spmat.CSR
	evolution *krylov.Toolkit
	inversion *krylov.Toolkit

	sim         state.Simulation
	step        int
	last        StepStats
	unconverged int
	fatal       error

	// scratch, reused every step
	rhsE, solE []float64
	rhsI, solI []float64
	global     []float64
}

// New builds (or loads from the cache) the three operators, their
// bandwidth-reducing permutations and the two solvers, and starts from a
// zero state
func New(s Setup) (*Integrator, error) {
	if s.Adapter == nil || s.Assembler == nil || s.Cache == nil || s.Store == nil {
		return nil, simerr.Configuration("integrator setup needs an adapter, assembler, cache and store")
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.Sink == nil {
		s.Sink = viz.Discard
	}
	if err := s.Physics.Validate(); err != nil {
		return nil, simerr.Configuration("physical parameters: %v", err)
	}
	box, lay := s.Assembler.Mesh(), s.Assembler.Layout()
	n, cells := lay.N(), box.Cells()

	build := func(name string, f cache.Builder, rows, cols int) (*spmat.CSR, error) {
		key := config.CanonicalKey(s.Physics, box, name)
		a, res, err := s.Cache.GetOrBuild(key, f)
		if err != nil {
			return nil, fmt.Errorf("%s operator: %w", name, err)
		}
		if r, c := a.Dims(); r != rows || c != cols {
			return nil, simerr.Configuration("%s operator is %dx%d, want %dx%d (%s)", name, r, c, rows, cols, res.Path)
		}
		return a, nil
	}
	inv, err := build(assembly.Inversion, s.Assembler.InversionOperator, n, n)
	if err != nil {
		return nil, err
	}
	buoy, err := build(assembly.Buoyancy, s.Assembler.BuoyancyOperator, n, cells)
	if err != nil {
		return nil, err
	}
	evo, err := build(assembly.Evolution, s.Assembler.EvolutionOperator, cells, cells)
	if err != nil {
		return nil, err
	}

	kind := s.Adapter.Kind()
	invPerm, err := reorder.Compute(s.Assembler.BlockPatterns(), kind, s.Ordering)
	if err != nil {
		return nil, fmt.Errorf("inversion ordering: %w", err)
	}
	evoPerm, err := reorder.Compute([]reorder.Block{{Name: "b", Pattern: s.Assembler.ScalarPattern()}}, kind, s.Ordering)
	if err != nil {
		return nil, fmt.Errorf("evolution ordering: %w", err)
	}

	invOp, err := krylov.NewOperator(s.Adapter, inv, invPerm, false)
	if err != nil {
		return nil, err
	}
	evoOp, err := krylov.NewOperator(s.Adapter, evo, evoPerm, s.Assembler.EvolutionSymmetric())
	if err != nil {
		invOp.Release()
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"inversion_bandwidth": fmt.Sprintf("%d -> %d", inv.Bandwidth(), invOp.Matrix.Bandwidth()),
		"evolution_bandwidth": fmt.Sprintf("%d -> %d", evo.Bandwidth(), evoOp.Matrix.Bandwidth()),
		"arch":                kind,
		"ordering":            s.Ordering,
	}).Info("operators reordered")

	evoTk, err := krylov.NewEvolution(s.Adapter, evoOp, s.Physics.Evolution, s.Logger)
	if err != nil {
		invOp.Release()
		evoOp.Release()
		return nil, err
	}
	invTk, err := krylov.NewInversion(s.Adapter, invOp, s.Physics.Inversion, s.Logger)
	if err != nil {
		evoTk.Close()
		invOp.Release()
		evoOp.Release()
		return nil, err
	}

	return &Integrator{
		adapter:   s.Adapter,
		params:    s.Physics,
		run:       s.Run,
		asm:       s.Assembler,
		store:     s.Store,
		sink:      s.Sink,
		log:       s.Logger,
		lay:       lay,
		buoyancy:  spmat.Permute(buoy, invPerm.Inverse, nil),
		evolution: evoTk,
		inversion: invTk,
		sim:       state.New(lay),
		rhsE:      make([]float64, cells),
		solE:      make([]float64, cells),
		rhsI:      make([]float64, n),
		solI:      make([]float64, n),
		global:    make([]float64, n),
	}, nil
}

// State returns a copy of the current simulation state
func (it *Integrator) State() state.Simulation { return it.sim.Clone() }

// Steps returns the number of completed steps since time zero
func (it *Integrator) Steps() int { return it.step }

// Last returns the solver statistics of the most recent step
func (it *Integrator) Last() StepStats { return it.last }

// Terminated reports whether a fatal condition has stopped the run
func (it *Integrator) Terminated() bool { return it.fatal != nil }

// Resume replaces the current state, e.g. with a checkpoint, and warm-starts
// both solvers from it
func (it *Integrator) Resume(sim state.Simulation) error {
	if it.fatal != nil {
		return it.terminated()
	}
	want := [...]int{it.lay.Sizes[layout.U], it.lay.Sizes[layout.V], it.lay.Sizes[layout.W],
		it.lay.PressureCells(), it.lay.PressureCells()}
	for i, f := range [][]float64{sim.U, sim.V, sim.W, sim.P, sim.B} {
		if len(f) != want[i] {
			return simerr.Configuration("resumed state field %d has length %d, want %d", i, len(f), want[i])
		}
	}
	if !sim.Finite() {
		return simerr.Configuration("resumed state is not finite")
	}

	it.evolution.Operator().Perm.Apply(it.solE, sim.B)
	if err := it.evolution.SetSolution(it.solE); err != nil {
		return err
	}
	// the solver carries pressure relative to the pinned last cell
	np := it.lay.Sizes[layout.P]
	pinned := sim.P[np]
	rel := make([]float64, np)
	for c := range rel {
		rel[c] = sim.P[c] - pinned
	}
	global := it.lay.Join(sim.U, sim.V, sim.W, rel)
	it.inversion.Operator().Perm.Apply(it.solI, global)
	if err := it.inversion.SetSolution(it.solI); err != nil {
		return err
	}

	it.sim = sim.Clone()
	it.step = int(math.Round(sim.Time / it.params.Dt))
	it.log.WithFields(logrus.Fields{
		"time": sim.Time, "step": it.step, "save_index": sim.SaveIndex,
	}).Info("resumed")
	return nil
}

// Close releases solver resources
func (it *Integrator) Close() {
	it.evolution.Close()
	it.inversion.Close()
	it.evolution.Operator().Release()
	it.inversion.Operator().Release()
}

func (it *Integrator) terminated() error {
	return fmt.Errorf("%w: %v", simerr.ErrTerminated, it.fatal)
}

// abort records a fatal condition, checkpoints the last good state and
// returns the FatalError describing both
func (it *Integrator) abort(kind, cause error) error {
	fe := &simerr.FatalError{Kind: kind, Step: it.step + 1, Time: it.sim.Time, Err: cause}
	good := it.sim.Clone()
	good.SaveIndex++
	if path, err := it.store.Save(good); err != nil {
		it.log.WithError(err).Error("emergency checkpoint failed")
	} else {
		it.sim.SaveIndex = good.SaveIndex
		fe.Checkpoint = path
	}
	it.fatal = fe
	it.log.WithFields(logrus.Fields{
		"step": fe.Step, "time": fe.Time, "checkpoint": fe.Checkpoint,
	}).WithError(fe).Error("run aborted")
	return fe
}

// checkpoint saves the state under the next save index and emits a snapshot
func (it *Integrator) checkpoint() error {
	next := it.sim.Clone()
	next.SaveIndex++
	if _, err := it.store.Save(next); err != nil {
		return err
	}
	it.sim.SaveIndex = next.SaveIndex
	it.sink.Emit(viz.Snapshot{
		Step: it.step,
		Time: it.sim.Time,
		U:    it.sim.U, V: it.sim.V, W: it.sim.W,
		B:    it.sim.B,
		Mesh: it.asm.Mesh(),
	})
	return nil
}
