package krylov

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/linalg"
	"github.com/notargets/KrylovStepper/simerr"
	"gonum.org/v1/gonum/mat"
)

// PreconditionerKind selects an approximate inverse
type PreconditionerKind uint8

const (
	Identity PreconditionerKind = iota
	Jacobi
	ILU0
	Direct
)

func (k PreconditionerKind) String() string {
	switch k {
	case Identity:
		return config.PrecondIdentity
	case Jacobi:
		return config.PrecondJacobi
	case ILU0:
		return config.PrecondILU0
	case Direct:
		return config.PrecondDirect
	}
	return fmt.Sprintf("PreconditionerKind(%d)", uint8(k))
}

// ParsePreconditioner maps a configuration name to a kind
func ParsePreconditioner(name string) (PreconditionerKind, error) {
	switch name {
	case config.PrecondIdentity, "":
		return Identity, nil
	case config.PrecondJacobi:
		return Jacobi, nil
	case config.PrecondILU0:
		return ILU0, nil
	case config.PrecondDirect:
		return Direct, nil
	}
	return Identity, simerr.Configuration("unknown preconditioner %q", name)
}

// Capability is the architecture capability the kind requires
func (k PreconditionerKind) Capability() arch.Capability {
	switch k {
	case ILU0:
		return arch.IncompleteFactorization
	case Direct:
		return arch.DirectFactorization
	case Jacobi:
		return arch.DiagonalScaling
	}
	return 0
}

// Preconditioner applies dst = M⁻¹ src. It is tied to one Operator and is
// read-only after construction.
type Preconditioner interface {
	Kind() PreconditionerKind
	Apply(dst, src arch.Vector) error
	Release()
}

// NewPreconditioner builds a preconditioner for op, rejecting kinds the
// adapter's architecture cannot run
func NewPreconditioner(kind PreconditionerKind, op *Operator, adapter *arch.Adapter, backend linalg.Backend) (Preconditioner, error) {
	if err := adapter.RequireCapability(kind.Capability()); err != nil {
		return nil, fmt.Errorf("%v preconditioner: %w", kind, err)
	}
	switch kind {
	case Identity:
		return identity{backend}, nil
	case Jacobi:
		return newJacobi(op, backend), nil
	case ILU0:
		return newILU0(op)
	case Direct:
		return newDirect(op)
	}
	return nil, simerr.Configuration("unsupported preconditioner %v", kind)
}

type identity struct{ backend linalg.Backend }

func (identity) Kind() PreconditionerKind { return Identity }
func (p identity) Apply(dst, src arch.Vector) error {
	p.backend.Copy(dst, src)
	return nil
}
func (identity) Release() {}

// jacobi scales by the inverse diagonal. Rows without a usable diagonal (the
// zero pressure block of a saddle-point operator) are left unscaled.
type jacobi struct {
	backend linalg.Backend
	inv     arch.Vector
}

func newJacobi(op *Operator, backend linalg.Backend) *jacobi {
	d := op.Matrix.Diagonal()
	var scale float64
	for _, v := range d {
		scale = math.Max(scale, math.Abs(v))
	}
	for i, v := range d {
		if math.Abs(v) <= 1e-14*scale || v == 0 {
			d[i] = 1
		} else {
			d[i] = 1 / v
		}
	}
	inv := backend.NewVector(len(d))
	backend.Upload(inv, d)
	return &jacobi{backend: backend, inv: inv}
}

func (*jacobi) Kind() PreconditionerKind { return Jacobi }
func (p *jacobi) Apply(dst, src arch.Vector) error {
	p.backend.PointwiseMul(dst, p.inv, src)
	return p.backend.Err()
}
func (p *jacobi) Release() { p.backend.Release(p.inv) }

// ilu0 is the incomplete LU factorization with the sparsity of the operator.
// L has a unit diagonal and shares storage with U.
type ilu0 struct {
	indptr, ind []int
	lu          []float64
	diag        []int // position of the diagonal in each row
}

func newILU0(op *Operator) (*ilu0, error) {
	a := op.Matrix
	n := a.Rows
	f := &ilu0{
		indptr: a.Indptr,
		ind:    a.Ind,
		lu:     append([]float64(nil), a.Data...),
		diag:   make([]int, n),
	}
	var scale float64
	for _, v := range a.Data {
		scale = math.Max(scale, math.Abs(v))
	}
	tiny := 1e-12 * scale
	if tiny == 0 {
		tiny = 1e-12
	}
	pos := make([]int, n)
	for i := range pos {
		pos[i] = -1
	}
	for i := 0; i < n; i++ {
		f.diag[i] = -1
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			pos[a.Ind[p]] = p
			if a.Ind[p] == i {
				f.diag[i] = p
			}
		}
		if f.diag[i] < 0 {
			return nil, simerr.Configuration("ilu0: row %d has no stored diagonal", i)
		}
		for p := a.Indptr[i]; p < a.Indptr[i+1] && a.Ind[p] < i; p++ {
			k := a.Ind[p]
			f.lu[p] /= f.lu[f.diag[k]]
			for q := f.diag[k] + 1; q < a.Indptr[k+1]; q++ {
				if r := pos[a.Ind[q]]; r >= 0 {
					f.lu[r] -= f.lu[p] * f.lu[q]
				}
			}
		}
		if d := f.lu[f.diag[i]]; math.Abs(d) < tiny {
			f.lu[f.diag[i]] = math.Copysign(tiny, d)
		}
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			pos[a.Ind[p]] = -1
		}
	}
	return f, nil
}

func (*ilu0) Kind() PreconditionerKind { return ILU0 }

func (f *ilu0) Apply(dst, src arch.Vector) error {
	x, b := dst.(*arch.HostVector).Data, src.(*arch.HostVector).Data
	n := len(f.diag)
	for i := 0; i < n; i++ {
		s := b[i]
		for p := f.indptr[i]; p < f.diag[i]; p++ {
			s -= f.lu[p] * x[f.ind[p]]
		}
		x[i] = s
	}
	for i := n - 1; i >= 0; i-- {
		s := x[i]
		for p := f.diag[i] + 1; p < f.indptr[i+1]; p++ {
			s -= f.lu[p] * x[f.ind[p]]
		}
		x[i] = s / f.lu[f.diag[i]]
	}
	return nil
}

func (*ilu0) Release() {}

// direct solves with a dense LU factorization of the operator
type direct struct {
	lu mat.LU
	n  int
}

func newDirect(op *Operator) (*direct, error) {
	p := &direct{n: op.Dim()}
	if p.n == 0 {
		return p, nil
	}
	p.lu.Factorize(op.Matrix.Dense())
	if math.IsInf(p.lu.Cond(), 1) {
		return nil, simerr.Configuration("direct preconditioner: operator is singular")
	}
	return p, nil
}

func (*direct) Kind() PreconditionerKind { return Direct }

func (p *direct) Apply(dst, src arch.Vector) error {
	if p.n == 0 {
		return nil
	}
	x := mat.NewVecDense(p.n, dst.(*arch.HostVector).Data)
	b := mat.NewVecDense(p.n, src.(*arch.HostVector).Data)
	if err := p.lu.SolveVecTo(x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return fmt.Errorf("direct preconditioner: %w", err)
		}
		// ill conditioned but solved; the Krylov iteration corrects the rest
	}
	return nil
}

func (*direct) Release() {}
