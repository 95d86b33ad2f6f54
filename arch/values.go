package arch

import (
	"unsafe"

	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
	"github.com/notargets/gocca"
)

// Vector is a dense vector resident on one architecture. Implementations are
// *HostVector and *DeviceVector.
type Vector interface {
	Len() int
	Kind() Kind
	sealed()
}

// Matrix is a sparse matrix resident on one architecture. Implementations are
// *HostMatrix and *DeviceCSR.
type Matrix interface {
	Dims() (int, int)
	NNZ() int
	Kind() Kind
	sealed()
}

type HostVector struct {
	Data []float64
}

func NewHostVector(data []float64) *HostVector { return &HostVector{Data: data} }

func (v *HostVector) Len() int   { return len(v.Data) }
func (v *HostVector) Kind() Kind { return Host }
func (*HostVector) sealed()      {}

// DeviceVector is a float64 buffer in device memory
type DeviceVector struct {
	Mem   *gocca.OCCAMemory
	N     int
	owner *Adapter
}

func (v *DeviceVector) Len() int   { return v.N }
func (v *DeviceVector) Kind() Kind { return Accelerator }
func (*DeviceVector) sealed()      {}

// CopyFrom uploads src into the vector
func (v *DeviceVector) CopyFrom(src []float64) {
	if v.N == 0 {
		return
	}
	v.Mem.CopyFrom(unsafe.Pointer(&src[0]), int64(v.N*8))
}

// CopyTo downloads the vector into dst
func (v *DeviceVector) CopyTo(dst []float64) {
	if v.N == 0 {
		return
	}
	v.Mem.CopyTo(unsafe.Pointer(&dst[0]), int64(v.N*8))
}

type HostMatrix struct {
	*spmat.CSR
}

func (m *HostMatrix) Kind() Kind { return Host }
func (*HostMatrix) sealed()      {}

// DeviceCSR holds CSR arrays in device memory. Indices are int32.
type DeviceCSR struct {
	Rows, Cols, Nnz     int
	Indptr, Ind, Values *gocca.OCCAMemory
	owner               *Adapter
}

func (m *DeviceCSR) Dims() (int, int) { return m.Rows, m.Cols }
func (m *DeviceCSR) NNZ() int         { return m.Nnz }
func (m *DeviceCSR) Kind() Kind       { return Accelerator }
func (*DeviceCSR) sealed()            {}

// NewDeviceVector allocates a zeroed vector of length n
func (a *Adapter) NewDeviceVector(n int) (*DeviceVector, error) {
	if a.runner == nil {
		return nil, simerr.Configuration("device vector requested from %v adapter", a.kind)
	}
	zeros := make([]float64, max(n, 1))
	mem := a.runner.Malloc(int64(n*8), unsafe.Pointer(&zeros[0]))
	return &DeviceVector{Mem: mem, N: n, owner: a}, nil
}

// Owns reports whether a device value was produced by this adapter
func (a *Adapter) Owns(v interface{}) bool {
	switch x := v.(type) {
	case *DeviceVector:
		return x.owner == a
	case *DeviceCSR:
		return x.owner == a
	case *HostVector, *HostMatrix:
		return true
	}
	return false
}

// VectorTo converts v to the target architecture. Host to host returns v
// itself; every other conversion copies.
func (a *Adapter) VectorTo(v Vector, target Kind) (Vector, error) {
	if !a.Owns(v) {
		return nil, simerr.Configuration("vector belongs to another architecture adapter")
	}
	switch x := v.(type) {
	case *HostVector:
		if target == Host {
			return x, nil
		}
		if a.kind != Accelerator {
			return nil, simerr.Configuration("cannot convert to %v from a %v adapter", target, a.kind)
		}
		dv, err := a.NewDeviceVector(x.Len())
		if err != nil {
			return nil, err
		}
		dv.CopyFrom(x.Data)
		return dv, nil
	case *DeviceVector:
		if target == Accelerator {
			return x, nil
		}
		host := make([]float64, x.N)
		x.CopyTo(host)
		return &HostVector{Data: host}, nil
	}
	return nil, simerr.Configuration("unsupported vector %T", v)
}

// MatrixTo converts m to the target architecture
func (a *Adapter) MatrixTo(m Matrix, target Kind) (Matrix, error) {
	if !a.Owns(m) {
		return nil, simerr.Configuration("matrix belongs to another architecture adapter")
	}
	switch x := m.(type) {
	case *HostMatrix:
		if target == Host {
			return x, nil
		}
		if a.kind != Accelerator {
			return nil, simerr.Configuration("cannot convert to %v from a %v adapter", target, a.kind)
		}
		return a.upload(x.CSR), nil
	case *DeviceCSR:
		if target == Accelerator {
			return x, nil
		}
		return &HostMatrix{CSR: a.download(x)}, nil
	}
	return nil, simerr.Configuration("unsupported matrix %T", m)
}

func (a *Adapter) upload(c *spmat.CSR) *DeviceCSR {
	indptr := toInt32(c.Indptr)
	ind := toInt32(c.Ind)
	vals := c.Data
	if len(vals) == 0 {
		vals = []float64{0}
		ind = []int32{0}
	}
	return &DeviceCSR{
		Rows:   c.Rows,
		Cols:   c.Cols,
		Nnz:    c.NNZ(),
		Indptr: a.runner.Malloc(int64(len(indptr)*4), unsafe.Pointer(&indptr[0])),
		Ind:    a.runner.Malloc(int64(len(ind)*4), unsafe.Pointer(&ind[0])),
		Values: a.runner.Malloc(int64(len(vals)*8), unsafe.Pointer(&vals[0])),
		owner:  a,
	}
}

func (a *Adapter) download(m *DeviceCSR) *spmat.CSR {
	indptr32 := make([]int32, m.Rows+1)
	m.Indptr.CopyTo(unsafe.Pointer(&indptr32[0]), int64(len(indptr32)*4))
	ind := make([]int, m.Nnz)
	vals := make([]float64, m.Nnz)
	if m.Nnz > 0 {
		ind32 := make([]int32, m.Nnz)
		m.Ind.CopyTo(unsafe.Pointer(&ind32[0]), int64(m.Nnz*4))
		m.Values.CopyTo(unsafe.Pointer(&vals[0]), int64(m.Nnz*8))
		for i, v := range ind32 {
			ind[i] = int(v)
		}
	}
	indptr := make([]int, len(indptr32))
	for i, v := range indptr32 {
		indptr[i] = int(v)
	}
	return spmat.NewCSR(m.Rows, m.Cols, indptr, ind, vals)
}

// Release frees the device memory behind a value; host values are ignored
func (a *Adapter) Release(v interface{}) {
	if a.runner == nil {
		return
	}
	switch x := v.(type) {
	case *DeviceVector:
		a.runner.Release(x.Mem)
	case *DeviceCSR:
		a.runner.Release(x.Indptr)
		a.runner.Release(x.Ind)
		a.runner.Release(x.Values)
	}
}

func toInt32(s []int) []int32 {
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}
