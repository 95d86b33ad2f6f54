package linalg

import (
	"fmt"
	"math"

	"github.com/notargets/KrylovStepper/arch"
	"gonum.org/v1/gonum/floats"
)

const (
	// blockSize is the @inner extent of the elementwise kernels
	blockSize = 256
	// reduceChunk is the number of entries each reduction partial covers
	reduceChunk = 4096
)

// Device runs operations as OKL kernels on the adapter's OCCA device. Sizes are
// compiled into each kernel, so one set of kernels exists per vector length.
type Device struct {
	adapter *arch.Adapter
	runner  *arch.Runner
	err     error
	// partials caches the reduction buffers per vector length
	partials map[int]*arch.DeviceVector
}

// NewDevice creates a device backend on an Accelerator adapter
func NewDevice(a *arch.Adapter) *Device {
	if a.Runner() == nil {
		panic("linalg: device backend requires an accelerator adapter")
	}
	return &Device{adapter: a, runner: a.Runner(), partials: make(map[int]*arch.DeviceVector)}
}

func dv(v arch.Vector) *arch.DeviceVector { return v.(*arch.DeviceVector) }

func (d *Device) Kind() arch.Kind { return arch.Accelerator }

func (d *Device) Err() error { return d.err }

func (d *Device) fail(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func (d *Device) NewVector(n int) arch.Vector {
	v, err := d.adapter.NewDeviceVector(n)
	if err != nil {
		panic(err) // the constructor guarantees an accelerator adapter
	}
	return v
}

func (d *Device) Release(v arch.Vector) { d.adapter.Release(v) }

func (d *Device) Upload(dst arch.Vector, src []float64) { dv(dst).CopyFrom(src) }

func (d *Device) Download(dst []float64, src arch.Vector) { dv(src).CopyTo(dst) }

func numBlocks(n, size int) int { return (n + size - 1) / size }

// elementwise builds (once) and runs a kernel whose body is applied for every
// index i < N_DOFS
func (d *Device) elementwise(op string, n int, signature, body string, args ...interface{}) {
	if d.err != nil || n == 0 {
		return
	}
	name := fmt.Sprintf("%s_n%d", op, n)
	kernel, err := d.runner.Kernel(name, func() string {
		return fmt.Sprintf(`
#define N_DOFS %d
#define NBLOCKS %d
#define BLOCK %d
@kernel void %s(%s) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCK; ++t; @inner) {
			const int i = b*BLOCK + t;
			if (i < N_DOFS) {
				%s
			}
		}
	}
}`, n, numBlocks(n, blockSize), blockSize, name, signature, body)
	})
	if err != nil {
		d.fail(err)
		return
	}
	if err := kernel.RunWithArgs(args...); err != nil {
		d.fail(fmt.Errorf("kernel %s execution failed: %w", name, err))
		return
	}
	d.runner.Device.Finish()
}

// reduce runs a per-chunk partial reduction and sums the partials on the host
func (d *Device) reduce(op string, n int, signature, term string, args ...interface{}) float64 {
	if d.err != nil || n == 0 {
		return 0
	}
	nb := numBlocks(n, reduceChunk)
	partial, ok := d.partials[n]
	if !ok {
		partial = dv(d.NewVector(nb))
		d.partials[n] = partial
	}
	name := fmt.Sprintf("%s_n%d", op, n)
	kernel, err := d.runner.Kernel(name, func() string {
		return fmt.Sprintf(`
#define N_DOFS %d
#define NBLOCKS %d
#define CHUNK %d
@kernel void %s(%s, double *partial) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < 1; ++t; @inner) {
			double s = 0.0;
			const int start = b*CHUNK;
			for (int i = start; i < start + CHUNK && i < N_DOFS; ++i) {
				s += %s;
			}
			partial[b] = s;
		}
	}
}`, n, nb, reduceChunk, name, signature, term)
	})
	if err != nil {
		d.fail(err)
		return 0
	}
	if err := kernel.RunWithArgs(append(args, partial.Mem)...); err != nil {
		d.fail(fmt.Errorf("kernel %s execution failed: %w", name, err))
		return 0
	}
	d.runner.Device.Finish()
	host := make([]float64, nb)
	partial.CopyTo(host)
	return floats.Sum(host)
}

func (d *Device) Copy(dst, src arch.Vector) {
	d.elementwise("copy", dst.Len(), "const double *x, double *y", "y[i] = x[i];",
		dv(src).Mem, dv(dst).Mem)
}

func (d *Device) Fill(x arch.Vector, alpha float64) {
	d.elementwise("fill", x.Len(), "const double alpha, double *x", "x[i] = alpha;",
		alpha, dv(x).Mem)
}

func (d *Device) Axpy(alpha float64, x, y arch.Vector) {
	d.elementwise("axpy", y.Len(), "const double alpha, const double *x, double *y",
		"y[i] += alpha*x[i];", alpha, dv(x).Mem, dv(y).Mem)
}

func (d *Device) Scale(alpha float64, x arch.Vector) {
	d.elementwise("scale", x.Len(), "const double alpha, double *x", "x[i] *= alpha;",
		alpha, dv(x).Mem)
}

func (d *Device) PointwiseMul(dst, x, y arch.Vector) {
	d.elementwise("pmul", dst.Len(), "const double *x, const double *y, double *z",
		"z[i] = x[i]*y[i];", dv(x).Mem, dv(y).Mem, dv(dst).Mem)
}

func (d *Device) Dot(x, y arch.Vector) float64 {
	return d.reduce("dot", x.Len(), "const double *x, const double *y", "x[i]*y[i]",
		dv(x).Mem, dv(y).Mem)
}

func (d *Device) Norm(x arch.Vector) float64 {
	return math.Sqrt(d.Dot(x, x))
}

// AllFinite counts entries for which v - v is not zero (NaN and ±Inf)
func (d *Device) AllFinite(x arch.Vector) bool {
	bad := d.reduce("nonfinite", x.Len(), "const double *x", "((x[i] - x[i]) == 0.0 ? 0.0 : 1.0)",
		dv(x).Mem)
	return bad == 0
}

func (d *Device) SpMV(dst arch.Vector, a arch.Matrix, x arch.Vector) {
	m := a.(*arch.DeviceCSR)
	if d.err != nil || m.Rows == 0 {
		return
	}
	if m.Cols == 0 {
		d.Fill(dst, 0)
		return
	}
	name := fmt.Sprintf("spmv_r%d", m.Rows)
	kernel, err := d.runner.Kernel(name, func() string {
		return fmt.Sprintf(`
#define N_ROWS %d
#define NBLOCKS %d
#define BLOCK %d
@kernel void %s(const int *indptr, const int *ind, const double *val,
                const double *x, double *y) {
	for (int b = 0; b < NBLOCKS; ++b; @outer) {
		for (int t = 0; t < BLOCK; ++t; @inner) {
			const int i = b*BLOCK + t;
			if (i < N_ROWS) {
				double s = 0.0;
				for (int p = indptr[i]; p < indptr[i+1]; ++p) {
					s += val[p]*x[ind[p]];
				}
				y[i] = s;
			}
		}
	}
}`, m.Rows, numBlocks(m.Rows, blockSize), blockSize, name)
	})
	if err != nil {
		d.fail(err)
		return
	}
	if err := kernel.RunWithArgs(m.Indptr, m.Ind, m.Values, dv(x).Mem, dv(dst).Mem); err != nil {
		d.fail(fmt.Errorf("kernel %s execution failed: %w", name, err))
		return
	}
	d.runner.Device.Finish()
}

var _ Backend = (*Device)(nil)
var _ Backend = Host{}
