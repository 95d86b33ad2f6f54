package linalg

import (
	"math"

	"github.com/notargets/KrylovStepper/arch"
	"gonum.org/v1/gonum/floats"
)

// Host runs every operation in host memory with gonum
type Host struct{}

func hv(v arch.Vector) []float64 { return v.(*arch.HostVector).Data }

func (Host) Kind() arch.Kind { return arch.Host }

func (Host) NewVector(n int) arch.Vector { return arch.NewHostVector(make([]float64, n)) }

func (Host) Release(arch.Vector) {}

func (Host) Upload(dst arch.Vector, src []float64) { copy(hv(dst), src) }

func (Host) Download(dst []float64, src arch.Vector) { copy(dst, hv(src)) }

func (Host) Copy(dst, src arch.Vector) { copy(hv(dst), hv(src)) }

func (Host) Fill(x arch.Vector, alpha float64) {
	d := hv(x)
	for i := range d {
		d[i] = alpha
	}
}

func (Host) Axpy(alpha float64, x, y arch.Vector) { floats.AddScaled(hv(y), alpha, hv(x)) }

func (Host) Scale(alpha float64, x arch.Vector) { floats.Scale(alpha, hv(x)) }

func (Host) Dot(x, y arch.Vector) float64 { return floats.Dot(hv(x), hv(y)) }

func (Host) Norm(x arch.Vector) float64 {
	if x.Len() == 0 {
		return 0
	}
	return floats.Norm(hv(x), 2)
}

func (Host) SpMV(dst arch.Vector, a arch.Matrix, x arch.Vector) {
	a.(*arch.HostMatrix).MulVec(hv(dst), hv(x))
}

func (Host) PointwiseMul(dst, x, y arch.Vector) { floats.MulTo(hv(dst), hv(x), hv(y)) }

func (Host) AllFinite(x arch.Vector) bool { return AllFinite(hv(x)) }

func (Host) Err() error { return nil }

// AllFinite reports whether s contains neither NaN nor ±Inf
func AllFinite(s []float64) bool {
	if floats.HasNaN(s) {
		return false
	}
	for _, v := range s {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
