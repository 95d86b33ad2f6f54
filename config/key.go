package config

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/notargets/KrylovStepper/mesh"
)

// keyVersion changes whenever the discretization behind a cached operator changes
const keyVersion = 1

type keyWriter struct {
	buf []byte
}

func (w *keyWriter) tag(name string) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(name)))
	w.buf = append(w.buf, name...)
}

func (w *keyWriter) float(name string, v float64) {
	w.tag(name)
	if v == 0 {
		v = 0 // fold -0 onto +0
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *keyWriter) integer(name string, v int) {
	w.tag(name)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(int64(v)))
}

// CanonicalKey derives the operator cache key from the physical parameters, the
// mesh and the operator name. Floating point values enter through their IEEE-754
// bit patterns so the key never depends on text formatting.
func CanonicalKey(p PhysicalParameters, box mesh.Box, name string) string {
	w := &keyWriter{}
	w.integer("version", keyVersion)
	w.tag(name)
	w.float("ekman", p.Ekman)
	w.float("buoyancy", p.Buoyancy)
	w.float("coriolis", p.Coriolis)
	w.float("coriolis_tilde", p.CoriolisTilde)
	w.float("kappa", p.Kappa)
	for i, u := range p.MeanFlow {
		w.float("mean_flow"+string(rune('x'+i)), u)
	}
	w.float("dt", p.Dt)
	w.integer("nx", box.Nx)
	w.integer("ny", box.Ny)
	w.integer("nz", box.Nz)
	w.float("lx", box.Lx)
	w.float("ly", box.Ly)
	w.float("lz", box.Lz)
	sum := sha256.Sum256(w.buf)
	return name + "-" + hex.EncodeToString(sum[:12])
}
