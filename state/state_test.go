package state

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/KrylovStepper/layout"
	"github.com/notargets/KrylovStepper/mesh"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func sample() Simulation {
	sim := New(layout.FromBox(mesh.Box{Nx: 3, Ny: 2, Nz: 2, Lx: 1, Ly: 1, Lz: 1}))
	for i := range sim.U {
		sim.U[i] = 1 / float64(i+3)
	}
	for i := range sim.W {
		sim.W[i] = -math.Pi * float64(i)
	}
	for i := range sim.P {
		sim.P[i] = math.Nextafter(float64(i), 0)
	}
	for i := range sim.B {
		sim.B[i] = math.Sin(float64(i))
	}
	sim.Time = 0.1 + 0.2
	sim.SaveIndex = 7
	return sim
}

func assertBitwise(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, math.Float64bits(want[i]), math.Float64bits(got[i]), "index %d", i)
	}
}

// ============================================================================
// Simulation helpers
// ============================================================================

func TestSimulation(t *testing.T) {
	sim := sample()
	lay := layout.FromBox(mesh.Box{Nx: 3, Ny: 2, Nz: 2, Lx: 1, Ly: 1, Lz: 1})
	assert.Len(t, sim.P, 12)
	assert.Len(t, sim.U, lay.Sizes[layout.U])

	t.Run("clone is deep", func(t *testing.T) {
		c := sim.Clone()
		c.U[0] = 42
		c.B[1] = 42
		assert.NotEqual(t, 42.0, sim.U[0])
		assert.NotEqual(t, 42.0, sim.B[1])
	})
	t.Run("finite", func(t *testing.T) {
		assert.True(t, sim.Finite())
		c := sim.Clone()
		c.V[0] = math.Inf(-1)
		assert.False(t, c.Finite())
		c = sim.Clone()
		c.Time = math.NaN()
		assert.False(t, c.Finite())
	})
	t.Run("max speed", func(t *testing.T) {
		box := mesh.Box{Nx: 3, Ny: 2, Nz: 2, Lx: 1, Ly: 1, Lz: 1}
		c := New(lay)
		assert.Equal(t, 0.0, c.MaxSpeed(box))
		// cell (1,0,0): both x faces at 3, its upper z face at 8
		c.U[box.Face(mesh.X, 0, 0, 0)] = 3
		c.U[box.Face(mesh.X, 1, 0, 0)] = 3
		c.W[box.Face(mesh.Z, 1, 0, 0)] = 8
		assert.InDelta(t, 5.0, c.MaxSpeed(box), 1e-15)
	})
}

// ============================================================================
// Store
// ============================================================================

func TestStore_RoundTripIsExact(t *testing.T) {
	s := NewStore(t.TempDir(), "run", quietLogger())
	sim := sample()
	path, err := s.Save(sim)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir, "run_000007.chk"), path)

	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, sim.SaveIndex, got.SaveIndex)
	assert.Equal(t, math.Float64bits(sim.Time), math.Float64bits(got.Time))
	assertBitwise(t, sim.U, got.U)
	assertBitwise(t, sim.V, got.V)
	assertBitwise(t, sim.W, got.W)
	assertBitwise(t, sim.P, got.P)
	assertBitwise(t, sim.B, got.B)
}

func TestStore_EmptyFields(t *testing.T) {
	// a one-cell-thick box has no interior faces across its thin axes
	sim := New(layout.FromBox(mesh.Box{Nx: 4, Ny: 1, Nz: 1, Lx: 1, Ly: 1, Lz: 1}))
	require.Empty(t, sim.V)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sim))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Empty(t, got.V)
	assert.Empty(t, got.W)
	assert.Len(t, got.U, 3)
	assert.Len(t, got.B, 4)
}

func TestStore_Latest(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "state", quietLogger())

	_, _, err := s.Latest()
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	_, _, err = NewStore(filepath.Join(dir, "missing"), "state", nil).Latest()
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	sim := sample()
	for _, idx := range []int{2, 11, 5} {
		sim.SaveIndex = idx
		_, err := s.Save(sim)
		require.NoError(t, err)
	}
	// files of other runs and strays are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_000099.chk"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state_12.chk"), nil, 0644))

	path, idx, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, 11, idx)
	assert.Equal(t, s.Path(11), path)
	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 11, got.SaveIndex)
}

func TestStore_RejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "state", quietLogger())

	bad := filepath.Join(dir, "bad.chk")
	require.NoError(t, os.WriteFile(bad, []byte("KSCOO1\nxxxxxxxx"), 0644))
	_, err := s.Load(bad)
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample()))
	truncated := filepath.Join(dir, "truncated.chk")
	require.NoError(t, os.WriteFile(truncated, buf.Bytes()[:buf.Len()-5], 0644))
	_, err = s.Load(truncated)
	assert.Error(t, err)

	// time record claims 2^40 entries
	raw := append([]byte(nil), buf.Bytes()...)
	binary.LittleEndian.PutUint64(raw[len(checkpointMagic)+8+8:], 1<<40)
	assert.NotPanics(t, func() {
		_, err := Decode(bytes.NewReader(raw))
		assert.Error(t, err)
	})

	_, err = s.Load(filepath.Join(dir, "absent.chk"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
