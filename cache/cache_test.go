package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/notargets/KrylovStepper/assembly"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/mesh"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func setup(t *testing.T) (*Cache, *assembly.Staggered, string) {
	c, err := New(t.TempDir(), quietLogger())
	require.NoError(t, err)
	p := config.DefaultConfig().Physics
	p.CoriolisTilde = 0.25
	p.MeanFlow = [3]float64{0.1, 0, -0.2}
	box := mesh.Box{Nx: 4, Ny: 3, Nz: 5, Lx: 1, Ly: 1, Lz: 2}
	s, err := assembly.NewStaggered(box, p)
	require.NoError(t, err)
	return c, s, config.CanonicalKey(p, box, assembly.Inversion)
}

// ============================================================================
// Hit / miss
// ============================================================================

func TestGetOrBuild_MissThenHit(t *testing.T) {
	c, s, key := setup(t)
	builds := 0
	build := func() (*spmat.CSR, error) {
		builds++
		return s.InversionOperator()
	}

	miss, res, err := c.GetOrBuild(key, build)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.FileExists(t, res.Path)

	hit, res, err := c.GetOrBuild(key, build)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, 1, builds)

	assert.True(t, hit.SamePattern(miss))
	assert.LessOrEqual(t, miss.RelativeDifference(hit), 1e-12)
	for i := range miss.Data {
		assert.Equal(t, math.Float64bits(miss.Data[i]), math.Float64bits(hit.Data[i]))
	}

	// an independent rebuild agrees with what the cache returned
	fresh, err := s.InversionOperator()
	require.NoError(t, err)
	assert.LessOrEqual(t, fresh.RelativeDifference(hit), 1e-10)

	m, err := c.Manifest()
	require.NoError(t, err)
	require.Contains(t, m.Entries, key)
	assert.Equal(t, assembly.Inversion, m.Entries[key].Name)
	assert.Equal(t, miss.NNZ(), m.Entries[key].NNZ)
}

func TestGetOrBuild_CorruptFileRebuilds(t *testing.T) {
	c, s, key := setup(t)
	require.NoError(t, os.WriteFile(c.Path(key), []byte("KSCOO1\ntruncated"), 0644))

	a, res, err := c.GetOrBuild(key, s.InversionOperator)
	require.NoError(t, err)
	assert.False(t, res.Hit)

	b, res, err := c.GetOrBuild(key, s.InversionOperator)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, 0.0, a.RelativeDifference(b))
}

func TestGetOrBuild_ImpossibleEntryCountRebuilds(t *testing.T) {
	c, s, key := setup(t)
	var raw bytes.Buffer
	raw.WriteString("KSCOO1\n")
	require.NoError(t, binary.Write(&raw, binary.LittleEndian, []int64{2, 2, 1 << 62}))
	require.NoError(t, os.WriteFile(c.Path(key), raw.Bytes(), 0644))

	var a *spmat.CSR
	var res Result
	require.NotPanics(t, func() {
		var err error
		a, res, err = c.GetOrBuild(key, s.InversionOperator)
		require.NoError(t, err)
	})
	assert.False(t, res.Hit)

	b, res, err := c.GetOrBuild(key, s.InversionOperator)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, 0.0, a.RelativeDifference(b))
}

func TestGetOrBuild_Errors(t *testing.T) {
	c, _, _ := setup(t)
	boom := errors.New("assembly failed")
	_, _, err := c.GetOrBuild("inversion-abc", func() (*spmat.CSR, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, c.Path("inversion-abc"))

	_, _, err = c.GetOrBuild("../escape", func() (*spmat.CSR, error) { return nil, nil })
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	_, err = New("", nil)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestKeys_DistinguishOperators(t *testing.T) {
	c, s, key := setup(t)
	p := config.DefaultConfig().Physics
	box := s.Mesh()
	other := config.CanonicalKey(p, box, assembly.Evolution)
	assert.NotEqual(t, key, other)

	a, _, err := c.GetOrBuild(key, s.InversionOperator)
	require.NoError(t, err)
	b, res, err := c.GetOrBuild(other, s.EvolutionOperator)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	ra, _ := a.Dims()
	rb, _ := b.Dims()
	assert.NotEqual(t, ra, rb)
}
