package spmat

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rng *rand.Rand, n, m, nnz int) *CSR {
	t := NewTriplet(n, m, nnz)
	for k := 0; k < nnz; k++ {
		t.Put(rng.Intn(n), rng.Intn(m), rng.NormFloat64())
	}
	return t.ToCSR()
}

// ============================================================================
// Triplet assembly
// ============================================================================

func TestTriplet_SumsDuplicatesKeepsZeros(t *testing.T) {
	tr := NewTriplet(3, 3, 8)
	tr.Put(2, 1, 1.5)
	tr.Put(0, 0, 1)
	tr.Put(2, 1, 2.5)
	tr.Put(1, 1, 0) // structural zero
	tr.Put(0, 2, -1)
	assert.Equal(t, 5, tr.Len())

	a := tr.ToCSR()
	assert.Equal(t, 4, a.NNZ())
	assert.Equal(t, []int{0, 2, 3, 4}, a.Indptr)
	assert.Equal(t, []int{0, 2, 1, 1}, a.Ind)
	assert.Equal(t, []float64{1, -1, 0, 4}, a.Data)
	assert.Equal(t, 4.0, a.At(2, 1))
	assert.Equal(t, []float64{1, 0, 0}, a.Diagonal())
}

func TestTriplet_OutOfRangePanics(t *testing.T) {
	tr := NewTriplet(2, 2, 1)
	assert.Panics(t, func() { tr.Put(2, 0, 1) })
	assert.Panics(t, func() { tr.Put(0, -1, 1) })
}

func TestCSR_MulVecMatchesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomMatrix(rng, 7, 5, 20)
	x := []float64{1, -2, 0.5, 3, -1}
	got := make([]float64, 7)
	got[0] = 99 // MulVec must overwrite
	a.MulVec(got, x)

	d := a.Dense()
	for i := 0; i < 7; i++ {
		var want float64
		for j := 0; j < 5; j++ {
			want += d.At(i, j) * x[j]
		}
		assert.InDelta(t, want, got[i], 1e-13)
	}
}

// ============================================================================
// Permutation
// ============================================================================

func TestPermuteSymmetric_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := 9
	a := randomMatrix(rng, n, n, 30)

	perm := rng.Perm(n) // perm[new] = old
	inv := make([]int, n)
	for newIdx, old := range perm {
		inv[old] = newIdx
	}
	b := PermuteSymmetric(a, inv)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.Equal(t, a.At(perm[i], perm[j]), b.At(i, j))
		}
	}
	back := PermuteSymmetric(b, perm) // perm is the inverse of inv
	assert.True(t, back.SamePattern(a))
	assert.Equal(t, 0.0, a.RelativeDifference(back))
}

func TestCSR_Diagnostics(t *testing.T) {
	tr := NewTriplet(4, 4, 10)
	for i := 0; i < 4; i++ {
		tr.Put(i, i, 2)
		if i > 0 {
			tr.Put(i, i-1, -1)
			tr.Put(i-1, i, -1)
		}
	}
	tr.Put(0, 3, 0.5)
	tr.Put(3, 0, 0.5)
	a := tr.ToCSR()
	assert.Equal(t, 3, a.Bandwidth())
	assert.True(t, a.IsSymmetric(0))

	b := NewTriplet(4, 4, 1)
	b.Put(0, 3, 1)
	assert.False(t, b.ToCSR().IsSymmetric(1e-12))

	assert.InDelta(t, 0, a.RelativeDifference(a), 0)
	c := Permute(a, nil, nil)
	assert.True(t, c.SamePattern(a))
	assert.True(t, math.IsInf(a.RelativeDifference(NewTriplet(3, 3, 0).ToCSR()), 1))
}

// ============================================================================
// Triple file format
// ============================================================================

func TestTriplets_WriteReadBitwise(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randomMatrix(rng, 40, 33, 300)
	a.Data[0] = math.Nextafter(1, 2) // awkward bit pattern survives

	var buf bytes.Buffer
	require.NoError(t, WriteTriplets(&buf, a))
	b, err := ReadTriplets(&buf)
	require.NoError(t, err)

	assert.True(t, b.SamePattern(a))
	for i := range a.Data {
		assert.Equal(t, math.Float64bits(a.Data[i]), math.Float64bits(b.Data[i]))
	}
}

func TestTriplets_EmptyAndCorrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTriplets(&buf, NewTriplet(1, 1, 0).ToCSR()))
	e, err := ReadTriplets(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, e.NNZ())

	_, err = ReadTriplets(bytes.NewBufferString("garbage that is not a matrix"))
	assert.Error(t, err)

	buf.Reset()
	a := NewTriplet(2, 2, 1)
	a.Put(1, 1, 3)
	require.NoError(t, WriteTriplets(&buf, a.ToCSR()))
	truncated := buf.Bytes()[:buf.Len()-4]
	_, err = ReadTriplets(bytes.NewReader(truncated))
	assert.Error(t, err)

	t.Run("ImpossibleHeaderCounts", func(t *testing.T) {
		for _, h := range [][3]int64{
			{2, 2, 1 << 62},
			{2, 2, 5},
			{0, 3, 1},
			{1 << 40, 1, 0},
			{-1, 2, 0},
			{1000, 1000, 1 << 19},
		} {
			var b bytes.Buffer
			b.WriteString(tripletMagic)
			require.NoError(t, binary.Write(&b, binary.LittleEndian, h[:]))
			assert.NotPanics(t, func() {
				_, err := ReadTriplets(&b)
				assert.Error(t, err, "header %v", h)
			})
		}
	})
	t.Run("OversizedValueVector", func(t *testing.T) {
		var b bytes.Buffer
		require.NoError(t, WriteTriplets(&b, a.ToCSR()))
		raw := b.Bytes()
		// rows field of the gonum vector header after magic, counts and indices
		off := len(tripletMagic) + 3*8 + 2*8 + 8
		binary.LittleEndian.PutUint64(raw[off:], 1<<40)
		assert.NotPanics(t, func() {
			_, err := ReadTriplets(bytes.NewReader(raw))
			assert.Error(t, err)
		})
	})
}
