package reorder

import (
	"math/rand"
	"testing"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grid2D returns the 5-point pattern of an nx × ny grid
func grid2D(nx, ny int) *spmat.CSR {
	n := nx * ny
	t := spmat.NewTriplet(n, n, 5*n)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			c := i + nx*j
			t.Put(c, c, 4)
			if i > 0 {
				t.Put(c, c-1, -1)
			}
			if i < nx-1 {
				t.Put(c, c+1, -1)
			}
			if j > 0 {
				t.Put(c, c-nx, -1)
			}
			if j < ny-1 {
				t.Put(c, c+nx, -1)
			}
		}
	}
	return t.ToCSR()
}

func scramble(rng *rand.Rand, a *spmat.CSR) *spmat.CSR {
	p, _ := FromOrder(rng.Perm(a.Rows))
	return spmat.PermuteSymmetric(a, p.Inverse)
}

// ============================================================================
// Permutation
// ============================================================================

func TestPermutation_ApplyUnapplyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, n := range []int{0, 1, 2, 13, 200} {
		p, err := FromOrder(rng.Perm(n))
		require.NoError(t, err)
		require.NoError(t, p.Validate())

		x := make([]float64, n)
		for i := range x {
			x[i] = rng.Float64()
		}
		y := make([]float64, n)
		back := make([]float64, n)
		p.Apply(y, x)
		p.Unapply(back, y)
		assert.Equal(t, x, back)
	}
}

func TestPermutation_Invalid(t *testing.T) {
	_, err := FromOrder([]int{0, 0, 1})
	assert.Error(t, err)
	_, err = FromOrder([]int{0, 3})
	assert.Error(t, err)

	p := Identity(3)
	p.Inverse[0] = 2
	assert.Error(t, p.Validate())
	assert.NoError(t, Identity(4).Validate())
}

func TestPermutation_ApplyMatchesPermutedOperator(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	a := grid2D(4, 3)
	p, err := FromOrder(rng.Perm(a.Rows))
	require.NoError(t, err)
	ap := spmat.PermuteSymmetric(a, p.Inverse)

	x := make([]float64, a.Rows)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	ax := make([]float64, a.Rows)
	a.MulVec(ax, x)

	px := make([]float64, a.Rows)
	p.Apply(px, x)
	apx := make([]float64, a.Rows)
	ap.MulVec(apx, px)
	got := make([]float64, a.Rows)
	p.Unapply(got, apx)
	assert.InDeltaSlice(t, ax, got, 1e-14)
}

// ============================================================================
// Orderings
// ============================================================================

func TestRCM_ReducesScrambledBandwidth(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	cases := []struct {
		name  string
		a     *spmat.CSR
		limit int
	}{
		{"tridiagonal", grid2D(40, 1), 1},
		{"grid", grid2D(10, 6), 2 * 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := scramble(rng, tc.a)
			p, err := FromOrder(RCM(s))
			require.NoError(t, err)
			r := spmat.PermuteSymmetric(s, p.Inverse)
			assert.LessOrEqual(t, Bandwidth(r), tc.limit)
			assert.Less(t, Bandwidth(r), Bandwidth(s))
		})
	}
}

func TestOrderings_Bijective(t *testing.T) {
	// two disconnected components plus an isolated node
	tr := spmat.NewTriplet(7, 7, 12)
	for i := 0; i < 7; i++ {
		tr.Put(i, i, 1)
	}
	tr.Put(0, 2, 1)
	tr.Put(2, 4, 1)
	tr.Put(1, 3, 1)
	tr.Put(5, 3, 1)
	a := tr.ToCSR()

	for name, order := range map[string][]int{"rcm": RCM(a), "level": LevelOrder(a)} {
		t.Run(name, func(t *testing.T) {
			p, err := FromOrder(order)
			require.NoError(t, err)
			assert.NoError(t, p.Validate())
			assert.Equal(t, 7, p.Len())
		})
	}
	assert.Equal(t, RCM(a), RCM(a))
}

func TestCompute_BlocksKeepOffsets(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	blocks := []Block{
		{Name: "u", Pattern: scramble(rng, grid2D(3, 4))},
		{Name: "v", Pattern: scramble(rng, grid2D(4, 3))},
		{Name: "empty", Pattern: spmat.NewTriplet(0, 0, 0).ToCSR()},
		{Name: "p", Pattern: scramble(rng, grid2D(5, 1))},
	}
	cases := []struct {
		kind   arch.Kind
		method Method
	}{
		{arch.Host, MethodBandwidth},
		{arch.Accelerator, MethodBandwidth},
		{arch.Host, MethodNestedDissection},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String()+"/"+tc.method.String(), func(t *testing.T) {
			p, err := Compute(blocks, tc.kind, tc.method)
			require.NoError(t, err)
			require.NoError(t, p.Validate())
			require.Equal(t, 12+12+5, p.Len())
			for newIdx, old := range p.Perm {
				switch {
				case newIdx < 12:
					assert.Less(t, old, 12)
				case newIdx < 24:
					assert.GreaterOrEqual(t, old, 12)
					assert.Less(t, old, 24)
				default:
					assert.GreaterOrEqual(t, old, 24)
				}
			}
		})
	}

	_, err := Compute([]Block{{Name: "bad", Pattern: spmat.NewTriplet(2, 3, 0).ToCSR()}}, arch.Host, MethodBandwidth)
	assert.Error(t, err)
}

// ============================================================================
// Nested dissection
// ============================================================================

// fill counts the strictly lower entries of the symbolic Cholesky factor of
// a symmetric pattern eliminated in its stored order
func fill(a *spmat.CSR) int {
	adj := make([]map[int]bool, a.Rows)
	for i := range adj {
		adj[i] = make(map[int]bool)
	}
	for i := 0; i < a.Rows; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			if j := a.Ind[p]; j != i {
				adj[i][j], adj[j][i] = true, true
			}
		}
	}
	var count int
	for k := 0; k < a.Rows; k++ {
		var later []int
		for j := range adj[k] {
			if j > k {
				later = append(later, j)
			}
		}
		count += len(later)
		for _, i := range later {
			for _, j := range later {
				if i != j {
					adj[i][j] = true
				}
			}
		}
	}
	return count
}

func TestNestedDissection_BijectiveAndReducesFill(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s := scramble(rng, grid2D(12, 12))
	order, err := NestedDissection(s)
	require.NoError(t, err)
	p, err := FromOrder(order)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	nd := spmat.PermuteSymmetric(s, p.Inverse)
	assert.Less(t, fill(nd), fill(s))

	t.Run("DisconnectedAndIsolated", func(t *testing.T) {
		tr := spmat.NewTriplet(7, 7, 12)
		for i := 0; i < 7; i++ {
			tr.Put(i, i, 1)
		}
		tr.Put(0, 2, 1)
		tr.Put(2, 4, 1)
		tr.Put(1, 3, 1)
		tr.Put(5, 3, 1)
		order, err := NestedDissection(tr.ToCSR())
		require.NoError(t, err)
		p, err := FromOrder(order)
		require.NoError(t, err)
		assert.Equal(t, 7, p.Len())
	})
	t.Run("DiagonalKeepsNaturalOrder", func(t *testing.T) {
		tr := spmat.NewTriplet(4, 4, 4)
		for i := 0; i < 4; i++ {
			tr.Put(i, i, 2)
		}
		order, err := NestedDissection(tr.ToCSR())
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, order)
	})
}

func TestCompute_NestedDissectionIsHostOnly(t *testing.T) {
	blocks := []Block{{Name: "b", Pattern: grid2D(4, 4)}}
	_, err := Compute(blocks, arch.Accelerator, MethodNestedDissection)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	assert.True(t, arch.Host.Supports(arch.FillReducingOrdering))
	assert.False(t, arch.Accelerator.Supports(arch.FillReducingOrdering))
}

func TestParseMethod(t *testing.T) {
	for name, want := range map[string]Method{
		"":                              MethodBandwidth,
		config.OrderingBandwidth:        MethodBandwidth,
		config.OrderingNestedDissection: MethodNestedDissection,
	} {
		got, err := ParseMethod(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMethod("amd")
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}
