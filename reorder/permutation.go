// Package reorder computes bandwidth-reducing permutations of the global
// degrees of freedom, one variable block at a time.
package reorder

import (
	"fmt"
)

// Permutation maps new positions to old ones: Perm[new] = old and
// Inverse[old] = new.
type Permutation struct {
	Perm    []int
	Inverse []int
}

// Identity returns the identity permutation on [0, n)
func Identity(n int) Permutation {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return Permutation{Perm: p, Inverse: append([]int(nil), p...)}
}

// FromOrder builds a permutation from a new-to-old ordering and validates it
func FromOrder(perm []int) (Permutation, error) {
	p := Permutation{Perm: perm, Inverse: make([]int, len(perm))}
	for i := range p.Inverse {
		p.Inverse[i] = -1
	}
	for newIdx, old := range perm {
		if old < 0 || old >= len(perm) {
			return Permutation{}, fmt.Errorf("permutation entry %d = %d outside [0,%d)", newIdx, old, len(perm))
		}
		if p.Inverse[old] >= 0 {
			return Permutation{}, fmt.Errorf("permutation maps %d and %d to %d", p.Inverse[old], newIdx, old)
		}
		p.Inverse[old] = newIdx
	}
	return p, nil
}

// Len returns N
func (p Permutation) Len() int { return len(p.Perm) }

// Validate checks that Perm is a bijection on [0, N) and Inverse its inverse
func (p Permutation) Validate() error {
	if len(p.Inverse) != len(p.Perm) {
		return fmt.Errorf("permutation has %d entries, inverse %d", len(p.Perm), len(p.Inverse))
	}
	seen := make([]bool, len(p.Perm))
	for newIdx, old := range p.Perm {
		if old < 0 || old >= len(p.Perm) || seen[old] {
			return fmt.Errorf("permutation is not a bijection at %d -> %d", newIdx, old)
		}
		seen[old] = true
		if p.Inverse[old] != newIdx {
			return fmt.Errorf("inverse[%d] = %d, want %d", old, p.Inverse[old], newIdx)
		}
	}
	return nil
}

// Apply reorders src (old ordering) into dst (new ordering). dst and src must not alias.
func (p Permutation) Apply(dst, src []float64) {
	p.check(dst, src)
	for newIdx, old := range p.Perm {
		dst[newIdx] = src[old]
	}
}

// Unapply reorders src (new ordering) back into dst (old ordering)
func (p Permutation) Unapply(dst, src []float64) {
	p.check(dst, src)
	for newIdx, old := range p.Perm {
		dst[old] = src[newIdx]
	}
}

func (p Permutation) check(dst, src []float64) {
	if len(dst) != len(p.Perm) || len(src) != len(p.Perm) {
		panic(fmt.Sprintf("reorder: vectors of length %d/%d for permutation of %d",
			len(dst), len(src), len(p.Perm)))
	}
}
