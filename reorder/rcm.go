package reorder

import (
	"fmt"
	"sort"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// Block is one variable block of the global layout. Pattern is a cheap
// auxiliary (mass or Laplacian type) matrix whose sparsity defines the
// adjacency between the block's DOFs.
type Block struct {
	Name    string
	Pattern *spmat.CSR
}

// Method selects how Compute orders each block
type Method uint8

const (
	// MethodBandwidth minimizes the matrix profile: reverse Cuthill-McKee on
	// the host, a reversed level ordering on an accelerator.
	MethodBandwidth Method = iota
	// MethodNestedDissection is the METIS fill-reducing ordering. Host only.
	MethodNestedDissection
)

func (m Method) String() string {
	switch m {
	case MethodBandwidth:
		return config.OrderingBandwidth
	case MethodNestedDissection:
		return config.OrderingNestedDissection
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// ParseMethod maps a configuration name to a Method; empty selects MethodBandwidth
func ParseMethod(name string) (Method, error) {
	switch name {
	case config.OrderingBandwidth, "":
		return MethodBandwidth, nil
	case config.OrderingNestedDissection:
		return MethodNestedDissection, nil
	}
	return MethodBandwidth, simerr.Configuration("unknown ordering %q", name)
}

// Compute orders every block independently and composes the block orderings
// with fixed offsets: block b keeps the index range it occupies in the global
// layout. MethodBandwidth uses reverse Cuthill-McKee on the host and a reversed
// breadth-first level ordering on an accelerator.
func Compute(blocks []Block, kind arch.Kind, method Method) (Permutation, error) {
	if method == MethodNestedDissection && !kind.Supports(arch.FillReducingOrdering) {
		return Permutation{}, simerr.Configuration("%v is not supported on %v", arch.FillReducingOrdering, kind)
	}
	var total int
	for _, b := range blocks {
		r, c := b.Pattern.Dims()
		if r != c {
			return Permutation{}, fmt.Errorf("block %s pattern is %dx%d, not square", b.Name, r, c)
		}
		total += r
	}
	perm := make([]int, 0, total)
	var offset int
	for _, b := range blocks {
		var order []int
		switch {
		case method == MethodNestedDissection:
			var err error
			if order, err = NestedDissection(b.Pattern); err != nil {
				return Permutation{}, fmt.Errorf("block %s: %w", b.Name, err)
			}
		case kind == arch.Accelerator:
			order = LevelOrder(b.Pattern)
		default:
			order = RCM(b.Pattern)
		}
		for _, old := range order {
			perm = append(perm, offset+old)
		}
		offset += b.Pattern.Rows
	}
	p, err := FromOrder(perm)
	if err != nil {
		return Permutation{}, fmt.Errorf("composed block permutation: %w", err)
	}
	return p, nil
}

// Bandwidth returns max |i - j| over the stored entries of a
func Bandwidth(a *spmat.CSR) int { return a.Bandwidth() }

// adjacency builds the symmetrized off-diagonal graph of a square pattern
func adjacency(a *spmat.CSR) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for i := 0; i < a.Rows; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < a.Rows; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			j := a.Ind[p]
			if j == i || g.HasEdgeBetween(int64(i), int64(j)) {
				continue
			}
			g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(j)})
		}
	}
	return g
}

func degree(g graph.Undirected, id int64) int { return g.From(id).Len() }

// neighbours returns the ids adjacent to id sorted by increasing degree, ties
// by id, so orderings are deterministic
func neighbours(g graph.Undirected, id int64) []int64 {
	var out []int64
	for it := g.From(id); it.Next(); {
		out = append(out, it.Node().ID())
	}
	sort.Slice(out, func(a, b int) bool {
		da, db := degree(g, out[a]), degree(g, out[b])
		if da != db {
			return da < db
		}
		return out[a] < out[b]
	})
	return out
}

// components returns the connected components with nodes sorted by id, and
// the components sorted by their smallest id
func components(g graph.Undirected) [][]int64 {
	cc := topo.ConnectedComponents(g)
	out := make([][]int64, len(cc))
	for c, nodes := range cc {
		ids := make([]int64, len(nodes))
		for n, node := range nodes {
			ids[n] = node.ID()
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		out[c] = ids
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}

// levels returns the eccentricity of from and the lowest-degree node of the
// last breadth-first level
func levels(g graph.Undirected, from int64) (depth int, far int64) {
	var bf traverse.BreadthFirst
	far = from
	bf.Walk(g, g.Node(from), func(n graph.Node, d int) bool {
		id := n.ID()
		switch {
		case d > depth:
			depth, far = d, id
		case d == depth && (degree(g, id) < degree(g, far) ||
			(degree(g, id) == degree(g, far) && id < far)):
			far = id
		}
		return false
	})
	return depth, far
}

// peripheral finds a pseudo-peripheral node of the component (George-Liu):
// start from the minimum degree node and hop to the far end of the level
// structure while the eccentricity keeps growing
func peripheral(g graph.Undirected, comp []int64) int64 {
	start := comp[0]
	for _, id := range comp[1:] {
		if degree(g, id) < degree(g, start) {
			start = id
		}
	}
	ecc, far := levels(g, start)
	for {
		nEcc, nFar := levels(g, far)
		if nEcc <= ecc {
			return start
		}
		start, ecc, far = far, nEcc, nFar
	}
}

// RCM returns the reverse Cuthill-McKee ordering (new to old) of a square pattern
func RCM(a *spmat.CSR) []int {
	g := adjacency(a)
	order := make([]int, 0, a.Rows)
	visited := make([]bool, a.Rows)
	for _, comp := range components(g) {
		start := peripheral(g, comp)
		queue := []int64{start}
		visited[start] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			order = append(order, int(id))
			for _, nb := range neighbours(g, id) {
				if !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
	}
	reverse(order)
	return order
}

// LevelOrder returns a reversed breadth-first ordering from the first node of
// each component. Cheaper than RCM; sibling order follows the graph's
// iteration order.
func LevelOrder(a *spmat.CSR) []int {
	g := adjacency(a)
	order := make([]int, 0, a.Rows)
	var bf traverse.BreadthFirst
	bf.Visit = func(n graph.Node) { order = append(order, int(n.ID())) }
	for _, comp := range components(g) {
		bf.Walk(g, g.Node(comp[0]), nil)
	}
	reverse(order)
	return order
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
