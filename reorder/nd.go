package reorder

import (
	"fmt"
	"sort"

	"github.com/notargets/KrylovStepper/spmat"
	"github.com/notargets/go-metis"
)

// metisGraph converts the symmetrized off-diagonal pattern of a into the CSR
// adjacency arrays METIS expects
func metisGraph(a *spmat.CSR) (xadj, adjncy []int32) {
	nbrs := make([]map[int]struct{}, a.Rows)
	for i := range nbrs {
		nbrs[i] = make(map[int]struct{})
	}
	for i := 0; i < a.Rows; i++ {
		for p := a.Indptr[i]; p < a.Indptr[i+1]; p++ {
			if j := a.Ind[p]; j != i {
				nbrs[i][j] = struct{}{}
				nbrs[j][i] = struct{}{}
			}
		}
	}
	xadj = make([]int32, a.Rows+1)
	for i, set := range nbrs {
		row := make([]int, 0, len(set))
		for j := range set {
			row = append(row, j)
		}
		sort.Ints(row)
		for _, j := range row {
			adjncy = append(adjncy, int32(j))
		}
		xadj[i+1] = int32(len(adjncy))
	}
	return xadj, adjncy
}

// NestedDissection returns the METIS nested dissection ordering (new to old)
// of a square pattern. A pattern without off-diagonal entries keeps its
// natural order.
func NestedDissection(a *spmat.CSR) ([]int, error) {
	xadj, adjncy := metisGraph(a)
	if len(adjncy) == 0 {
		return Identity(a.Rows).Perm, nil
	}
	opts := make([]int32, metis.NoOptions)
	if err := metis.SetDefaultOptions(opts); err != nil {
		return nil, fmt.Errorf("metis options: %w", err)
	}
	perm, _, err := metis.NodeND(xadj, adjncy, nil, opts)
	if err != nil {
		return nil, fmt.Errorf("metis nested dissection: %w", err)
	}
	order := make([]int, len(perm))
	for n, old := range perm {
		order[n] = int(old)
	}
	return order, nil
}
