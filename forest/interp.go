package forest

import (
	"github.com/james-bowman/sparse"

	"github.com/notargets/octforest/octree"
)

// depTable wraps the rank-level dependent table for the tree-level
// transfer routines.
func (f *Forest) depTable() octree.DepTable {
	return octree.DepTable{Ptr: f.depPtr, Conn: f.depConn, Weights: f.depWeights}
}

// CreateInterpolation builds the prolongation operator from the coarse
// forest onto this (fine) forest in compressed-row form over global
// independent node ids. One row is emitted per fine node owned by this
// rank, in ascending global id order, so the rows cover exactly
// [range[r], range[r+1]). The coarse forest must share this forest's
// block ownership, which holds for a Coarsen-derived hierarchy without
// an intervening repartition.
func (f *Forest) CreateInterpolation(coarse *Forest) (ptr, conn []int, weights []float64, err error) {
	if !f.hasNodes || !coarse.hasNodes {
		return nil, nil, nil, ErrNoNodes
	}

	ptr = []int{0}
	cdep := coarse.depTable()
	for _, b := range f.OwnedBlocks() {
		ownedHere := f.ownedNodes[b]
		err = octree.InterpolationRows(f.trees[b], coarse.trees[b], cdep,
			func(node int, c []int, w []float64) {
				if !ownedHere[node] {
					return
				}
				conn = append(conn, c...)
				weights = append(weights, w...)
				ptr = append(ptr, len(conn))
			})
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return ptr, conn, weights, nil
}

// CreateRestriction builds the normalized-transpose restriction from
// this (fine) forest onto the coarse forest: one row per owned coarse
// independent node over global fine ids.
func (f *Forest) CreateRestriction(coarse *Forest) (ptr, conn []int, weights []float64, err error) {
	if !f.hasNodes || !coarse.hasNodes {
		return nil, nil, nil, ErrNoNodes
	}

	ptr = []int{0}
	fdep := f.depTable()
	for _, b := range coarse.OwnedBlocks() {
		ownedHere := coarse.ownedNodes[b]
		err = octree.RestrictionRows(f.trees[b], coarse.trees[b], fdep,
			func(node int, c []int, w []float64) {
				if !ownedHere[node] {
					return
				}
				conn = append(conn, c...)
				weights = append(weights, w...)
				ptr = append(ptr, len(conn))
			})
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return ptr, conn, weights, nil
}

// InterpolationCSR assembles the prolongation rows of this rank into a
// sparse CSR matrix: the local row slab against the full coarse column
// space.
func (f *Forest) InterpolationCSR(coarse *Forest) (*sparse.CSR, error) {
	ptr, conn, weights, err := f.CreateInterpolation(coarse)
	if err != nil {
		return nil, err
	}
	rows := len(ptr) - 1
	cols := coarse.nodeRange[len(coarse.nodeRange)-1]
	return sparse.NewCSR(rows, cols, ptr, conn, weights), nil
}

// RestrictionCSR assembles the restriction rows of this rank into a
// sparse CSR matrix over the full fine column space.
func (f *Forest) RestrictionCSR(coarse *Forest) (*sparse.CSR, error) {
	ptr, conn, weights, err := f.CreateRestriction(coarse)
	if err != nil {
		return nil, err
	}
	rows := len(ptr) - 1
	cols := f.nodeRange[len(f.nodeRange)-1]
	return sparse.NewCSR(rows, cols, ptr, conn, weights), nil
}
