package octree

import "github.com/notargets/octforest/octant"

// DepTable is a dependent-node table in compressed-row form. Conn entries
// are the ids the surrounding mesh uses for independent nodes, so the
// same routines serve both a standalone tree (local ids) and a forest
// block (global ids).
type DepTable struct {
	Ptr     []int
	Conn    []int
	Weights []float64
}

// expand folds the id of the node stored at index idx of the array into
// the row: independent tags contribute directly, dependent tags are
// unraveled through the table.
func (d DepTable) expand(nodes *octant.Array, idx int, weight float64, row *indexWeights) {
	tag := nodes.Get(idx).Tag
	if tag >= 0 {
		row.add(int(tag), weight)
		return
	}
	node := int(-tag) - 1
	for jp := d.Ptr[node]; jp < d.Ptr[node+1]; jp++ {
		row.add(d.Conn[jp], weight*d.Weights[jp])
	}
}

// InterpolationRows builds one prolongation row per independent fine
// node, in fine-node Morton order. The stencil follows the fine node's
// child id at its grid level: a coincident coarse node passes through
// with weight one, an edge midpoint averages its two coarse endpoints, a
// face centre its four corners, the element centre all eight. Coarse
// dependent contributions are expanded through cdep. Rows are
// unique-sorted by column with duplicate columns coalesced.
func InterpolationRows(fine, coarse *Octree, cdep DepTable,
	emit func(node int, conn []int, weights []float64)) error {

	if fine.nodes == nil || coarse.nodes == nil {
		return ErrNoNodes
	}

	for fi, fn := range fine.nodes.Slice() {
		if fn.Tag < 0 {
			continue
		}
		var row indexWeights

		if idx, ok := coarse.nodes.Contains(fn, true); ok {
			cdep.expand(coarse.nodes, idx, 1.0, &row)
		} else {
			// The node has no coarse counterpart: its child id at the
			// node-grid level selects the stencil
			id := fn.ChildID()
			h := fn.EdgeLength()

			lookup := func(q octant.Octant, w float64) {
				idx, ok := coarse.nodes.Contains(q, true)
				if !ok {
					panic("octree: interpolation stencil node missing from coarse array")
				}
				cdep.expand(coarse.nodes, idx, w, &row)
			}

			switch id {
			case 1, 2, 4:
				n := fn.Sibling(0)
				lookup(n, 0.5)
				switch id {
				case 1:
					n.X += 2 * h
				case 2:
					n.Y += 2 * h
				case 4:
					n.Z += 2 * h
				}
				lookup(n, 0.5)

			case 3, 5, 6:
				n := fn.Sibling(0)
				var ie, je [3]int32
				switch id {
				case 3:
					ie[0], je[1] = 1, 1
				case 5:
					ie[0], je[2] = 1, 1
				case 6:
					ie[1], je[2] = 1, 1
				}
				for jj := int32(0); jj < 2; jj++ {
					for ii := int32(0); ii < 2; ii++ {
						q := octant.Octant{
							X: n.X + 2*h*(ii*ie[0]+jj*je[0]),
							Y: n.Y + 2*h*(ii*ie[1]+jj*je[1]),
							Z: n.Z + 2*h*(ii*ie[2]+jj*je[2]),
						}
						lookup(q, 0.25)
					}
				}

			case 7:
				n := fn.Sibling(0)
				for kk := int32(0); kk < 2; kk++ {
					for jj := int32(0); jj < 2; jj++ {
						for ii := int32(0); ii < 2; ii++ {
							q := octant.Octant{
								X: n.X + 2*h*ii,
								Y: n.Y + 2*h*jj,
								Z: n.Z + 2*h*kk,
							}
							lookup(q, 0.125)
						}
					}
				}

			default:
				panic("octree: fine node on the coarse grid missing from coarse array")
			}
		}

		row = row.uniqueSort()
		conn := make([]int, len(row))
		weights := make([]float64, len(row))
		for k, e := range row {
			conn[k] = e.index
			weights[k] = e.weight
		}
		emit(fi, conn, weights)
	}
	return nil
}

// restrictionStencil is the full-approximation 1D weight profile.
var restrictionStencil = [3]float64{0.5, 1.0, 0.5}

// RestrictionRows builds one restriction row per independent coarse node
// in coarse-node Morton order, summing fine contributions over a 3x3x3
// stencil at the fine grid step and normalizing by the weight actually
// accumulated, so boundary nodes with truncated stencils still sum to
// one. Fine dependent contributions are expanded through fdep.
func RestrictionRows(fine, coarse *Octree, fdep DepTable,
	emit func(node int, conn []int, weights []float64)) error {

	if fine.nodes == nil || coarse.nodes == nil {
		return ErrNoNodes
	}

	for ci, cn := range coarse.nodes.Slice() {
		if cn.Tag < 0 {
			continue
		}

		idx, ok := fine.nodes.Contains(cn, true)
		if !ok {
			panic("octree: coarse node missing from fine array")
		}
		h := fine.nodes.Get(idx).EdgeLength()

		var row indexWeights
		w := 0.0
		for kk := 0; kk < 3; kk++ {
			for jj := 0; jj < 3; jj++ {
				for ii := 0; ii < 3; ii++ {
					q := octant.Octant{
						X: cn.X + h*int32(ii-1),
						Y: cn.Y + h*int32(jj-1),
						Z: cn.Z + h*int32(kk-1),
					}
					fidx, ok := fine.nodes.Contains(q, true)
					if !ok {
						continue
					}
					wk := restrictionStencil[ii] * restrictionStencil[jj] * restrictionStencil[kk]
					w += wk
					fdep.expand(fine.nodes, fidx, wk, &row)
				}
			}
		}

		row = row.uniqueSort()
		conn := make([]int, len(row))
		weights := make([]float64, len(row))
		for k, e := range row {
			conn[k] = e.index
			weights[k] = e.weight / w
		}
		emit(ci, conn, weights)
	}
	return nil
}

// depTable returns the tree's own dependent table.
func (t *Octree) depTable() DepTable {
	return DepTable{Ptr: t.depPtr, Conn: t.depConn, Weights: t.depWeights}
}

// CreateInterpolation builds the prolongation operator from the coarse
// tree onto this tree in compressed-row form over local independent ids.
func (t *Octree) CreateInterpolation(coarse *Octree) (ptr, conn []int, weights []float64, err error) {
	ptr = []int{0}
	err = InterpolationRows(t, coarse, coarse.depTable(), func(_ int, c []int, w []float64) {
		conn = append(conn, c...)
		weights = append(weights, w...)
		ptr = append(ptr, len(conn))
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return ptr, conn, weights, nil
}

// CreateRestriction builds the scaled-transpose restriction operator from
// this (fine) tree onto the coarse tree in compressed-row form.
func (t *Octree) CreateRestriction(coarse *Octree) (ptr, conn []int, weights []float64, err error) {
	ptr = []int{0}
	err = RestrictionRows(t, coarse, t.depTable(), func(_ int, c []int, w []float64) {
		conn = append(conn, c...)
		weights = append(weights, w...)
		ptr = append(ptr, len(conn))
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return ptr, conn, weights, nil
}
