package octree

import "github.com/notargets/octforest/octant"

// nodeStep returns the node-grid spacing of an element with edge length h
// for the given order: corners only for order 2, the half-step 27-grid
// for order 3.
func nodeStep(h int32, order int) int32 {
	if order == 3 {
		return h >> 1
	}
	return h
}

// CreateNodeCandidates builds the node array: order^3 tensor-product
// positions per element, sorted and deduplicated by coordinates. Every
// node carries the positive sentinel tag and the level of its finest
// adjacent element grid, which later drives dependent classification and
// the restriction stencil.
func (t *Octree) CreateNodeCandidates(order int) {
	if order < 2 {
		order = 2
	}
	if order > 3 {
		order = 3
	}
	t.order = order
	t.invalidateNodes()

	elems := t.elements.Slice()
	all := make([]octant.Octant, 0, order*order*order*len(elems))
	for _, e := range elems {
		h := e.EdgeLength()
		step := nodeStep(h, order)
		for kk := 0; kk < order; kk++ {
			for jj := 0; jj < order; jj++ {
				for ii := 0; ii < order; ii++ {
					all = append(all, octant.Octant{
						X:   e.X + int32(ii)*step,
						Y:   e.Y + int32(jj)*step,
						Z:   e.Z + int32(kk)*step,
						Tag: 1,
					})
				}
			}
		}
	}

	nodes := octant.NewArray(all)
	nodes.Sort()
	nodes.Uniquify()
	t.nodes = nodes

	// Stamp each node with the level of the finest adjacent element. For
	// order 3 the node grid lives one level below the element.
	for _, e := range elems {
		h := e.EdgeLength()
		step := nodeStep(h, order)
		gridLevel := e.Level
		if order == 3 {
			gridLevel++
		}
		for kk := 0; kk < order; kk++ {
			for jj := 0; jj < order; jj++ {
				for ii := 0; ii < order; ii++ {
					q := octant.Octant{
						X: e.X + int32(ii)*step,
						Y: e.Y + int32(jj)*step,
						Z: e.Z + int32(kk)*step,
					}
					idx, ok := nodes.Contains(q, true)
					if !ok {
						panic("octree: element node missing from node array")
					}
					if gridLevel > nodes.Get(idx).Level {
						nodes.SetLevel(idx, gridLevel)
					}
				}
			}
		}
	}
}

// DepRow parameterizes one dependent node: the independent parent node
// positions and the shape-function weights that reconstruct its value.
// Weights sum to one.
type DepRow struct {
	Node    int // index into the node array
	Parents []octant.Octant
	Weights []float64
}

// shape1D evaluates the 1D nodal shape functions at parametric xi in
// [0,1]: linear over {0,1} for order 2, quadratic over {0,1/2,1} for
// order 3.
func shape1D(order int, xi float64) []float64 {
	if order == 3 {
		return []float64{
			2.0*xi*xi - 3.0*xi + 1.0,
			4.0 * xi * (1.0 - xi),
			xi * (2.0*xi - 1.0),
		}
	}
	return []float64{1.0 - xi, xi}
}

// touchingElements collects the distinct elements whose closed cubes
// contain the node position, probing the up-to-eight cells around it.
// Ghost elements in extended coordinates (from neighboring blocks) are
// scanned linearly.
func (t *Octree) touchingElements(p octant.Octant, ghosts []octant.Octant) []octant.Octant {
	var cands []octant.Octant
	seen := make(map[octant.Octant]bool, 8)
	for k := 0; k < 8; k++ {
		sx := p.X
		sy := p.Y
		sz := p.Z
		if k&1 != 0 {
			sx--
		}
		if k&2 != 0 {
			sy--
		}
		if k&4 != 0 {
			sz--
		}
		sample := octant.Octant{X: sx, Y: sy, Z: sz, Level: octant.MaxLevel}
		if sample.InDomain() {
			if i, ok := t.FindEnclosing(sample); ok {
				e := t.elements.Get(i)
				e.Tag = 0
				if !seen[e] {
					seen[e] = true
					cands = append(cands, e)
				}
			}
			continue
		}
		for _, g := range ghosts {
			h := g.EdgeLength()
			if sx >= g.X && sx < g.X+h &&
				sy >= g.Y && sy < g.Y+h &&
				sz >= g.Z && sz < g.Z+h {
				g.Tag = 0
				if !seen[g] {
					seen[g] = true
					cands = append(cands, g)
				}
				break
			}
		}
	}
	return cands
}

// DependentRows classifies every node against the element set plus the
// given ghost elements. A node is dependent when some coarser touching
// element does not carry it on its own node grid; its parents are that
// element's grid nodes on the shared face or edge, weighted by the
// tensor-product shape functions at the node's parametric position.
// Rows are fully expanded: a dependent parent is replaced by its own
// independent parents.
func (t *Octree) DependentRows(ghosts []octant.Octant) []DepRow {
	if t.nodes == nil {
		return nil
	}

	type rawRow struct {
		parents []octant.Octant
		weights []float64
	}
	raw := make(map[int]rawRow)

	nodes := t.nodes.Slice()
	for i, p := range nodes {
		cands := t.touchingElements(p, ghosts)

		// The coarsest element whose grid misses this node decides
		var dep *octant.Octant
		for k := range cands {
			e := cands[k]
			step := nodeStep(e.EdgeLength(), t.order)
			if (p.X-e.X)%step == 0 && (p.Y-e.Y)%step == 0 && (p.Z-e.Z)%step == 0 {
				continue
			}
			if dep == nil || e.Level < dep.Level {
				dep = &cands[k]
			}
		}
		if dep == nil {
			continue
		}

		e := *dep
		h := e.EdgeLength()
		step := nodeStep(h, t.order)
		nu := shape1D(t.order, float64(p.X-e.X)/float64(h))
		nv := shape1D(t.order, float64(p.Y-e.Y)/float64(h))
		nw := shape1D(t.order, float64(p.Z-e.Z)/float64(h))

		var row rawRow
		const tol = 1e-14
		for kk := range nw {
			for jj := range nv {
				for ii := range nu {
					w := nu[ii] * nv[jj] * nw[kk]
					if w > tol || w < -tol {
						row.parents = append(row.parents, octant.Octant{
							X: e.X + int32(ii)*step,
							Y: e.Y + int32(jj)*step,
							Z: e.Z + int32(kk)*step,
						})
						row.weights = append(row.weights, w)
					}
				}
			}
		}
		raw[i] = row
	}

	// Expand chains: a parent that is itself dependent contributes its
	// own parents, scaled.
	var expand func(i int, visiting map[int]bool) ([]octant.Octant, []float64)
	memo := make(map[int]rawRow)
	expand = func(i int, visiting map[int]bool) ([]octant.Octant, []float64) {
		if r, ok := memo[i]; ok {
			return r.parents, r.weights
		}
		if visiting[i] {
			panic("octree: dependent node cycle")
		}
		visiting[i] = true
		r := raw[i]
		var parents []octant.Octant
		var weights []float64
		for k, par := range r.parents {
			idx, ok := t.nodes.Contains(par, true)
			if !ok {
				panic("octree: dependent parent missing from node array")
			}
			if _, isDep := raw[idx]; isDep {
				pp, pw := expand(idx, visiting)
				for m := range pp {
					parents = append(parents, pp[m])
					weights = append(weights, r.weights[k]*pw[m])
				}
			} else {
				parents = append(parents, par)
				weights = append(weights, r.weights[k])
			}
		}
		delete(visiting, i)
		memo[i] = rawRow{parents, weights}
		return parents, weights
	}

	rows := make([]DepRow, 0, len(raw))
	for i := 0; i < len(nodes); i++ {
		if _, ok := raw[i]; !ok {
			continue
		}
		parents, weights := expand(i, map[int]bool{})
		rows = append(rows, DepRow{Node: i, Parents: parents, Weights: weights})
	}
	return rows
}

// CreateNodes builds and numbers the node set of a standalone tree:
// independent nodes are tagged 0,1,2,... in Morton order, dependent nodes
// -(d+1), and the dependent table is assembled in compressed-row form
// over the local independent ids. The forest performs its own global
// numbering on top of CreateNodeCandidates and DependentRows.
func (t *Octree) CreateNodes(order int) {
	t.CreateNodeCandidates(order)
	rows := t.DependentRows(nil)
	t.NumberNodes(rows)
}

// NumberNodes assigns local ids and builds the dependent table from
// classified rows.
func (t *Octree) NumberNodes(rows []DepRow) {
	isDep := make(map[int]int, len(rows)) // node index -> dep ordinal
	for d, r := range rows {
		isDep[r.Node] = d
	}

	nid := int32(0)
	for i := 0; i < t.nodes.Len(); i++ {
		if d, ok := isDep[i]; ok {
			t.nodes.SetTag(i, int32(-(d + 1)))
		} else {
			t.nodes.SetTag(i, nid)
			nid++
		}
	}
	t.numNodes = int(nid)
	t.numDepNodes = len(rows)

	t.depPtr = make([]int, len(rows)+1)
	t.depConn = t.depConn[:0]
	t.depWeights = t.depWeights[:0]
	for d, r := range rows {
		iw := make(indexWeights, 0, len(r.Parents))
		for k, par := range r.Parents {
			idx, ok := t.nodes.Contains(par, true)
			if !ok {
				panic("octree: dependent parent missing from node array")
			}
			tag := t.nodes.Get(idx).Tag
			if tag < 0 {
				panic("octree: dependent parent not independent after expansion")
			}
			iw = append(iw, indexWeight{int(tag), r.Weights[k]})
		}
		iw = iw.uniqueSort()
		for _, w := range iw {
			t.depConn = append(t.depConn, w.index)
			t.depWeights = append(t.depWeights, w.weight)
		}
		t.depPtr[d+1] = len(t.depConn)
	}
}

// DepNodeConn returns the dependent table in compressed-row form.
func (t *Octree) DepNodeConn() (ptr, conn []int, weights []float64) {
	return t.depPtr, t.depConn, t.depWeights
}
