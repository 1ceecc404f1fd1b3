package forest

import (
	"github.com/notargets/octforest/octant"
	"github.com/notargets/octforest/octree"
	"github.com/notargets/octforest/topology"
)

// boundarySides lists, per axis, which domain planes an element touches.
type boundarySides struct {
	lo, hi [3]bool
}

func elementBoundary(e octant.Octant) (boundarySides, bool) {
	h := e.EdgeLength()
	var s boundarySides
	any := false
	for axis, v := range [3]int32{e.X, e.Y, e.Z} {
		if v == 0 {
			s.lo[axis] = true
			any = true
		}
		if v+h == octant.HMax {
			s.hi[axis] = true
			any = true
		}
	}
	return s, any
}

// collectGhosts maps every owned element touching a block boundary into
// the extended frames of the adjacent blocks, so dependent-node
// classification sees the element layer across each interface.
func (f *Forest) collectGhosts() []blockOctant {
	var out []blockOctant
	for _, b := range f.OwnedBlocks() {
		t := f.trees[b]
		if t == nil {
			continue
		}
		for _, e := range t.Elements().Slice() {
			sides, any := elementBoundary(e)
			if !any {
				continue
			}

			// Faces
			for axis := 0; axis < 3; axis++ {
				for hi := 0; hi < 2; hi++ {
					if (hi == 0 && !sides.lo[axis]) || (hi == 1 && !sides.hi[axis]) {
						continue
					}
					if nb, g, ok := f.cx.MapFaceGhost(b, 2*axis+hi, e); ok {
						out = append(out, blockOctant{nb, g})
					}
				}
			}

			// Edges: every touched pair of transverse planes
			for run := 0; run < 3; run++ {
				a1, a2 := transverseAxes(run)
				for _, h1 := range touched(sides, a1) {
					for _, h2 := range touched(sides, a2) {
						e12 := 4 * run
						if h1 {
							e12++
						}
						if h2 {
							e12 += 2
						}
						for _, bo := range f.cx.MapEdgeGhosts(b, e12, e) {
							out = append(out, blockOctant{bo.Block, bo.Oct})
						}
					}
				}
			}

			// Corners: every touched plane triple
			for _, hx := range touched(sides, 0) {
				for _, hy := range touched(sides, 1) {
					for _, hz := range touched(sides, 2) {
						k := 0
						if hx {
							k |= 1
						}
						if hy {
							k |= 2
						}
						if hz {
							k |= 4
						}
						for _, bo := range f.cx.MapCornerGhosts(b, k, e) {
							out = append(out, blockOctant{bo.Block, bo.Oct})
						}
					}
				}
			}
		}
	}
	return out
}

func transverseAxes(run int) (int, int) {
	switch run {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	}
	return 0, 1
}

func touched(s boundarySides, axis int) []bool {
	var out []bool
	if s.lo[axis] {
		out = append(out, false)
	}
	if s.hi[axis] {
		out = append(out, true)
	}
	return out
}

// exchangeGhosts routes the ghost layer to the owners of the destination
// blocks and returns the per-block ghost element lists, deduplicated.
func (f *Forest) exchangeGhosts() (map[int][]octant.Octant, error) {
	rank := f.comm.Rank()
	payload := make([][]byte, f.comm.Size())
	ghosts := make(map[int][]octant.Octant)
	seen := make(map[blockOctant]bool)

	install := func(bo blockOctant) {
		bo.oct.Tag = 0
		if seen[bo] {
			return
		}
		seen[bo] = true
		ghosts[bo.block] = append(ghosts[bo.block], bo.oct)
	}

	for _, bo := range f.collectGhosts() {
		dst := f.owners[bo.block]
		if dst == rank {
			install(bo)
			continue
		}
		payload[dst] = appendBlockOctant(payload[dst], bo)
	}

	in, err := f.comm.Alltoallv(payload)
	if err != nil {
		return nil, err
	}
	for _, buf := range in {
		for _, bo := range decodeBlockOctants(buf) {
			install(bo)
		}
	}
	return ghosts, nil
}

// nodeOwner resolves the canonical owner of node position p in block b's
// frame: the block itself for interior nodes and solely-owned boundary
// entities, otherwise the lowest incident side of the shared face, edge
// or vertex. The returned position is p expressed in the owner's frame.
func (f *Forest) nodeOwner(b int, p [3]int32) (int, [3]int32) {
	var onLo, onHi [3]bool
	planes := 0
	for axis, v := range p {
		if v == 0 {
			onLo[axis] = true
			planes++
		} else if v == octant.HMax {
			onHi[axis] = true
			planes++
		}
	}

	switch planes {
	case 0:
		return b, p

	case 1:
		var face int
		for axis := 0; axis < 3; axis++ {
			if onLo[axis] {
				face = 2 * axis
			} else if onHi[axis] {
				face = 2*axis + 1
			}
		}
		owner := f.cx.Faces[f.cx.BlockFaces[b][face]].Sides[0]
		if owner == (topology.FaceSide{Block: b, LocalFace: face}) {
			return b, p
		}
		return owner.Block, f.cx.MapFacePoint(b, face, p, owner)

	case 2:
		run := 0
		for axis := 0; axis < 3; axis++ {
			if !onLo[axis] && !onHi[axis] {
				run = axis
			}
		}
		e := 4 * run
		bit := 1
		for axis := 0; axis < 3; axis++ {
			if axis == run {
				continue
			}
			if onHi[axis] {
				e += bit
			}
			bit <<= 1
		}
		owner := f.cx.Edges[f.cx.BlockEdges[b][e]].Sides[0]
		if owner == (topology.EdgeSide{Block: b, LocalEdge: e}) {
			return b, p
		}
		t2 := f.cx.MapEdgePoint(topology.EdgeSide{Block: b, LocalEdge: e}, owner, p[run])
		return owner.Block, topology.EdgePointPosition(owner.LocalEdge, t2)

	default:
		k := 0
		for axis := 0; axis < 3; axis++ {
			if onHi[axis] {
				k |= 1 << axis
			}
		}
		owner := f.cx.Vertices[f.cx.Conn[8*b+k]][0]
		if owner == (topology.VertexSide{Block: b, Corner: k}) {
			return b, p
		}
		return owner.Block, topology.CornerPointPosition(owner.Corner)
	}
}

// CreateNodes builds the finite-element nodes for the whole forest:
// per-block tensor-product candidates, dependent classification against
// ghost layers, a mesh-wide numbering where every shared node is counted
// once by its canonical owner, and the per-rank dependent table.
// Collective; requires a balanced forest.
func (f *Forest) CreateNodes(order int) error {
	if err := f.requireConnectivity(); err != nil {
		return err
	}
	if !f.balanced {
		return ErrNotBalanced
	}
	if order < 2 {
		order = 2
	}
	if order > 3 {
		order = 3
	}
	f.order = order
	f.invalidateNodes()

	rank := f.comm.Rank()
	owned := f.OwnedBlocks()

	for _, b := range owned {
		f.trees[b].CreateNodeCandidates(order)
	}

	ghosts, err := f.exchangeGhosts()
	if err != nil {
		return err
	}

	rows := make(map[int][]octree.DepRow)
	for _, b := range owned {
		rows[b] = f.trees[b].DependentRows(ghosts[b])
	}

	// Ownership classification and the owned-node ordinal assignment:
	// blocks ascending, nodes in Morton order
	type remoteRef struct {
		block, idx int
	}
	f.ownedNodes = make(map[int][]bool)
	isDep := make(map[int]map[int]bool)
	ownerOf := make(map[int][]int)       // block -> per node owner block
	ownerPos := make(map[int][][3]int32) // block -> per node position in owner frame
	for _, b := range owned {
		nodes := f.trees[b].Nodes()
		dep := make(map[int]bool, len(rows[b]))
		for _, r := range rows[b] {
			dep[r.Node] = true
		}
		isDep[b] = dep

		ob := make([]int, nodes.Len())
		op := make([][3]int32, nodes.Len())
		ownedHere := make([]bool, nodes.Len())
		for i := 0; i < nodes.Len(); i++ {
			n := nodes.Get(i)
			owner, q := f.nodeOwner(b, [3]int32{n.X, n.Y, n.Z})
			ob[i] = owner
			op[i] = q
			ownedHere[i] = owner == b && q == [3]int32{n.X, n.Y, n.Z}
		}
		ownerOf[b] = ob
		ownerPos[b] = op
		f.ownedNodes[b] = ownedHere
	}

	// Count owned independent nodes and agree on the global ranges
	myCount := 0
	for _, b := range owned {
		for i, isOwned := range f.ownedNodes[b] {
			if isOwned && !isDep[b][i] {
				myCount++
			}
		}
	}
	start, err := f.comm.Exscan(int64(myCount))
	if err != nil {
		return err
	}
	counts, err := f.comm.Allgather(int64(myCount))
	if err != nil {
		return err
	}
	f.nodeRange = make([]int, f.comm.Size()+1)
	for r, c := range counts {
		f.nodeRange[r+1] = f.nodeRange[r] + int(c)
	}

	// Assign global ids to owned independent nodes and per-rank dependent
	// ordinals to dependent nodes
	id := int32(start)
	depOrd := int32(0)
	for _, b := range owned {
		nodes := f.trees[b].Nodes()
		for i := 0; i < nodes.Len(); i++ {
			switch {
			case isDep[b][i]:
				depOrd++
				nodes.SetTag(i, -depOrd)
			case f.ownedNodes[b][i]:
				nodes.SetTag(i, id)
				id++
			}
		}
	}
	f.numDep = int(depOrd)

	// Resolve the remaining independent nodes against their owners:
	// locally when the owner block lives on this rank, by query rounds
	// otherwise
	queries := make([][]byte, f.comm.Size())
	refs := make(map[int][]remoteRef) // destination rank -> requesters
	for _, b := range owned {
		nodes := f.trees[b].Nodes()
		for i := 0; i < nodes.Len(); i++ {
			if isDep[b][i] || f.ownedNodes[b][i] {
				continue
			}
			owner := ownerOf[b][i]
			q := ownerPos[b][i]
			dst := f.owners[owner]
			if dst == rank {
				nodes.SetTag(i, f.lookupOwnedTag(owner, q))
				continue
			}
			queries[dst] = appendInt32(queries[dst], int32(owner))
			queries[dst] = appendInt32(queries[dst], q[0])
			queries[dst] = appendInt32(queries[dst], q[1])
			queries[dst] = appendInt32(queries[dst], q[2])
			refs[dst] = append(refs[dst], remoteRef{b, i})
		}
	}

	inq, err := f.comm.Alltoallv(queries)
	if err != nil {
		return err
	}
	replies := make([][]byte, f.comm.Size())
	for src, buf := range inq {
		vals := decodeInt32s(buf)
		for off := 0; off+4 <= len(vals); off += 4 {
			tag := f.lookupOwnedTag(int(vals[off]),
				[3]int32{vals[off+1], vals[off+2], vals[off+3]})
			replies[src] = appendInt32(replies[src], tag)
		}
	}
	inr, err := f.comm.Alltoallv(replies)
	if err != nil {
		return err
	}
	for src, buf := range inr {
		tags := decodeInt32s(buf)
		for k, ref := range refs[src] {
			f.trees[ref.block].Nodes().SetTag(ref.idx, tags[k])
		}
	}

	// Assemble the per-rank dependent table; parents carry resolved
	// global ids by now
	f.depPtr = make([]int, f.numDep+1)
	d := 0
	for _, b := range owned {
		nodes := f.trees[b].Nodes()
		for _, r := range rows[b] {
			for k, par := range r.Parents {
				idx, ok := nodes.Contains(par, true)
				if !ok {
					panic("forest: dependent parent missing from node array")
				}
				tag := nodes.Get(idx).Tag
				if tag < 0 {
					panic("forest: dependent parent did not resolve to an independent id")
				}
				f.depConn = append(f.depConn, int(tag))
				f.depWeights = append(f.depWeights, r.Weights[k])
			}
			d++
			f.depPtr[d] = len(f.depConn)
		}
	}

	f.hasNodes = true
	log.Debug().Int("owned", myCount).Int("dependent", f.numDep).
		Msg("nodes created")
	return f.comm.AgreeStatus(true)
}

// lookupOwnedTag returns the id of the node at position q in an owned
// block's array. The node must exist and be independent; anything else
// means the two sides of an interface disagree, which the balanced
// ghost exchange rules out.
func (f *Forest) lookupOwnedTag(block int, q [3]int32) int32 {
	t := f.trees[block]
	if t == nil || t.Nodes() == nil {
		panic("forest: node query against a block without nodes")
	}
	idx, ok := t.Nodes().Contains(octant.Octant{X: q[0], Y: q[1], Z: q[2]}, true)
	if !ok {
		panic("forest: shared node missing from its owner block")
	}
	tag := t.Nodes().Get(idx).Tag
	if tag < 0 {
		panic("forest: shared node classified dependent by its owner")
	}
	return tag
}

// OwnedNodeRange returns the P+1 prefix array of owned independent node
// counts: rank r owns global ids [range[r], range[r+1]).
func (f *Forest) OwnedNodeRange() ([]int, error) {
	if !f.hasNodes {
		return nil, ErrNoNodes
	}
	return append([]int(nil), f.nodeRange...), nil
}

// NumDepNodes returns the number of dependent nodes on this rank.
func (f *Forest) NumDepNodes() int {
	return f.numDep
}

// DepNodeConn returns the dependent-node table in compressed-row form:
// dep node d is the weighted combination of the global independent ids
// in conn[ptr[d]:ptr[d+1]].
func (f *Forest) DepNodeConn() (ptr, conn []int, weights []float64, err error) {
	if !f.hasNodes {
		return nil, nil, nil, ErrNoNodes
	}
	return f.depPtr, f.depConn, f.depWeights, nil
}

// CreateMeshConn emits the element-node connectivity of all owned
// elements, blocks ascending and elements in Morton order within each
// block. Independent nodes appear by global id, dependent nodes by the
// encoding -(d+1) into this rank's dependent table.
func (f *Forest) CreateMeshConn() (conn []int, numElements int, err error) {
	if !f.hasNodes {
		return nil, 0, ErrNoNodes
	}
	for _, b := range f.OwnedBlocks() {
		c, err := f.trees[b].CreateMeshConn()
		if err != nil {
			return nil, 0, err
		}
		conn = append(conn, c...)
		numElements += f.trees[b].NumElements()
	}
	return conn, numElements, nil
}
