package octree

import "github.com/notargets/octforest/octant"

// neighborOffset is one of the 26 unit directions of the octant
// neighborhood.
type neighborOffset struct {
	dx, dy, dz int32
	corner     bool
}

var neighborOffsets = buildNeighborOffsets()

func buildNeighborOffsets() []neighborOffset {
	offs := make([]neighborOffset, 0, 26)
	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := 0
				if dx != 0 {
					n++
				}
				if dy != 0 {
					n++
				}
				if dz != 0 {
					n++
				}
				offs = append(offs, neighborOffset{dx, dy, dz, n == 3})
			}
		}
	}
	return offs
}

// Balance enforces the 2:1 condition: after it returns, any two elements
// sharing a face or edge differ in level by at most one; with corner set,
// the same holds across corners (the full 26-neighborhood).
func (t *Octree) Balance(corner bool) {
	t.BalanceSeeded(corner, nil, nil)
}

// BalanceSeeded runs the 2:1 balance with additional seed octants (remote
// requests already mapped into this tree's frame). For every neighbor cube
// that falls outside the domain, the parent-level request is handed to the
// remote callback in extended coordinates; the forest routes it through
// the block connectivity. A nil remote drops boundary-crossing requests,
// which is the single-tree behavior.
func (t *Octree) BalanceSeeded(corner bool, seeds []octant.Octant, remote func(octant.Octant)) {
	hash := octant.NewHash()
	queue := octant.NewQueue()
	add := func(o octant.Octant) {
		o.Tag = 0
		if hash.Add(o) {
			queue.Push(o)
		}
	}

	for _, o := range t.elements.Slice() {
		add(o)
	}
	for _, s := range seeds {
		add(s)
	}

	// Each popped octant demands that the 26 neighbors of its parent are
	// covered no coarser than the parent level. Asking this of the parent
	// also covers the siblings that only the completion step adds.
	for !queue.Empty() {
		o := queue.Pop()
		if o.Level < 2 {
			continue
		}
		q := o.Parent()
		h := q.EdgeLength()
		for _, d := range neighborOffsets {
			if d.corner && !corner {
				continue
			}
			n := octant.Octant{
				X:     q.X + d.dx*h,
				Y:     q.Y + d.dy*h,
				Z:     q.Z + d.dz*h,
				Level: q.Level,
			}
			if n.InDomain() {
				add(n)
			} else if remote != nil {
				remote(n)
			}
		}
	}

	// Octree completion: every entry gets its full sibling family, then
	// ancestors of retained entries are removed to obtain the leaf cover.
	for _, o := range hash.Snapshot() {
		if o.Level == 0 {
			continue
		}
		for k := 0; k < 8; k++ {
			hash.Add(o.Sibling(k))
		}
	}

	t.elements = linearize(hash.ToArray())
	t.numElements = t.elements.Len()
	t.invalidateNodes()
}

// linearize removes every entry that strictly contains another entry,
// keeping the deeper octants. The array must be sorted and unique.
func linearize(a *octant.Array) *octant.Array {
	var out []octant.Octant
	for _, o := range a.Slice() {
		for len(out) > 0 && out[len(out)-1].Contains(o) {
			out = out[:len(out)-1]
		}
		out = append(out, o)
	}
	return octant.NewArray(out)
}
