// Package octree implements the linear octree: a sorted array of leaf
// octants with adaptive refinement, one-level coarsening, 2:1 balancing,
// enclosing-octant search, node creation and inter-level transfer
// operators. A forest of these trees, one per macro-block, is managed by
// the forest package.
package octree

import (
	"math/rand"

	"github.com/notargets/octforest/octant"
)

// Octree holds the sorted unique leaf array of a single linear octree,
// and, once CreateNodes has run, the finite-element node array with the
// dependent-node table.
type Octree struct {
	elements *octant.Array
	nodes    *octant.Array
	order    int

	numElements int
	numNodes    int // independent nodes
	numDepNodes int

	depPtr     []int
	depConn    []int
	depWeights []float64
}

// NewUniform refines the initial octree to the given depth along all
// coordinate directions.
func NewUniform(refineLevel int) *Octree {
	if refineLevel < 0 {
		refineLevel = 0
	} else if refineLevel > octant.MaxLevel {
		refineLevel = octant.MaxLevel
	}

	h := int32(1) << (octant.MaxLevel - refineLevel)
	nx := 1 << refineLevel
	octs := make([]octant.Octant, 0, nx*nx*nx)
	for z := int32(0); z < octant.HMax; z += h {
		for y := int32(0); y < octant.HMax; y += h {
			for x := int32(0); x < octant.HMax; x += h {
				octs = append(octs, octant.Octant{
					X: x, Y: y, Z: z, Level: int32(refineLevel),
				})
			}
		}
	}

	return fromOctants(octs)
}

// NewRandom generates a random octree for testing: nrand octants drawn
// uniformly over levels [minLevel, maxLevel] at random positions.
func NewRandom(rng *rand.Rand, nrand, minLevel, maxLevel int) *Octree {
	octs := make([]octant.Octant, nrand)
	for i := range octs {
		level := int32(minLevel + rng.Intn(maxLevel-minLevel+1))
		h := int32(1) << (octant.MaxLevel - level)
		octs[i] = octant.Octant{
			X:     h * int32(rng.Intn(1<<level)),
			Y:     h * int32(rng.Intn(1<<level)),
			Z:     h * int32(rng.Intn(1<<level)),
			Level: level,
		}
	}
	return fromOctants(octs)
}

// FromArray creates an octree from an existing octant array. The array is
// sorted and deduplicated in place and ownership passes to the octree.
func FromArray(a *octant.Array) *Octree {
	a.Sort()
	a.Uniquify()
	return &Octree{elements: a, order: 2, numElements: a.Len()}
}

func fromOctants(octs []octant.Octant) *Octree {
	return FromArray(octant.NewArray(octs))
}

// Elements returns the leaf array.
func (t *Octree) Elements() *octant.Array {
	return t.elements
}

// Nodes returns the node array, or nil before CreateNodes.
func (t *Octree) Nodes() *octant.Array {
	return t.nodes
}

// Order returns the polynomial order set by the last CreateNodes call.
func (t *Octree) Order() int {
	return t.order
}

// NumElements returns the current leaf count.
func (t *Octree) NumElements() int {
	return t.numElements
}

// NumNodes returns the independent node count after CreateNodes.
func (t *Octree) NumNodes() int {
	return t.numNodes
}

// NumDepNodes returns the dependent node count after CreateNodes.
func (t *Octree) NumDepNodes() int {
	return t.numDepNodes
}

// invalidateNodes destroys cached node data after any topology change.
func (t *Octree) invalidateNodes() {
	t.nodes = nil
	t.numNodes = 0
	t.numDepNodes = 0
	t.depPtr = nil
	t.depConn = nil
	t.depWeights = nil
}

// Refine adds and removes elements according to the refinement array: a
// positive value splits the octant, a negative value replaces it with its
// parent when the parent stays within [minLevel, maxLevel], zero retains
// it. A nil refinement slice refines every octant by one level.
//
// The hash is seeded with one canonical representative per family (the
// 0-child for splits, the coordinates-masked parent for coarsening) and a
// second pass adds complete sibling families. A coarsening request whose
// family was not fully marked can leave the parent overlapping finer
// leaves; the following Balance resolves the covering, which is the
// calling order the driver uses.
func (t *Octree) Refine(refinement []int, minLevel, maxLevel int) {
	if minLevel < 0 {
		minLevel = 0
	}
	if maxLevel > octant.MaxLevel {
		maxLevel = octant.MaxLevel
	}
	if minLevel > maxLevel {
		minLevel = maxLevel
	}

	t.invalidateNodes()

	hash := octant.NewHash()
	for i, o := range t.elements.Slice() {
		r := 1
		if refinement != nil {
			r = refinement[i]
		}
		switch {
		case r == 0:
			hash.Add(o.Sibling(0))
		case r < 0:
			if int(o.Level) > minLevel {
				q := o.Sibling(0)
				q.Level--
				hash.Add(q)
			} else {
				hash.Add(o)
			}
		default:
			if int(o.Level) < maxLevel {
				q := o
				q.Level++
				hash.Add(q)
			} else {
				hash.Add(o)
			}
		}
	}

	// Expand each canonical representative into its full sibling family
	for _, o := range hash.Snapshot() {
		for k := 0; k < 8; k++ {
			s := o.Sibling(k)
			if s.InDomain() {
				hash.Add(s)
			}
		}
	}

	t.elements = hash.ToArray()
	t.numElements = t.elements.Len()
}

// Coarsen returns a new octree one level coarser: whenever eight
// consecutive entries form a complete family, the parent replaces them;
// all other entries are carried over unchanged.
func (t *Octree) Coarsen() *Octree {
	elems := t.elements.Slice()
	const offset = 7 // 2^3 - 1

	queue := octant.NewQueue()
	for i := 0; i < len(elems); i++ {
		sameParent := false
		if elems[i].Level > 0 && elems[i].ChildID() == 0 &&
			i+offset < len(elems) && elems[i+offset].ChildID() == offset {
			p := elems[i+offset].Sibling(0)
			if elems[i].Compare(p) == 0 {
				sameParent = true
				queue.Push(elems[i].Parent())
				i += offset
			}
		}
		if !sameParent {
			queue.Push(elems[i])
		}
	}

	coarse := FromArray(queue.ToArray())
	coarse.order = t.order
	return coarse
}

// FindEnclosing returns the index of the element whose cube completely
// contains the provided octant, or false when no such element exists.
func (t *Octree) FindEnclosing(o octant.Octant) (int, bool) {
	size := t.elements.Len()
	if size == 0 {
		return -1, false
	}

	hoct := o.EdgeLength()
	x2, y2, z2 := o.X+hoct, o.Y+hoct, o.Z+hoct
	encloses := func(i int) bool {
		e := t.elements.Get(i)
		h := e.EdgeLength()
		return e.X <= o.X && x2 <= e.X+h &&
			e.Y <= o.Y && y2 <= e.Y+h &&
			e.Z <= o.Z && z2 <= e.Z+h
	}

	// Maintain low/high so the octant stays bracketed between them
	low, high := 0, size-1
	mid := low + (high-low)/2
	for high != mid {
		if encloses(mid) {
			return mid, true
		}
		if o.Compare(t.elements.Get(mid)) < 0 {
			high = mid - 1
		} else {
			low = mid + 1
		}
		if high < low {
			break
		}
		mid = high - (high-low)/2
	}

	if mid >= 0 && mid < size && encloses(mid) {
		return mid, true
	}
	if low >= 0 && low < size && encloses(low) {
		return low, true
	}
	return -1, false
}

// FindEnclosingRange returns the half-open index range [low, high) of
// elements whose cubes touch the cube of the provided octant.
func (t *Octree) FindEnclosingRange(o octant.Octant) (low, high int) {
	low, high = 0, t.numElements

	h := o.EdgeLength()
	p := o
	p.Level = octant.MaxLevel
	if i, ok := t.FindEnclosing(p); ok {
		low = i
	}

	p.X += h - 1
	p.Y += h - 1
	p.Z += h - 1
	if i, ok := t.FindEnclosing(p); ok {
		high = i + 1
	}
	return low, high
}
