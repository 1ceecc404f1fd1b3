// Package octant implements the Morton-ordered octant key and the flat
// containers (sorted array, hash, queue) that linear octrees are built from.
package octant

// MaxLevel is the deepest refinement level. Coordinates fit a signed 32-bit
// integer with headroom for one-cell excursions past the domain boundary.
const MaxLevel = 30

// HMax is the side length of the root octant in integer coordinates.
const HMax int32 = 1 << MaxLevel

// Octant is an axis-aligned cube at a refinement level. The octant occupies
// [X, X+h) x [Y, Y+h) x [Z, Z+h) with h = 1 << (MaxLevel - Level), and its
// coordinates are multiples of h. Tag is a payload slot: a node id, a
// dependent-node encoding -(d+1), or a source-element index depending on
// context.
type Octant struct {
	X, Y, Z int32
	Level   int32
	Tag     int32
}

// EdgeLength returns the side length h of the octant.
func (o Octant) EdgeLength() int32 {
	return 1 << (MaxLevel - o.Level)
}

// lessMSB reports whether the most significant set bit of a is strictly
// below that of b.
func lessMSB(a, b uint32) bool {
	return a < b && a < a^b
}

// Compare defines the total Morton order: bits of x, y, z interleaved with x
// in the least significant position, so at equal bit positions z outranks y
// outranks x. Octants with the same origin are ordered shallower first.
func (o Octant) Compare(b Octant) int {
	c := o.CompareNodes(b)
	if c != 0 {
		return c
	}
	switch {
	case o.Level < b.Level:
		return -1
	case o.Level > b.Level:
		return 1
	}
	return 0
}

// CompareNodes compares by coordinates only, projecting out the level. Used
// for node lookups where positions are unique by construction.
func (o Octant) CompareNodes(b Octant) int {
	xxor := uint32(o.X ^ b.X)
	yxor := uint32(o.Y ^ b.Y)
	zxor := uint32(o.Z ^ b.Z)

	discr := xxor
	av, bv := o.X, b.X
	if yxor != 0 && !lessMSB(yxor, discr) {
		discr, av, bv = yxor, o.Y, b.Y
	}
	if zxor != 0 && !lessMSB(zxor, discr) {
		discr, av, bv = zxor, o.Z, b.Z
	}
	if discr == 0 {
		return 0
	}
	if av < bv {
		return -1
	}
	return 1
}

// ChildID returns the child index 0..7 of the octant within its parent.
func (o Octant) ChildID() int {
	h := o.EdgeLength()
	id := 0
	if o.X&h != 0 {
		id |= 1
	}
	if o.Y&h != 0 {
		id |= 2
	}
	if o.Z&h != 0 {
		id |= 4
	}
	return id
}

// Sibling returns the k-th sibling (0 <= k < 8) sharing the same parent.
// A level-0 octant has no siblings and is returned unchanged.
func (o Octant) Sibling(k int) Octant {
	if o.Level == 0 {
		return o
	}
	h := o.EdgeLength()
	s := o
	s.X = o.X &^ h
	s.Y = o.Y &^ h
	s.Z = o.Z &^ h
	if k&1 != 0 {
		s.X += h
	}
	if k&2 != 0 {
		s.Y += h
	}
	if k&4 != 0 {
		s.Z += h
	}
	return s
}

// Parent returns the parent octant. Undefined at level 0; returned
// unchanged in that case.
func (o Octant) Parent() Octant {
	if o.Level == 0 {
		return o
	}
	h2 := int32(2) << (MaxLevel - o.Level)
	p := o
	p.X = o.X &^ (h2 - 1)
	p.Y = o.Y &^ (h2 - 1)
	p.Z = o.Z &^ (h2 - 1)
	p.Level = o.Level - 1
	return p
}

// Contains reports whether b's cube lies entirely within o's cube.
func (o Octant) Contains(b Octant) bool {
	if o.Level > b.Level {
		return false
	}
	h := o.EdgeLength()
	hb := b.EdgeLength()
	return b.X >= o.X && b.X+hb <= o.X+h &&
		b.Y >= o.Y && b.Y+hb <= o.Y+h &&
		b.Z >= o.Z && b.Z+hb <= o.Z+h
}

// ContainsPoint reports whether the point p lies in o's closed cube.
// The closed form is what touching-element searches need: a point on a
// shared face belongs to the cubes on both sides.
func (o Octant) ContainsPoint(x, y, z int32) bool {
	h := o.EdgeLength()
	return x >= o.X && x <= o.X+h &&
		y >= o.Y && y <= o.Y+h &&
		z >= o.Z && z <= o.Z+h
}

// FirstDescendant returns the leftmost descendant at the given level.
func (o Octant) FirstDescendant(level int32) Octant {
	d := o
	d.Level = level
	return d
}

// LastDescendant returns the rightmost descendant at the given level.
func (o Octant) LastDescendant(level int32) Octant {
	h := o.EdgeLength()
	hl := int32(1) << (MaxLevel - level)
	d := o
	d.X += h - hl
	d.Y += h - hl
	d.Z += h - hl
	d.Level = level
	return d
}

// InDomain reports whether the octant's anchor lies inside [0, HMax) on
// every axis.
func (o Octant) InDomain() bool {
	return o.X >= 0 && o.X < HMax &&
		o.Y >= 0 && o.Y < HMax &&
		o.Z >= 0 && o.Z < HMax
}
