package octant

import "sort"

// Array is a flat sequence of octants. After Sort it is in Morton order;
// after Uniquify duplicate (x,y,z,level) entries are collapsed keeping the
// first occurrence. Lookups return indices rather than interior pointers so
// that a resort never invalidates a caller's handle.
type Array struct {
	octs []Octant
}

// NewArray wraps the given slice without copying.
func NewArray(octs []Octant) *Array {
	return &Array{octs: octs}
}

// Len returns the number of stored octants.
func (a *Array) Len() int {
	return len(a.octs)
}

// Get returns the octant at index i.
func (a *Array) Get(i int) Octant {
	return a.octs[i]
}

// Set replaces the octant at index i.
func (a *Array) Set(i int, o Octant) {
	a.octs[i] = o
}

// SetTag writes the payload slot of the octant at index i.
func (a *Array) SetTag(i int, tag int32) {
	a.octs[i].Tag = tag
}

// SetLevel writes the level slot of the octant at index i.
func (a *Array) SetLevel(i int, level int32) {
	a.octs[i].Level = level
}

// Append adds octants at the end; the array is no longer sorted.
func (a *Array) Append(octs ...Octant) {
	a.octs = append(a.octs, octs...)
}

// Slice exposes the backing storage for iteration.
func (a *Array) Slice() []Octant {
	return a.octs
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	octs := make([]Octant, len(a.octs))
	copy(octs, a.octs)
	return &Array{octs: octs}
}

// Sort orders the array by the Morton comparison. The sort is not stable;
// equal keys carry equal coordinates so only the Tag of the survivor of a
// later Uniquify depends on it.
func (a *Array) Sort() {
	sort.Slice(a.octs, func(i, j int) bool {
		return a.octs[i].Compare(a.octs[j]) < 0
	})
}

// Uniquify collapses runs of equal (x,y,z,level) entries after a Sort,
// keeping the first representative of each run.
func (a *Array) Uniquify() {
	if len(a.octs) < 2 {
		return
	}
	out := a.octs[:1]
	for i := 1; i < len(a.octs); i++ {
		prev := out[len(out)-1]
		cur := a.octs[i]
		if cur.X == prev.X && cur.Y == prev.Y && cur.Z == prev.Z &&
			cur.Level == prev.Level {
			continue
		}
		out = append(out, cur)
	}
	a.octs = out
}

// Contains binary-searches for the stored octant equal to q. With useNodes
// the comparison projects out the level; callers guarantee coordinate
// uniqueness in that mode. Returns the index and whether it was found.
func (a *Array) Contains(q Octant, useNodes bool) (int, bool) {
	lo, hi := 0, len(a.octs)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		var c int
		if useNodes {
			c = a.octs[mid].CompareNodes(q)
		} else {
			c = a.octs[mid].Compare(q)
		}
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1, false
}
