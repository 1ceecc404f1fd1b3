package topology

import (
	"fmt"

	"github.com/notargets/octforest/octant"
)

// BlockOctant pairs an octant with the block whose frame it lives in.
type BlockOctant struct {
	Block int
	Oct   octant.Octant
}

// uvMap is the affine in-face coordinate transform between the two sides
// of a shared face: each output axis draws from u or v, possibly
// reflected.
type uvMap struct {
	src      [2]int  // 0 reads u, 1 reads v
	reversed [2]bool // reflect across the face extent
}

// apply transforms in-face coordinates for a feature of the given size
// (0 for points, the edge length for octant anchors).
func (m uvMap) apply(u, v, size int32) (int32, int32) {
	in := [2]int32{u, v}
	var out [2]int32
	for a := 0; a < 2; a++ {
		t := in[m.src[a]]
		if m.reversed[a] {
			t = octant.HMax - t - size
		}
		out[a] = t
	}
	return out[0], out[1]
}

// facePos returns the (u,v) position of global node g among the corners
// of the given face side, or ok=false.
func (c *Complex) facePos(s FaceSide, g int) (u, v int, ok bool) {
	for k := 0; k < 4; k++ {
		if c.Conn[8*s.Block+hexFaceCorners[s.LocalFace][k]] == g {
			return k & 1, k >> 1, true
		}
	}
	return 0, 0, false
}

// faceMap derives the in-face transform from side `from` to side `to` by
// matching the shared corner node ids.
func (c *Complex) faceMap(from, to FaceSide) (uvMap, error) {
	corner := func(k int) int {
		return c.Conn[8*from.Block+hexFaceCorners[from.LocalFace][k]]
	}
	p0u, p0v, ok0 := c.facePos(to, corner(0))
	p1u, p1v, ok1 := c.facePos(to, corner(1))
	p2u, p2v, ok2 := c.facePos(to, corner(2))
	if !ok0 || !ok1 || !ok2 {
		return uvMap{}, fmt.Errorf("topology: face corners of block %d do not match block %d: %w",
			from.Block, to.Block, ErrBadTopology)
	}

	du := [2]int{p1u - p0u, p1v - p0v}
	dv := [2]int{p2u - p0u, p2v - p0v}

	var m uvMap
	for a := 0; a < 2; a++ {
		switch {
		case du[a] != 0 && dv[a] == 0:
			m.src[a] = 0
			m.reversed[a] = du[a] < 0
		case dv[a] != 0 && du[a] == 0:
			m.src[a] = 1
			m.reversed[a] = dv[a] < 0
		default:
			return uvMap{}, fmt.Errorf("topology: degenerate orientation between blocks %d and %d: %w",
				from.Block, to.Block, ErrBadTopology)
		}
	}
	return m, nil
}

// edgeReversed reports whether the edge direction flips between the two
// sides.
func (c *Complex) edgeReversed(from, to EdgeSide) (bool, error) {
	f0 := c.Conn[8*from.Block+hexEdgeCorners[from.LocalEdge][0]]
	f1 := c.Conn[8*from.Block+hexEdgeCorners[from.LocalEdge][1]]
	t0 := c.Conn[8*to.Block+hexEdgeCorners[to.LocalEdge][0]]
	t1 := c.Conn[8*to.Block+hexEdgeCorners[to.LocalEdge][1]]
	switch {
	case f0 == t0 && f1 == t1:
		return false, nil
	case f0 == t1 && f1 == t0:
		return true, nil
	}
	return false, fmt.Errorf("topology: edge endpoints of block %d do not match block %d: %w",
		from.Block, to.Block, ErrBadTopology)
}

// coords extracts octant anchor coordinates as an indexable triple.
func coords(o octant.Octant) [3]int32 {
	return [3]int32{o.X, o.Y, o.Z}
}

func withCoords(o octant.Octant, p [3]int32) octant.Octant {
	o.X, o.Y, o.Z = p[0], p[1], p[2]
	return o
}

// CrossFace maps an octant hugging block b's local face f from outside
// the block into the partner block's frame, where it hugs the shared
// face from inside. Returns ok=false for boundary faces.
func (c *Complex) CrossFace(b, f int, o octant.Octant) (int, octant.Octant, bool) {
	nb, nf, ok := c.FacePartner(b, f)
	if !ok {
		return -1, o, false
	}
	m, err := c.faceMap(FaceSide{b, f}, FaceSide{nb, nf})
	if err != nil {
		panic(err)
	}

	h := o.EdgeLength()
	fr := faceFrame[f]
	p := coords(o)
	u2, v2 := m.apply(p[fr.uAxis], p[fr.vAxis], h)

	fr2 := faceFrame[nf]
	var q [3]int32
	q[fr2.uAxis] = u2
	q[fr2.vAxis] = v2
	if fr2.high {
		q[fr2.normal] = octant.HMax - h
	}
	return nb, withCoords(o, q), true
}

// MapFaceGhost maps an element of block b touching local face f from
// inside into the partner's extended frame, hugging the face from
// outside. Returns ok=false for boundary faces.
func (c *Complex) MapFaceGhost(b, f int, o octant.Octant) (int, octant.Octant, bool) {
	nb, nf, ok := c.FacePartner(b, f)
	if !ok {
		return -1, o, false
	}
	m, err := c.faceMap(FaceSide{b, f}, FaceSide{nb, nf})
	if err != nil {
		panic(err)
	}

	h := o.EdgeLength()
	fr := faceFrame[f]
	p := coords(o)
	u2, v2 := m.apply(p[fr.uAxis], p[fr.vAxis], h)

	fr2 := faceFrame[nf]
	var q [3]int32
	q[fr2.uAxis] = u2
	q[fr2.vAxis] = v2
	if fr2.high {
		q[fr2.normal] = octant.HMax
	} else {
		q[fr2.normal] = -h
	}
	return nb, withCoords(o, q), true
}

// MapFacePoint maps a point on block b's local face f into the given
// target side of the same face.
func (c *Complex) MapFacePoint(b, f int, p [3]int32, to FaceSide) [3]int32 {
	m, err := c.faceMap(FaceSide{b, f}, to)
	if err != nil {
		panic(err)
	}
	fr := faceFrame[f]
	u2, v2 := m.apply(p[fr.uAxis], p[fr.vAxis], 0)

	fr2 := faceFrame[to.LocalFace]
	var q [3]int32
	q[fr2.uAxis] = u2
	q[fr2.vAxis] = v2
	if fr2.high {
		q[fr2.normal] = octant.HMax
	}
	return q
}

// edgeEmbed places an octant of edge length h at along-edge position t
// against local edge e, inside the block when inside is true, hugging it
// diagonally from outside otherwise.
func edgeEmbed(e int, t, h int32, inside bool) [3]int32 {
	fr := edgeFrame[e]
	var q [3]int32
	q[fr.axis] = t
	ti := 0
	for axis := 0; axis < 3; axis++ {
		if axis == fr.axis {
			continue
		}
		if fr.high[ti] {
			if inside {
				q[axis] = octant.HMax - h
			} else {
				q[axis] = octant.HMax
			}
		} else if !inside {
			q[axis] = -h
		}
		ti++
	}
	return q
}

// CrossEdge maps an octant hugging block b's local edge e from outside
// (diagonally across the edge) into every other block around that edge,
// where it hugs the corresponding edge from inside.
func (c *Complex) CrossEdge(b, e int, o octant.Octant) []BlockOctant {
	h := o.EdgeLength()
	fr := edgeFrame[e]
	t := coords(o)[fr.axis]

	from := EdgeSide{b, e}
	var out []BlockOctant
	for _, s := range c.Edges[c.BlockEdges[b][e]].Sides {
		if s == from {
			continue
		}
		rev, err := c.edgeReversed(from, s)
		if err != nil {
			panic(err)
		}
		t2 := t
		if rev {
			t2 = octant.HMax - t - h
		}
		out = append(out, BlockOctant{
			Block: s.Block,
			Oct:   withCoords(o, edgeEmbed(s.LocalEdge, t2, h, true)),
		})
	}
	return out
}

// MapEdgeGhosts maps an element of block b touching local edge e into the
// extended frames of the other blocks around that edge.
func (c *Complex) MapEdgeGhosts(b, e int, o octant.Octant) []BlockOctant {
	h := o.EdgeLength()
	fr := edgeFrame[e]
	t := coords(o)[fr.axis]

	from := EdgeSide{b, e}
	var out []BlockOctant
	for _, s := range c.Edges[c.BlockEdges[b][e]].Sides {
		if s == from || s.Block == b {
			continue
		}
		rev, err := c.edgeReversed(from, s)
		if err != nil {
			panic(err)
		}
		t2 := t
		if rev {
			t2 = octant.HMax - t - h
		}
		out = append(out, BlockOctant{
			Block: s.Block,
			Oct:   withCoords(o, edgeEmbed(s.LocalEdge, t2, h, false)),
		})
	}
	return out
}

// MapEdgePoint maps an along-edge coordinate from one side of an edge to
// another.
func (c *Complex) MapEdgePoint(from, to EdgeSide, t int32) int32 {
	rev, err := c.edgeReversed(from, to)
	if err != nil {
		panic(err)
	}
	if rev {
		return octant.HMax - t
	}
	return t
}

// EdgePointPosition embeds an along-edge coordinate into the full block
// frame of the given local edge.
func EdgePointPosition(e int, t int32) [3]int32 {
	fr := edgeFrame[e]
	var q [3]int32
	q[fr.axis] = t
	ti := 0
	for axis := 0; axis < 3; axis++ {
		if axis == fr.axis {
			continue
		}
		if fr.high[ti] {
			q[axis] = octant.HMax
		}
		ti++
	}
	return q
}

// CornerPointPosition returns the block-frame position of local corner k.
func CornerPointPosition(k int) [3]int32 {
	var q [3]int32
	for axis := 0; axis < 3; axis++ {
		if k>>axis&1 != 0 {
			q[axis] = octant.HMax
		}
	}
	return q
}

// cornerEmbed places an octant of edge length h against local corner k,
// inside the block or hugging it from outside.
func cornerEmbed(k int, h int32, inside bool) [3]int32 {
	var q [3]int32
	for axis := 0; axis < 3; axis++ {
		if k>>axis&1 != 0 {
			if inside {
				q[axis] = octant.HMax - h
			} else {
				q[axis] = octant.HMax
			}
		} else if !inside {
			q[axis] = -h
		}
	}
	return q
}

// CrossCorner maps an octant of the given level hugging block b's local
// corner k from outside into every other block sharing that macro
// vertex, hugging the matching corner from inside.
func (c *Complex) CrossCorner(b, k int, level int32) []BlockOctant {
	h := int32(1) << (octant.MaxLevel - level)
	var out []BlockOctant
	for _, s := range c.Vertices[c.Conn[8*b+k]] {
		if s.Block == b && s.Corner == k {
			continue
		}
		out = append(out, BlockOctant{
			Block: s.Block,
			Oct: withCoords(octant.Octant{Level: level},
				cornerEmbed(s.Corner, h, true)),
		})
	}
	return out
}

// MapCornerGhosts maps an element of block b touching local corner k
// into the extended frames of the other blocks at that macro vertex.
func (c *Complex) MapCornerGhosts(b, k int, o octant.Octant) []BlockOctant {
	h := o.EdgeLength()
	var out []BlockOctant
	for _, s := range c.Vertices[c.Conn[8*b+k]] {
		if s.Block == b {
			continue
		}
		out = append(out, BlockOctant{
			Block: s.Block,
			Oct:   withCoords(o, cornerEmbed(s.Corner, h, false)),
		})
	}
	return out
}
