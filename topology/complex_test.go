package topology

import (
	"testing"

	"github.com/notargets/octforest/octant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The box fixture: an inner cube wrapped by six hex blocks forming a
// shell, 16 points and 7 blocks in total.
var boxXpts = []float64{
	-.5, -.5, -.5,
	.5, -.5, -.5,
	-.5, .5, -.5,
	.5, .5, -.5,
	-.5, -.5, .5,
	.5, -.5, .5,
	-.5, .5, .5,
	.5, .5, .5,
	-1, -1, -1,
	-1, -1, 1,
	1, -1, -1,
	1, -1, 1,
	-1, 1, -1,
	-1, 1, 1,
	1, 1, -1,
	1, 1, 1,
}

var boxConn = []int{
	0, 1, 2, 3, 4, 5, 6, 7,
	8, 10, 0, 1, 9, 11, 4, 5,
	5, 11, 1, 10, 7, 15, 3, 14,
	7, 15, 3, 14, 6, 13, 2, 12,
	9, 13, 4, 6, 8, 12, 0, 2,
	10, 14, 8, 12, 1, 3, 0, 2,
	4, 5, 6, 7, 9, 11, 13, 15,
}

const boxNpts = 16
const boxNblocks = 7

// The two-block fixture: a pair of unit hexes sharing one face, both in
// the identity orientation.
var twoBlockConn = []int{
	0, 1, 2, 3, 4, 5, 6, 7,
	1, 8, 3, 9, 5, 10, 7, 11,
}

func TestBoxComplexCounts(t *testing.T) {
	c, err := NewComplex(boxNpts, boxConn, boxNblocks)
	require.NoError(t, err)

	assert.Equal(t, boxNblocks, c.NumBlocks)
	// 42 face slots: 18 shared pairs plus 6 boundary faces
	assert.Equal(t, 24, c.NumFaces())
	// 12 inner-cube edges, 12 outer-shell edges, 8 radial edges
	assert.Equal(t, 32, c.NumEdges())

	shared, boundary := 0, 0
	for _, f := range c.Faces {
		switch len(f.Sides) {
		case 1:
			boundary++
		case 2:
			shared++
		default:
			t.Fatalf("face %v has %d sides", f.Nodes, len(f.Sides))
		}
	}
	assert.Equal(t, 18, shared)
	assert.Equal(t, 6, boundary)

	// Every macro node is a corner of at least one block
	assert.Len(t, c.Vertices, boxNpts)
}

func TestBoxFacePartnerSymmetry(t *testing.T) {
	c, err := NewComplex(boxNpts, boxConn, boxNblocks)
	require.NoError(t, err)

	for b := 0; b < c.NumBlocks; b++ {
		for f := 0; f < 6; f++ {
			nb, nf, ok := c.FacePartner(b, f)
			if !ok {
				assert.Equal(t, f, c.FaceIDs[b][f], "boundary face tag")
				continue
			}
			assert.Equal(t, -1, c.FaceIDs[b][f])
			b2, f2, ok2 := c.FacePartner(nb, nf)
			require.True(t, ok2)
			assert.Equal(t, b, b2)
			assert.Equal(t, f, f2)
		}
	}
}

func TestBoxVolumesPositive(t *testing.T) {
	c, err := NewComplex(boxNpts, boxConn, boxNblocks)
	require.NoError(t, err)
	for b := 0; b < c.NumBlocks; b++ {
		assert.Greater(t, c.ElementVolume(b, boxXpts), 0.0, "block %d", b)
	}
	// The seven blocks tile the 2x2x2 cube
	total := 0.0
	for b := 0; b < c.NumBlocks; b++ {
		total += c.ElementVolume(b, boxXpts)
	}
	assert.InDelta(t, 8.0, total, 1e-12)
}

func TestInvertedElementDetected(t *testing.T) {
	conn := append([]int(nil), twoBlockConn[:8]...)
	// Swap the x-extent of both the bottom and top faces (a mirror in x)
	// to invert the element
	conn[0], conn[1] = conn[1], conn[0]
	conn[2], conn[3] = conn[3], conn[2]
	conn[4], conn[5] = conn[5], conn[4]
	conn[6], conn[7] = conn[7], conn[6]

	xpts := []float64{
		0, 0, 0, 1, 0, 0, 0, 1, 0, 1, 1, 0,
		0, 0, 1, 1, 0, 1, 0, 1, 1, 1, 1, 1,
	}
	c, err := NewComplex(8, conn, 1)
	require.NoError(t, err)
	assert.Less(t, c.ElementVolume(0, xpts), 0.0)
}

func TestNonManifoldFaceRejected(t *testing.T) {
	// Blocks 1 and 2 both attach to block 0's x=1 face through their x=0
	// faces, giving the face {1,3,5,7} three incident sides
	conn := []int{
		0, 1, 2, 3, 4, 5, 6, 7,
		1, 8, 3, 9, 5, 10, 7, 11,
		1, 12, 3, 13, 5, 14, 7, 15,
	}
	_, err := NewComplex(16, conn, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadTopology)
}

func TestCrossFaceIdentityOrientation(t *testing.T) {
	c, err := NewComplex(12, twoBlockConn, 2)
	require.NoError(t, err)

	// An octant beyond block 0's x=1 face lands inside block 1 at its
	// x=0 face with (y,z) preserved
	h := int32(1) << (octant.MaxLevel - 2)
	o := octant.Octant{X: octant.HMax, Y: h, Z: 2 * h, Level: 2}
	nb, no, ok := c.CrossFace(0, 1, o)
	require.True(t, ok)
	assert.Equal(t, 1, nb)
	assert.Equal(t, octant.Octant{X: 0, Y: h, Z: 2 * h, Level: 2}, no)

	// And the ghost image of an interior element hugs block 0 from
	// outside when sent the other way
	e := octant.Octant{X: 0, Y: h, Z: 2 * h, Level: 2}
	gb, ghost, ok := c.MapFaceGhost(1, 0, e)
	require.True(t, ok)
	assert.Equal(t, 0, gb)
	assert.Equal(t, octant.Octant{X: octant.HMax, Y: h, Z: 2 * h, Level: 2}, ghost)
}

func TestCrossFaceRoundTrip(t *testing.T) {
	c, err := NewComplex(boxNpts, boxConn, boxNblocks)
	require.NoError(t, err)

	// Mapping a face point across an interface and back is the identity
	for b := 0; b < c.NumBlocks; b++ {
		for f := 0; f < 6; f++ {
			nb, nf, ok := c.FacePartner(b, f)
			if !ok {
				continue
			}
			fr := faceFrame[f]
			var p [3]int32
			p[fr.uAxis] = octant.HMax / 4
			p[fr.vAxis] = octant.HMax / 8
			if fr.high {
				p[fr.normal] = octant.HMax
			}
			q := c.MapFacePoint(b, f, p, FaceSide{nb, nf})
			back := c.MapFacePoint(nb, nf, q, FaceSide{b, f})
			assert.Equal(t, p, back, "block %d face %d", b, f)
		}
	}
}

func TestCrossEdgePreservesSharedPoint(t *testing.T) {
	c, err := NewComplex(boxNpts, boxConn, boxNblocks)
	require.NoError(t, err)

	// For every shared edge, the world position of a mapped along-edge
	// point must be preserved: verify through the trilinear embedding
	for ei := range c.Edges {
		sides := c.Edges[ei].Sides
		from := sides[0]
		fr := edgeFrame[from.LocalEdge]
		t0 := octant.HMax / 4

		var p [3]int32
		p[fr.axis] = t0
		ti := 0
		for axis := 0; axis < 3; axis++ {
			if axis == fr.axis {
				continue
			}
			if fr.high[ti] {
				p[axis] = octant.HMax
			}
			ti++
		}
		want := c.NodeLocation(from.Block, boxXpts, p)

		for _, to := range sides[1:] {
			t2 := c.MapEdgePoint(from, to, t0)
			fr2 := edgeFrame[to.LocalEdge]
			var q [3]int32
			q[fr2.axis] = t2
			ti = 0
			for axis := 0; axis < 3; axis++ {
				if axis == fr2.axis {
					continue
				}
				if fr2.high[ti] {
					q[axis] = octant.HMax
				}
				ti++
			}
			got := c.NodeLocation(to.Block, boxXpts, q)
			for d := 0; d < 3; d++ {
				assert.InDelta(t, want[d], got[d], 1e-12)
			}
		}
	}
}

func TestFacePointWorldPositionPreserved(t *testing.T) {
	c, err := NewComplex(boxNpts, boxConn, boxNblocks)
	require.NoError(t, err)

	for b := 0; b < c.NumBlocks; b++ {
		for f := 0; f < 6; f++ {
			nb, nf, ok := c.FacePartner(b, f)
			if !ok {
				continue
			}
			fr := faceFrame[f]
			var p [3]int32
			p[fr.uAxis] = 3 * (octant.HMax / 8)
			p[fr.vAxis] = 5 * (octant.HMax / 8)
			if fr.high {
				p[fr.normal] = octant.HMax
			}
			q := c.MapFacePoint(b, f, p, FaceSide{nb, nf})

			want := c.NodeLocation(b, boxXpts, p)
			got := c.NodeLocation(nb, boxXpts, q)
			for d := 0; d < 3; d++ {
				assert.InDelta(t, want[d], got[d], 1e-12, "block %d face %d", b, f)
			}
		}
	}
}

func TestCrossCorner(t *testing.T) {
	c, err := NewComplex(12, twoBlockConn, 2)
	require.NoError(t, err)

	// Block 0's corner 1 (node id 1) is block 1's corner 0
	out := c.CrossCorner(0, 1, 3)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Block)
	assert.Equal(t, octant.Octant{X: 0, Y: 0, Z: 0, Level: 3}, out[0].Oct)
}
