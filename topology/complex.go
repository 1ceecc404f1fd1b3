// Package topology derives the block/face/edge/vertex complex of the
// macro mesh from its element-to-node connectivity, and provides the
// coordinate transforms that carry octants and node positions across
// inter-block interfaces.
//
// Hex nodes follow the tensor-product convention: corner c sits at the
// local position ((c>>0)&1, (c>>1)&1, (c>>2)&1), i.e. the bottom face is
// ordered counterclockwise (0,1,3,2) and the top face (4,5,7,6).
package topology

import (
	"errors"
	"fmt"
	"sort"
)

// ErrBadTopology flags an inconsistent macro mesh: a face shared by more
// than two blocks, or disagreeing shared-face orientations.
var ErrBadTopology = errors.New("topology: inconsistent macro-block mesh")

// hexFaceCorners lists the corner indices of each local face in (u,v)
// tensor order. Faces are paired per axis: 0/1 at x=0/1, 2/3 at y=0/1,
// 4/5 at z=0/1.
var hexFaceCorners = [6][4]int{
	{0, 2, 4, 6}, // x = 0, (u,v) = (y,z)
	{1, 3, 5, 7}, // x = 1
	{0, 1, 4, 5}, // y = 0, (u,v) = (x,z)
	{2, 3, 6, 7}, // y = 1
	{0, 1, 2, 3}, // z = 0, (u,v) = (x,y)
	{4, 5, 6, 7}, // z = 1
}

// faceFrame describes the local coordinate frame of each face: the normal
// axis and whether the face sits at the high end of it, plus the two
// in-face axes in (u,v) order.
var faceFrame = [6]struct {
	normal  int
	high    bool
	uAxis   int
	vAxis   int
}{
	{0, false, 1, 2},
	{0, true, 1, 2},
	{1, false, 0, 2},
	{1, true, 0, 2},
	{2, false, 0, 1},
	{2, true, 0, 1},
}

// hexEdgeCorners lists the endpoints of each local edge: edges 0-3 run
// along x, 4-7 along y, 8-11 along z.
var hexEdgeCorners = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// edgeFrame gives the running axis of each local edge and whether the two
// transverse axes sit at their high ends. Transverse axes are listed in
// ascending axis order.
var edgeFrame = [12]struct {
	axis  int
	high  [2]bool
}{
	{0, [2]bool{false, false}}, {0, [2]bool{true, false}},
	{0, [2]bool{false, true}}, {0, [2]bool{true, true}},
	{1, [2]bool{false, false}}, {1, [2]bool{true, false}},
	{1, [2]bool{false, true}}, {1, [2]bool{true, true}},
	{2, [2]bool{false, false}}, {2, [2]bool{true, false}},
	{2, [2]bool{false, true}}, {2, [2]bool{true, true}},
}

// FaceSide identifies one side of a shared face.
type FaceSide struct {
	Block     int
	LocalFace int
}

// Face is a unique macro face with its incident sides. Boundary faces
// have a single side.
type Face struct {
	Nodes [4]int // sorted global node ids, the canonical key
	Sides []FaceSide
}

// EdgeSide identifies one block incident to a shared edge.
type EdgeSide struct {
	Block     int
	LocalEdge int
}

// Edge is a unique macro edge with every incident side.
type Edge struct {
	Nodes [2]int // sorted global node ids
	Sides []EdgeSide
}

// VertexSide identifies one block corner incident to a macro vertex.
type VertexSide struct {
	Block  int
	Corner int
}

// Complex is the derived topological complex of the macro-block mesh.
type Complex struct {
	NumBlocks int
	NumNodes  int
	Conn      []int // 8 entries per block

	Faces []Face
	Edges []Edge

	BlockFaces [][6]int  // block face -> index into Faces
	BlockEdges [][12]int // block edge -> index into Edges
	FaceIDs    [][6]int  // boundary face tags in [0,8), -1 when interior

	// Vertices maps a macro node id to every incident block corner
	Vertices map[int][]VertexSide
}

// NewComplex builds the complex from the element-to-node connectivity of
// the macro mesh. The mesh must be conforming: every face is shared by at
// most two blocks and shared faces must carry a consistent orientation.
func NewComplex(npts int, conn []int, nelems int) (*Complex, error) {
	if len(conn) != 8*nelems {
		return nil, fmt.Errorf("topology: connectivity length %d does not match %d blocks",
			len(conn), nelems)
	}
	for _, n := range conn {
		if n < 0 || n >= npts {
			return nil, fmt.Errorf("topology: node id %d outside [0,%d): %w",
				n, npts, ErrBadTopology)
		}
	}

	c := &Complex{
		NumBlocks:  nelems,
		NumNodes:   npts,
		Conn:       append([]int(nil), conn...),
		BlockFaces: make([][6]int, nelems),
		BlockEdges: make([][12]int, nelems),
		FaceIDs:    make([][6]int, nelems),
		Vertices:   make(map[int][]VertexSide),
	}

	// Unique faces keyed by their sorted node ids
	faceIndex := make(map[[4]int]int)
	for b := 0; b < nelems; b++ {
		for f := 0; f < 6; f++ {
			var key [4]int
			for k := 0; k < 4; k++ {
				key[k] = conn[8*b+hexFaceCorners[f][k]]
			}
			sort.Ints(key[:])

			fi, ok := faceIndex[key]
			if !ok {
				fi = len(c.Faces)
				faceIndex[key] = fi
				c.Faces = append(c.Faces, Face{Nodes: key})
			}
			if len(c.Faces[fi].Sides) >= 2 {
				return nil, fmt.Errorf("topology: face %v shared by more than two blocks: %w",
					key, ErrBadTopology)
			}
			c.Faces[fi].Sides = append(c.Faces[fi].Sides, FaceSide{b, f})
			c.BlockFaces[b][f] = fi
		}
	}

	// Unique edges
	edgeIndex := make(map[[2]int]int)
	for b := 0; b < nelems; b++ {
		for e := 0; e < 12; e++ {
			n0 := conn[8*b+hexEdgeCorners[e][0]]
			n1 := conn[8*b+hexEdgeCorners[e][1]]
			key := [2]int{n0, n1}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}

			ei, ok := edgeIndex[key]
			if !ok {
				ei = len(c.Edges)
				edgeIndex[key] = ei
				c.Edges = append(c.Edges, Edge{Nodes: key})
			}
			c.Edges[ei].Sides = append(c.Edges[ei].Sides, EdgeSide{b, e})
			c.BlockEdges[b][e] = ei
		}
	}

	// Vertex incidence
	for b := 0; b < nelems; b++ {
		for k := 0; k < 8; k++ {
			n := conn[8*b+k]
			c.Vertices[n] = append(c.Vertices[n], VertexSide{b, k})
		}
	}

	// Boundary face tags: the local face index of the single incident
	// block, for downstream boundary-condition grouping
	for b := 0; b < nelems; b++ {
		for f := 0; f < 6; f++ {
			if len(c.Faces[c.BlockFaces[b][f]].Sides) == 1 {
				c.FaceIDs[b][f] = f
			} else {
				c.FaceIDs[b][f] = -1
			}
		}
	}

	// Validate shared-face orientations up front so transforms cannot
	// fail later
	for fi := range c.Faces {
		if len(c.Faces[fi].Sides) == 2 {
			s := c.Faces[fi].Sides
			if _, err := c.faceMap(s[0], s[1]); err != nil {
				return nil, err
			}
			if _, err := c.faceMap(s[1], s[0]); err != nil {
				return nil, err
			}
		}
	}
	for ei := range c.Edges {
		sides := c.Edges[ei].Sides
		for k := 1; k < len(sides); k++ {
			if _, err := c.edgeReversed(sides[0], sides[k]); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// NumFaces returns the number of unique macro faces.
func (c *Complex) NumFaces() int { return len(c.Faces) }

// NumEdges returns the number of unique macro edges.
func (c *Complex) NumEdges() int { return len(c.Edges) }

// FacePartner returns the block and local face on the other side of block
// b's local face f, or ok=false for a boundary face.
func (c *Complex) FacePartner(b, f int) (nb, nf int, ok bool) {
	face := c.Faces[c.BlockFaces[b][f]]
	for _, s := range face.Sides {
		if s.Block != b || s.LocalFace != f {
			return s.Block, s.LocalFace, true
		}
	}
	return -1, -1, false
}

// BlockNeighbors returns the distinct blocks sharing a face with b.
func (c *Complex) BlockNeighbors(b int) []int {
	var out []int
	seen := make(map[int]bool)
	for f := 0; f < 6; f++ {
		if nb, _, ok := c.FacePartner(b, f); ok && !seen[nb] {
			seen[nb] = true
			out = append(out, nb)
		}
	}
	sort.Ints(out)
	return out
}
