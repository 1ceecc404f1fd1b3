// Package forest manages a distributed forest of linear octrees, one per
// macro-block of the input hexahedral connectivity. It couples the
// per-block trees through the block/face/edge/vertex complex: balancing
// propagates across interfaces, nodes receive a mesh-wide numbering with
// hanging-node resolution, and the element set can be repartitioned
// along the global Morton order.
package forest

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/notargets/octforest/comm"
	"github.com/notargets/octforest/octant"
	"github.com/notargets/octforest/octree"
	"github.com/notargets/octforest/topology"
)

var (
	// ErrNoConnectivity flags a call that requires SetConnectivity first.
	ErrNoConnectivity = errors.New("forest: connectivity has not been set")
	// ErrNotBalanced flags node creation on an unbalanced forest.
	ErrNotBalanced = errors.New("forest: forest has not been balanced")
	// ErrNoNodes flags mesh extraction before CreateNodes.
	ErrNoNodes = errors.New("forest: nodes have not been created")
)

// log is the package logger; a no-op unless the caller installs one.
var log = zerolog.Nop()

// SetLogger installs the logger used for forest diagnostics.
func SetLogger(l zerolog.Logger) {
	log = l
}

// Forest owns one octree per macro-block for the blocks assigned to this
// rank; the slots of remote blocks stay nil. All forest operations are
// collective over the communicator.
type Forest struct {
	comm   *comm.Comm
	cx     *topology.Complex
	owners []int // block -> rank
	trees  []*octree.Octree
	xpts   []float64 // optional macro node coordinates

	order    int
	balanced bool
	hasNodes bool

	nodeRange  []int // P+1 prefix of owned independent node counts
	numDep     int
	depPtr     []int
	depConn    []int
	depWeights []float64

	// ownedNodes[b][i] marks the nodes of block b whose global id this
	// forest assigned (entity owner is block b itself)
	ownedNodes map[int][]bool
}

// New creates an empty forest on the given communicator.
func New(c *comm.Comm) *Forest {
	return &Forest{comm: c, order: 2}
}

// Comm returns the communicator the forest runs on.
func (f *Forest) Comm() *comm.Comm { return f.comm }

// SetNodeLocations stores the macro node coordinates used for world-space
// queries and the negative-volume diagnostic.
func (f *Forest) SetNodeLocations(xpts []float64) {
	f.xpts = xpts
	f.checkVolumes()
}

func (f *Forest) checkVolumes() {
	if f.cx == nil || f.xpts == nil {
		return
	}
	for b := 0; b < f.cx.NumBlocks; b++ {
		if v := f.cx.ElementVolume(b, f.xpts); v < 0 {
			log.Warn().Int("block", b).Float64("volume", v).
				Msg("negative volume in input element")
		}
	}
}

// SetConnectivity installs the macro-block mesh: npts nodes and nelems
// hexes with the tensor-product corner convention (bottom face ccw
// 0,1,3,2 then top face 4,5,7,6). With partition set, block ownership
// follows a locality ordering over the face-adjacency graph instead of
// the input order. Collective; a topology error fails every rank.
func (f *Forest) SetConnectivity(npts int, conn []int, nelems int, partition bool) error {
	cx, err := topology.NewComplex(npts, conn, nelems)
	if aerr := f.comm.AgreeStatus(err == nil); aerr != nil {
		if err != nil {
			return err
		}
		return aerr
	}

	f.cx = cx
	f.trees = make([]*octree.Octree, nelems)
	f.balanced = false
	f.hasNodes = false
	f.checkVolumes()

	order := make([]int, nelems)
	for b := range order {
		order[b] = b
	}
	if partition {
		order = f.localityOrder()
	}

	// Contiguous equal-count chunks of the chosen block order
	f.owners = make([]int, nelems)
	p := f.comm.Size()
	for i, b := range order {
		f.owners[b] = i * p / nelems
	}

	log.Debug().Int("blocks", nelems).Int("faces", cx.NumFaces()).
		Int("edges", cx.NumEdges()).Bool("partition", partition).
		Msg("connectivity set")
	return nil
}

// localityOrder walks the face-adjacency graph breadth-first so that
// consecutive blocks in the ownership chunks tend to share faces.
func (f *Forest) localityOrder() []int {
	n := f.cx.NumBlocks
	order := make([]int, 0, n)
	visited := make([]bool, n)
	for seed := 0; seed < n; seed++ {
		if visited[seed] {
			continue
		}
		queue := []int{seed}
		visited[seed] = true
		for len(queue) > 0 {
			b := queue[0]
			queue = queue[1:]
			order = append(order, b)
			for _, nb := range f.cx.BlockNeighbors(b) {
				if !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
	}
	return order
}

// requireConnectivity guards operations that need the macro complex.
func (f *Forest) requireConnectivity() error {
	if f.cx == nil {
		return ErrNoConnectivity
	}
	return nil
}

// invalidateNodes drops cached node data after a topology change.
func (f *Forest) invalidateNodes() {
	f.hasNodes = false
	f.nodeRange = nil
	f.numDep = 0
	f.depPtr = nil
	f.depConn = nil
	f.depWeights = nil
	f.ownedNodes = nil
}

// CreateTrees builds a uniform octree at the given level on every owned
// block.
func (f *Forest) CreateTrees(level int) error {
	if err := f.requireConnectivity(); err != nil {
		return err
	}
	for b := range f.trees {
		if f.owners[b] == f.comm.Rank() {
			f.trees[b] = octree.NewUniform(level)
		} else {
			f.trees[b] = nil
		}
	}
	f.balanced = false
	f.invalidateNodes()
	return nil
}

// CreateTreesRefined builds per-block uniform octrees from a level per
// macro-block, the forest analogue of a graded initial refinement.
func (f *Forest) CreateTreesRefined(levels []int) error {
	if err := f.requireConnectivity(); err != nil {
		return err
	}
	if len(levels) != f.cx.NumBlocks {
		return fmt.Errorf("forest: %d levels for %d blocks", len(levels), f.cx.NumBlocks)
	}
	for b := range f.trees {
		if f.owners[b] == f.comm.Rank() {
			f.trees[b] = octree.NewUniform(levels[b])
		} else {
			f.trees[b] = nil
		}
	}
	f.balanced = false
	f.invalidateNodes()
	return nil
}

// CreateRandomTrees builds a random octree on every owned block, seeded
// per block so the forest is reproducible across runs and rank counts.
func (f *Forest) CreateRandomTrees(nrand, minLevel, maxLevel int) error {
	if err := f.requireConnectivity(); err != nil {
		return err
	}
	for b := range f.trees {
		if f.owners[b] == f.comm.Rank() {
			rng := rand.New(rand.NewSource(int64(b) + 1))
			f.trees[b] = octree.NewRandom(rng, nrand, minLevel, maxLevel)
		} else {
			f.trees[b] = nil
		}
	}
	f.balanced = false
	f.invalidateNodes()
	return nil
}

// Octrees returns the per-block tree slots; remote blocks are nil.
func (f *Forest) Octrees() []*octree.Octree {
	return f.trees
}

// OwnedBlocks returns the ids of the blocks this rank owns, ascending.
func (f *Forest) OwnedBlocks() []int {
	var out []int
	for b, r := range f.owners {
		if r == f.comm.Rank() {
			out = append(out, b)
		}
	}
	return out
}

// BlockOwners returns the block-to-rank ownership map.
func (f *Forest) BlockOwners() []int {
	return f.owners
}

// Connectivity exposes the derived complex counts and the boundary face
// tags, mirroring the macro-mesh report of the driver.
func (f *Forest) Connectivity() (nblocks, nfaces, nedges, nnodes int, faceIDs [][6]int) {
	if f.cx == nil {
		return 0, 0, 0, 0, nil
	}
	return f.cx.NumBlocks, f.cx.NumFaces(), f.cx.NumEdges(), f.cx.NumNodes, f.cx.FaceIDs
}

// Complex returns the macro-block topological complex.
func (f *Forest) Complex() *topology.Complex {
	return f.cx
}

// Order returns the polynomial order of the last CreateNodes call.
func (f *Forest) Order() int { return f.order }

// NumOwnedElements sums the element counts of the owned trees.
func (f *Forest) NumOwnedElements() int {
	n := 0
	for _, b := range f.OwnedBlocks() {
		if f.trees[b] != nil {
			n += f.trees[b].NumElements()
		}
	}
	return n
}

// Coarsen derives a forest one level coarser with the same macro complex
// and block ownership. The coarse forest starts unbalanced and without
// nodes, matching the level pipeline of the driver.
func (f *Forest) Coarsen() (*Forest, error) {
	if err := f.requireConnectivity(); err != nil {
		return nil, err
	}
	c := &Forest{
		comm:   f.comm,
		cx:     f.cx,
		owners: append([]int(nil), f.owners...),
		trees:  make([]*octree.Octree, len(f.trees)),
		xpts:   f.xpts,
		order:  f.order,
	}
	for b, t := range f.trees {
		if t != nil {
			c.trees[b] = t.Coarsen()
		}
	}
	return c, nil
}

// NodeLocations interpolates the world coordinates of block b's node
// octants through the trilinear map of the macro block. Requires
// SetNodeLocations and CreateNodes.
func (f *Forest) NodeLocations(b int) ([][3]float64, error) {
	if f.xpts == nil || f.trees[b] == nil || f.trees[b].Nodes() == nil {
		return nil, ErrNoNodes
	}
	nodes := f.trees[b].Nodes()
	out := make([][3]float64, nodes.Len())
	for i := range out {
		n := nodes.Get(i)
		out[i] = f.cx.NodeLocation(b, f.xpts, [3]int32{n.X, n.Y, n.Z})
	}
	return out, nil
}

// blockOctant pairs a destination block with an octant in that block's
// frame, the unit of inter-block routing.
type blockOctant struct {
	block int
	oct   octant.Octant
}
