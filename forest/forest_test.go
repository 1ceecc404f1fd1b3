package forest

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/octforest/comm"
	"github.com/notargets/octforest/octant"
)

// Fixtures from the parallel driver: the box is an inner cube wrapped by
// six shell blocks.
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

var twoBlockConn = []int{
	0, 1, 2, 3, 4, 5, 6, 7,
	1, 8, 3, 9, 5, 10, 7, 11,
}

var twoBlockXpts = []float64{
	0, 0, 0, 1, 0, 0, 0, 1, 0, 1, 1, 0,
	0, 0, 1, 1, 0, 1, 0, 1, 1, 1, 1, 1,
	2, 0, 0, 2, 1, 0, 2, 0, 1, 2, 1, 1,
}

func newBoxForest(t *testing.T) *Forest {
	t.Helper()
	f := New(comm.Self())
	require.NoError(t, f.SetConnectivity(boxNpts, boxConn, boxNblocks, false))
	f.SetNodeLocations(boxXpts)
	return f
}

// distinctWorldNodes counts the distinct physical node positions across
// all owned blocks, the geometric oracle for the mesh-wide numbering.
func distinctWorldNodes(t *testing.T, f *Forest) int {
	t.Helper()
	seen := make(map[string]bool)
	for _, b := range f.OwnedBlocks() {
		locs, err := f.NodeLocations(b)
		require.NoError(t, err)
		for _, x := range locs {
			key := fmt.Sprintf("%.9f,%.9f,%.9f", x[0], x[1], x[2])
			seen[key] = true
		}
	}
	return len(seen)
}

func TestBoxUniformNodeCount(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(1))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	rng, err := f.OwnedNodeRange()
	require.NoError(t, err)
	require.Len(t, rng, 2)

	// Uniform level-1 blocks conform exactly: no dependents, and the
	// global count matches the distinct physical grid positions
	assert.Equal(t, 0, f.NumDepNodes())
	assert.Equal(t, distinctWorldNodes(t, f), rng[1]-rng[0])

	// Recorded golden: 16 macro vertices + 32 edge interiors + 24 face
	// interiors + 7 block interiors on the 3x3x3 per-block lattice
	assert.Equal(t, 79, rng[1])
}

func TestBoxMeshConnConsistent(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(1))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	conn, ne, err := f.CreateMeshConn()
	require.NoError(t, err)
	assert.Equal(t, 7*8, ne)
	require.Len(t, conn, 8*ne)

	rng, _ := f.OwnedNodeRange()
	used := make(map[int]bool)
	for _, c := range conn {
		require.GreaterOrEqual(t, c, 0, "conforming mesh has no dependents")
		require.Less(t, c, rng[1])
		used[c] = true
	}
	// Every global id is referenced by some element
	assert.Len(t, used, rng[1])

	// Each element row has eight distinct nodes
	for e := 0; e < ne; e++ {
		row := conn[8*e : 8*e+8]
		set := make(map[int]bool)
		for _, c := range row {
			set[c] = true
		}
		assert.Len(t, set, 8)
	}
}

func TestRandomForestBalanceIdempotent(t *testing.T) {
	f := New(comm.Self())
	require.NoError(t, f.SetConnectivity(8, twoBlockConn[:8], 1, false))
	require.NoError(t, f.CreateRandomTrees(50, 0, 5))

	require.NoError(t, f.Balance(true))
	first := f.trees[0].Elements().Clone()

	require.NoError(t, f.Balance(true))
	require.Equal(t, first.Len(), f.trees[0].NumElements())
	for i := 0; i < first.Len(); i++ {
		assert.Equal(t, first.Get(i), f.trees[0].Elements().Get(i))
	}
}

func TestTwoBlockInterfaceBalance(t *testing.T) {
	f := New(comm.Self())
	require.NoError(t, f.SetConnectivity(12, twoBlockConn, 2, false))
	f.SetNodeLocations(twoBlockXpts)
	require.NoError(t, f.CreateTreesRefined([]int{3, 1}))
	require.NoError(t, f.Balance(true))

	// The coarse block must now hold level-2 elements against the shared
	// face (its x=0 side)
	found := false
	minFaceLevel := int32(99)
	for _, e := range f.trees[1].Elements().Slice() {
		if e.X == 0 {
			if e.Level == 2 {
				found = true
			}
			if e.Level < minFaceLevel {
				minFaceLevel = e.Level
			}
		}
	}
	assert.True(t, found, "balance propagated across the interface")
	assert.GreaterOrEqual(t, minFaceLevel, int32(2), "2:1 holds at the interface")

	// The refined block is untouched
	for _, e := range f.trees[0].Elements().Slice() {
		assert.Equal(t, int32(3), e.Level)
	}
}

func TestTwoBlockDependentNodes(t *testing.T) {
	f := New(comm.Self())
	require.NoError(t, f.SetConnectivity(12, twoBlockConn, 2, false))
	f.SetNodeLocations(twoBlockXpts)
	require.NoError(t, f.CreateTreesRefined([]int{3, 1}))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	require.Greater(t, f.NumDepNodes(), 0)
	ptr, conn, weights, err := f.DepNodeConn()
	require.NoError(t, err)
	require.Len(t, ptr, f.NumDepNodes()+1)

	rng, _ := f.OwnedNodeRange()
	for d := 0; d < f.NumDepNodes(); d++ {
		n := ptr[d+1] - ptr[d]
		sum := 0.0
		for jp := ptr[d]; jp < ptr[d+1]; jp++ {
			require.GreaterOrEqual(t, conn[jp], 0)
			require.Less(t, conn[jp], rng[1])
			sum += weights[jp]
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
		assert.Contains(t, []int{2, 4}, n,
			"order-2 dependents hang on an edge or a face")
		if n == 2 {
			assert.InDelta(t, 0.5, weights[ptr[d]], 1e-12)
		} else {
			assert.InDelta(t, 0.25, weights[ptr[d]], 1e-12)
		}
	}

	// The global numbering still matches the physical oracle
	assert.Equal(t, distinctWorldNodes(t, f)-f.NumDepNodes(), rng[1])
}

func TestCreateNodesRequiresBalance(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(1))
	assert.ErrorIs(t, f.CreateNodes(2), ErrNotBalanced)
}

func TestMeshConnRequiresNodes(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(1))
	require.NoError(t, f.Balance(true))
	_, _, err := f.CreateMeshConn()
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestInterpolationConstantPreserved(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(2))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	coarse, err := f.Coarsen()
	require.NoError(t, err)
	require.NoError(t, coarse.Balance(true))
	require.NoError(t, coarse.CreateNodes(2))

	ptr, conn, weights, err := f.CreateInterpolation(coarse)
	require.NoError(t, err)
	rng, _ := f.OwnedNodeRange()
	require.Equal(t, rng[1]-rng[0], len(ptr)-1)

	crng, _ := coarse.OwnedNodeRange()
	ones := make([]float64, crng[1])
	for i := range ones {
		ones[i] = 1.0
	}
	for r := 0; r < len(ptr)-1; r++ {
		v := 0.0
		for jp := ptr[r]; jp < ptr[r+1]; jp++ {
			v += weights[jp] * ones[conn[jp]]
		}
		assert.InDelta(t, 1.0, v, 1e-12, "row %d", r)
	}
}

func TestInterpolationWithHangingNodes(t *testing.T) {
	f := New(comm.Self())
	require.NoError(t, f.SetConnectivity(12, twoBlockConn, 2, false))
	require.NoError(t, f.CreateTreesRefined([]int{3, 1}))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	coarse, err := f.Coarsen()
	require.NoError(t, err)
	require.NoError(t, coarse.Balance(true))
	require.NoError(t, coarse.CreateNodes(2))

	ptr, conn, weights, err := f.CreateInterpolation(coarse)
	require.NoError(t, err)

	crng, _ := coarse.OwnedNodeRange()
	for r := 0; r < len(ptr)-1; r++ {
		v := 0.0
		for jp := ptr[r]; jp < ptr[r+1]; jp++ {
			require.GreaterOrEqual(t, conn[jp], 0)
			require.Less(t, conn[jp], crng[1])
			v += weights[jp]
		}
		assert.InDelta(t, 1.0, v, 1e-12, "row %d", r)
	}
}

func TestRestrictionRowsSumToOne(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(2))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	coarse, err := f.Coarsen()
	require.NoError(t, err)
	require.NoError(t, coarse.Balance(true))
	require.NoError(t, coarse.CreateNodes(2))

	ptr, _, weights, err := f.CreateRestriction(coarse)
	require.NoError(t, err)
	crng, _ := coarse.OwnedNodeRange()
	require.Equal(t, crng[1]-crng[0], len(ptr)-1)

	for r := 0; r < len(ptr)-1; r++ {
		v := 0.0
		for jp := ptr[r]; jp < ptr[r+1]; jp++ {
			v += weights[jp]
		}
		assert.InDelta(t, 1.0, v, 1e-12, "row %d", r)
	}
}

func TestInterpolationCSR(t *testing.T) {
	f := newBoxForest(t)
	require.NoError(t, f.CreateTrees(1))
	require.NoError(t, f.Balance(true))
	require.NoError(t, f.CreateNodes(2))

	coarse, err := f.Coarsen()
	require.NoError(t, err)
	require.NoError(t, coarse.Balance(true))
	require.NoError(t, coarse.CreateNodes(2))

	m, err := f.InterpolationCSR(coarse)
	require.NoError(t, err)
	rng, _ := f.OwnedNodeRange()
	crng, _ := coarse.OwnedNodeRange()
	r, c := m.Dims()
	assert.Equal(t, rng[1]-rng[0], r)
	assert.Equal(t, crng[1], c)
}

// elementKey identifies an element globally for conservation checks.
type elementKey struct {
	block int
	oct   octant.Octant
}

func gatherElements(f *Forest) []elementKey {
	var out []elementKey
	for _, b := range f.OwnedBlocks() {
		if f.trees[b] == nil {
			continue
		}
		for _, e := range f.trees[b].Elements().Slice() {
			e.Tag = 0
			out = append(out, elementKey{b, e})
		}
	}
	return out
}

func sortKeys(keys []elementKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].block != keys[j].block {
			return keys[i].block < keys[j].block
		}
		return keys[i].oct.Compare(keys[j].oct) < 0
	})
}

func TestRepartitionConservation(t *testing.T) {
	const P = 2
	w := comm.NewWorld(P)

	var mu sync.Mutex
	before := make(map[int][]elementKey)
	after := make(map[int][]elementKey)

	var wg sync.WaitGroup
	for r := 0; r < P; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			f := New(w.Rank(rank))
			require.NoError(t, f.SetConnectivity(boxNpts, boxConn, boxNblocks, false))
			require.NoError(t, f.CreateRandomTrees(40, 0, 4))
			require.NoError(t, f.Balance(true))

			mu.Lock()
			before[rank] = gatherElements(f)
			mu.Unlock()

			require.NoError(t, f.Repartition())

			mu.Lock()
			after[rank] = gatherElements(f)
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	var all0, all1 []elementKey
	for r := 0; r < P; r++ {
		all0 = append(all0, before[r]...)
		all1 = append(all1, after[r]...)
	}
	sortKeys(all0)
	sortKeys(all1)
	require.Equal(t, len(all0), len(all1), "global element count preserved")
	for i := range all0 {
		assert.Equal(t, all0[i], all1[i], "global Morton multiset preserved")
	}
}

func TestParallelNodeCountMatchesSerial(t *testing.T) {
	// Serial reference
	fs := newBoxForest(t)
	require.NoError(t, fs.CreateTrees(1))
	require.NoError(t, fs.Balance(true))
	require.NoError(t, fs.CreateNodes(2))
	srng, _ := fs.OwnedNodeRange()
	serialTotal := srng[1]

	const P = 2
	w := comm.NewWorld(P)
	totals := make([]int, P)
	var wg sync.WaitGroup
	for r := 0; r < P; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			f := New(w.Rank(rank))
			require.NoError(t, f.SetConnectivity(boxNpts, boxConn, boxNblocks, false))
			require.NoError(t, f.CreateTrees(1))
			require.NoError(t, f.Balance(true))
			require.NoError(t, f.CreateNodes(2))
			rng, err := f.OwnedNodeRange()
			require.NoError(t, err)
			totals[rank] = rng[P]
		}(r)
	}
	wg.Wait()

	assert.Equal(t, serialTotal, totals[0])
	assert.Equal(t, serialTotal, totals[1])
}

func TestParallelBalanceMatchesSerial(t *testing.T) {
	// The balanced forest must not depend on the rank count
	fs := New(comm.Self())
	require.NoError(t, fs.SetConnectivity(12, twoBlockConn, 2, false))
	require.NoError(t, fs.CreateTreesRefined([]int{3, 1}))
	require.NoError(t, fs.Balance(true))
	want := make(map[int][]octant.Octant)
	for _, b := range fs.OwnedBlocks() {
		want[b] = append([]octant.Octant(nil), fs.trees[b].Elements().Slice()...)
	}

	const P = 2
	w := comm.NewWorld(P)
	got := make(map[int][]octant.Octant)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for r := 0; r < P; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			f := New(w.Rank(rank))
			require.NoError(t, f.SetConnectivity(12, twoBlockConn, 2, false))
			require.NoError(t, f.CreateTreesRefined([]int{3, 1}))
			require.NoError(t, f.Balance(true))
			mu.Lock()
			for _, b := range f.OwnedBlocks() {
				got[b] = append([]octant.Octant(nil), f.trees[b].Elements().Slice()...)
			}
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	require.Len(t, got, 2)
	for b, elems := range want {
		require.Equal(t, len(elems), len(got[b]), "block %d", b)
		for i := range elems {
			e1, e2 := elems[i], got[b][i]
			e1.Tag, e2.Tag = 0, 0
			assert.Equal(t, e1, e2)
		}
	}
}

func TestConnectivityReport(t *testing.T) {
	f := newBoxForest(t)
	nblocks, nfaces, nedges, nnodes, faceIDs := f.Connectivity()
	assert.Equal(t, boxNblocks, nblocks)
	assert.Equal(t, 24, nfaces)
	assert.Equal(t, boxNpts, nnodes)
	assert.Equal(t, 32, nedges)

	// Exactly six exterior faces carry boundary tags
	count := 0
	for b := range faceIDs {
		for _, id := range faceIDs[b] {
			if id >= 0 {
				require.Less(t, id, 8)
				count++
			}
		}
	}
	assert.Equal(t, 6, count)
}

func TestPartitionedOwnership(t *testing.T) {
	const P = 3
	w := comm.NewWorld(P)
	owners := make([][]int, P)
	var wg sync.WaitGroup
	for r := 0; r < P; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			f := New(w.Rank(rank))
			require.NoError(t, f.SetConnectivity(boxNpts, boxConn, boxNblocks, true))
			owners[rank] = f.BlockOwners()
		}(r)
	}
	wg.Wait()

	// All ranks agree, every block is owned, all ranks participate
	for r := 1; r < P; r++ {
		assert.Equal(t, owners[0], owners[r])
	}
	seen := make(map[int]bool)
	for _, o := range owners[0] {
		require.GreaterOrEqual(t, o, 0)
		require.Less(t, o, P)
		seen[o] = true
	}
	assert.Len(t, seen, P)
}
