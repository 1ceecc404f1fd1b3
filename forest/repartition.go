package forest

import (
	"github.com/notargets/octforest/comm"
	"github.com/notargets/octforest/octant"
	"github.com/notargets/octforest/octree"
)

// Repartition redistributes the forest along the global Morton order
// with unit element weights.
func (f *Forest) Repartition() error {
	return f.RepartitionWeighted(nil)
}

// RepartitionWeighted redistributes the forest by weighted Morton-space
// partitioning. The global element order is the concatenation of the
// per-block Morton arrays in block-id order; weights accumulate per
// block (trees migrate whole, so the cut points snap to block
// boundaries), every rank computes the same prefix split, and trees
// whose owner changes are shipped point-to-point. Node data is
// invalidated; the balance property is untouched because no element
// changes. Collective.
//
// weights, when non-nil, maps block id to the weight of each of its
// elements; absent blocks weigh one per element.
func (f *Forest) RepartitionWeighted(weights map[int]int) error {
	if err := f.requireConnectivity(); err != nil {
		return err
	}
	rank := f.comm.Rank()
	size := f.comm.Size()
	nblocks := f.cx.NumBlocks

	// Broadcast the owned block weights so every rank sees the full
	// prefix. The global scan runs over blocks in id order.
	var local []byte
	for _, b := range f.OwnedBlocks() {
		if f.trees[b] == nil {
			continue
		}
		w := int64(f.trees[b].NumElements())
		if perElem, ok := weights[b]; ok {
			w *= int64(perElem)
		}
		local = appendInt64(local, int64(b))
		local = appendInt64(local, w)
	}
	payload := make([][]byte, size)
	for r := 0; r < size; r++ {
		payload[r] = local
	}
	in, err := f.comm.Alltoallv(payload)
	if err != nil {
		return err
	}

	blockWeight := make([]int64, nblocks)
	for _, buf := range in {
		vals := decodeInt64s(buf)
		for off := 0; off+2 <= len(vals); off += 2 {
			blockWeight[vals[off]] = vals[off+1]
		}
	}

	var total int64
	for _, w := range blockWeight {
		total += w
	}
	if total == 0 {
		return f.comm.AgreeStatus(true)
	}

	// Rank of each block: the rank whose ideal weight window contains
	// the block's starting prefix. Monotone, so ranks own contiguous
	// block runs.
	newOwners := make([]int, nblocks)
	var prefix int64
	for b := 0; b < nblocks; b++ {
		r := int(prefix * int64(size) / total)
		if r > size-1 {
			r = size - 1
		}
		newOwners[b] = r
		prefix += blockWeight[b]
	}

	// Migrate departing trees and install arriving ones
	out := make([][]byte, size)
	migrated := 0
	for _, b := range f.OwnedBlocks() {
		dst := newOwners[b]
		if dst == rank || f.trees[b] == nil {
			continue
		}
		for _, e := range f.trees[b].Elements().Slice() {
			out[dst] = appendBlockOctant(out[dst], blockOctant{b, e})
		}
		f.trees[b] = nil
		migrated++
	}

	inTrees, err := f.comm.Alltoallv(out)
	if err != nil {
		return err
	}
	arriving := make(map[int][]octant.Octant)
	for _, buf := range inTrees {
		for _, bo := range decodeBlockOctants(buf) {
			arriving[bo.block] = append(arriving[bo.block], bo.oct)
		}
	}
	for b, elems := range arriving {
		f.trees[b] = octree.FromArray(octant.NewArray(elems))
	}

	f.owners = newOwners
	f.invalidateNodes()

	moved, err := f.comm.Allreduce(int64(migrated), comm.OpSum)
	if err != nil {
		return err
	}
	log.Debug().Int64("migrated_blocks", moved).Msg("repartition")
	return f.comm.AgreeStatus(true)
}
