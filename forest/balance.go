package forest

import (
	"github.com/notargets/octforest/comm"
	"github.com/notargets/octforest/octant"
)

// routeRequest maps a balance request that left block b's domain into the
// frames of the adjacent blocks. The crossed entity follows from which
// axes the request anchor exceeds: one axis is a face, two an edge,
// three a corner. Requests beyond a physical boundary are dropped.
func (f *Forest) routeRequest(b int, req octant.Octant, out *[]blockOctant) {
	h := req.EdgeLength()
	var lowHigh [3]int // -1 below, +1 above, 0 inside
	crossed := 0
	for axis, v := range [3]int32{req.X, req.Y, req.Z} {
		switch {
		case v < 0:
			lowHigh[axis] = -1
			crossed++
		case v+h > octant.HMax:
			lowHigh[axis] = 1
			crossed++
		}
	}

	switch crossed {
	case 1:
		for axis := 0; axis < 3; axis++ {
			if lowHigh[axis] == 0 {
				continue
			}
			face := 2 * axis
			if lowHigh[axis] > 0 {
				face++
			}
			if nb, no, ok := f.cx.CrossFace(b, face, req); ok {
				*out = append(*out, blockOctant{nb, no})
			}
		}

	case 2:
		axis := 0 // the running axis is the one still inside
		for a := 0; a < 3; a++ {
			if lowHigh[a] == 0 {
				axis = a
			}
		}
		// Transverse axes in ascending order select the local edge
		e := 4 * axis
		bit := 1
		for a := 0; a < 3; a++ {
			if a == axis {
				continue
			}
			if lowHigh[a] > 0 {
				e += bit
			}
			bit <<= 1
		}
		for _, bo := range f.cx.CrossEdge(b, e, req) {
			*out = append(*out, blockOctant{bo.Block, bo.Oct})
		}

	case 3:
		k := 0
		for a := 0; a < 3; a++ {
			if lowHigh[a] > 0 {
				k |= 1 << a
			}
		}
		for _, bo := range f.cx.CrossCorner(b, k, req.Level) {
			*out = append(*out, blockOctant{bo.Block, bo.Oct})
		}
	}
}

// requestSatisfied reports whether block b's tree covers the request at
// the demanded level or finer.
func (f *Forest) requestSatisfied(b int, req octant.Octant) bool {
	t := f.trees[b]
	if t == nil {
		return true
	}
	if i, ok := t.FindEnclosing(req); ok {
		return t.Elements().Get(i).Level >= req.Level
	}
	// No single leaf contains the request cube: the covering there is
	// already finer than the request
	return true
}

// Balance enforces 2:1 across the whole forest: each owned tree is
// balanced locally, boundary-crossing requests are transformed through
// the face/edge/corner orientations and delivered to the owners of the
// adjacent blocks, and the exchange repeats until no rank accepts a new
// request. Collective.
func (f *Forest) Balance(corner bool) error {
	if err := f.requireConnectivity(); err != nil {
		return err
	}
	rank := f.comm.Rank()
	size := f.comm.Size()

	seeds := make(map[int][]octant.Octant)
	for round := 0; ; round++ {
		// Local balance with remote capture
		var crossing []blockOctant
		for _, b := range f.OwnedBlocks() {
			t := f.trees[b]
			if t == nil {
				continue
			}
			blk := b
			t.BalanceSeeded(corner, seeds[b], func(req octant.Octant) {
				f.routeRequest(blk, req, &crossing)
			})
		}
		seeds = make(map[int][]octant.Octant)

		// Route requests to the owner of each destination block
		payload := make([][]byte, size)
		accepted := 0
		deliver := func(bo blockOctant) {
			if !f.requestSatisfied(bo.block, bo.oct) {
				seeds[bo.block] = append(seeds[bo.block], bo.oct)
				accepted++
			}
		}
		for _, bo := range crossing {
			dst := f.owners[bo.block]
			if dst == rank {
				deliver(bo)
				continue
			}
			payload[dst] = appendBlockOctant(payload[dst], bo)
		}

		in, err := f.comm.Alltoallv(payload)
		if err != nil {
			return err
		}
		for _, buf := range in {
			for _, bo := range decodeBlockOctants(buf) {
				deliver(bo)
			}
		}

		total, err := f.comm.Allreduce(int64(accepted), comm.OpSum)
		if err != nil {
			return err
		}
		log.Debug().Int("round", round).Int64("requests", total).Msg("balance round")
		if total == 0 {
			break
		}
	}

	f.balanced = true
	f.invalidateNodes()
	return f.comm.AgreeStatus(true)
}
