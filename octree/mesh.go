package octree

import (
	"errors"

	"github.com/notargets/octforest/octant"
)

// ErrNoNodes is returned when a mesh or transfer operation runs before
// CreateNodes.
var ErrNoNodes = errors.New("octree: nodes have not been created")

// CreateMeshConn emits the element connectivity in Morton order: one
// order^3-long row per element. Independent nodes appear as their
// non-negative ids, dependent nodes as the encoding -(d+1).
func (t *Octree) CreateMeshConn() ([]int, error) {
	if t.nodes == nil {
		return nil, ErrNoNodes
	}

	n := t.order
	conn := make([]int, 0, n*n*n*t.numElements)
	for _, e := range t.elements.Slice() {
		step := nodeStep(e.EdgeLength(), t.order)
		for kk := 0; kk < n; kk++ {
			for jj := 0; jj < n; jj++ {
				for ii := 0; ii < n; ii++ {
					q := octant.Octant{
						X: e.X + int32(ii)*step,
						Y: e.Y + int32(jj)*step,
						Z: e.Z + int32(kk)*step,
					}
					idx, ok := t.nodes.Contains(q, true)
					if !ok {
						panic("octree: element node missing from node array")
					}
					conn = append(conn, int(t.nodes.Get(idx).Tag))
				}
			}
		}
	}
	return conn, nil
}
