// Package comm provides the message-passing layer the forest runs on: a
// fixed-size world of ranks with point-to-point byte messages and the
// collective operations the parallel algorithms require. Ranks are
// driven by goroutines within one process; every collective is a
// synchronization point that all ranks must enter in the same order,
// mirroring the communicator contract of the distributed setting.
package comm

import (
	"errors"
	"sync"
)

// ErrInvalidWorld is returned once a collective has failed on any rank;
// the forest built on the world must be discarded.
var ErrInvalidWorld = errors.New("comm: world has been invalidated")

// Op selects the reduction operator.
type Op int

const (
	OpSum Op = iota
	OpMax
	OpMin
	OpLAnd // logical and over nonzero values
)

// World holds the shared state of a communicator of the given size.
type World struct {
	size  int
	comms []*Comm

	mu       sync.Mutex
	cond     *sync.Cond
	arrived  int
	gen      uint64
	vals     []int64
	results  []int64
	gathered [][][]byte
	poisoned bool
}

// NewWorld creates a communicator world with the given number of ranks.
func NewWorld(size int) *World {
	if size < 1 {
		size = 1
	}
	w := &World{
		size:     size,
		vals:     make([]int64, size),
		results:  make([]int64, size),
		gathered: make([][][]byte, size),
	}
	w.cond = sync.NewCond(&w.mu)
	w.comms = make([]*Comm, size)
	for r := 0; r < size; r++ {
		w.comms[r] = &Comm{world: w, rank: r}
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Rank returns the communicator endpoint of rank r.
func (w *World) Rank(r int) *Comm { return w.comms[r] }

// Poison marks the world invalid. Collective failures are symmetric:
// every rank observes ErrInvalidWorld from the next operation.
func (w *World) Poison() {
	w.mu.Lock()
	w.poisoned = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Self returns a single-rank communicator, the degenerate world every
// serial caller runs in.
func Self() *Comm {
	return NewWorld(1).Rank(0)
}

// Comm is one rank's endpoint into a world.
type Comm struct {
	world *World
	rank  int
}

// Rank returns this endpoint's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the world size.
func (c *Comm) Size() int { return c.world.size }

// World returns the owning world.
func (c *Comm) World() *World { return c.world }

// rendezvous runs one collective phase: every rank deposits its
// contribution, the last arrival folds them, and all ranks leave with
// the shared result. The fold runs exactly once per generation.
func (w *World) rendezvous(rank int, deposit func(), fold func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned {
		return ErrInvalidWorld
	}

	deposit()
	w.arrived++
	if w.arrived == w.size {
		fold()
		w.arrived = 0
		w.gen++
		w.cond.Broadcast()
		return nil
	}

	gen := w.gen
	for w.gen == gen && !w.poisoned {
		w.cond.Wait()
	}
	if w.poisoned {
		return ErrInvalidWorld
	}
	return nil
}

// Barrier blocks until every rank has entered it.
func (c *Comm) Barrier() error {
	return c.world.rendezvous(c.rank, func() {}, func() {})
}

// Allreduce folds one int64 per rank with the given operator and returns
// the result to every rank.
func (c *Comm) Allreduce(v int64, op Op) (int64, error) {
	w := c.world
	err := w.rendezvous(c.rank,
		func() { w.vals[c.rank] = v },
		func() {
			acc := w.vals[0]
			for _, x := range w.vals[1:] {
				switch op {
				case OpSum:
					acc += x
				case OpMax:
					if x > acc {
						acc = x
					}
				case OpMin:
					if x < acc {
						acc = x
					}
				case OpLAnd:
					if acc != 0 && x != 0 {
						acc = 1
					} else {
						acc = 0
					}
				}
			}
			for r := range w.results {
				w.results[r] = acc
			}
		})
	if err != nil {
		return 0, err
	}
	return w.results[c.rank], nil
}

// Exscan returns the exclusive prefix sum over ranks: rank r receives the
// sum of the contributions of ranks 0..r-1, with rank 0 receiving zero.
func (c *Comm) Exscan(v int64) (int64, error) {
	w := c.world
	err := w.rendezvous(c.rank,
		func() { w.vals[c.rank] = v },
		func() {
			acc := int64(0)
			for r := 0; r < w.size; r++ {
				w.results[r] = acc
				acc += w.vals[r]
			}
		})
	if err != nil {
		return 0, err
	}
	return w.results[c.rank], nil
}

// Allgather collects one int64 per rank into a slice indexed by rank,
// identical on every rank.
func (c *Comm) Allgather(v int64) ([]int64, error) {
	w := c.world
	var out []int64
	err := w.rendezvous(c.rank,
		func() { w.vals[c.rank] = v },
		func() {})
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	out = append(out, w.vals...)
	w.mu.Unlock()

	// Hold every rank until all copies are taken before the slots can be
	// reused by the next collective
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	return out, nil
}

// Alltoallv delivers out[dst] from every rank to rank dst; the returned
// slice holds in[src] = the payload rank src addressed to this rank. A
// nil entry means the pair exchanged nothing.
func (c *Comm) Alltoallv(out [][]byte) ([][]byte, error) {
	w := c.world
	if len(out) != w.size {
		return nil, errors.New("comm: Alltoallv payload must have one entry per rank")
	}
	err := w.rendezvous(c.rank,
		func() { w.gathered[c.rank] = out },
		func() {})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	in := make([][]byte, w.size)
	for src := 0; src < w.size; src++ {
		in[src] = w.gathered[src][c.rank]
	}
	w.mu.Unlock()

	// A second barrier closes the phase so the shared matrix can be
	// reused by the next collective
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	return in, nil
}

// AgreeStatus reduces a per-rank success flag; every rank sees failure
// when any rank failed, and the world is poisoned in that case.
func (c *Comm) AgreeStatus(ok bool) error {
	v := int64(1)
	if !ok {
		v = 0
	}
	all, err := c.Allreduce(v, OpLAnd)
	if err != nil {
		return err
	}
	if all == 0 {
		c.world.Poison()
		return ErrInvalidWorld
	}
	return nil
}
