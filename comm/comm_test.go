package comm

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWorld drives fn on every rank of a fresh world and waits for all of
// them.
func runWorld(t *testing.T, size int, fn func(c *Comm)) {
	t.Helper()
	w := NewWorld(size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			fn(w.Rank(rank))
		}(r)
	}
	wg.Wait()
}

func TestSelf(t *testing.T) {
	c := Self()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())

	v, err := c.Allreduce(5, OpSum)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestAllreduce(t *testing.T) {
	const P = 4
	runWorld(t, P, func(c *Comm) {
		v, err := c.Allreduce(int64(c.Rank()+1), OpSum)
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)

		v, err = c.Allreduce(int64(c.Rank()), OpMax)
		require.NoError(t, err)
		assert.Equal(t, int64(P-1), v)

		v, err = c.Allreduce(int64(c.Rank()), OpMin)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)

		flag := int64(1)
		if c.Rank() == 2 {
			flag = 0
		}
		v, err = c.Allreduce(flag, OpLAnd)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	})
}

func TestExscan(t *testing.T) {
	const P = 5
	runWorld(t, P, func(c *Comm) {
		v, err := c.Exscan(int64(c.Rank() + 1))
		require.NoError(t, err)
		// rank r receives 1+2+...+r
		want := int64(c.Rank()) * int64(c.Rank()+1) / 2
		assert.Equal(t, want, v)
	})
}

func TestAllgather(t *testing.T) {
	const P = 3
	runWorld(t, P, func(c *Comm) {
		vals, err := c.Allgather(int64(10 * c.Rank()))
		require.NoError(t, err)
		require.Len(t, vals, P)
		for r := 0; r < P; r++ {
			assert.Equal(t, int64(10*r), vals[r])
		}
	})
}

func TestAlltoallv(t *testing.T) {
	const P = 4
	runWorld(t, P, func(c *Comm) {
		out := make([][]byte, P)
		for dst := 0; dst < P; dst++ {
			if dst == c.Rank() {
				continue
			}
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(100*c.Rank()+dst))
			out[dst] = buf
		}
		in, err := c.Alltoallv(out)
		require.NoError(t, err)
		for src := 0; src < P; src++ {
			if src == c.Rank() {
				assert.Nil(t, in[src])
				continue
			}
			require.Len(t, in[src], 8)
			got := binary.LittleEndian.Uint64(in[src])
			assert.Equal(t, uint64(100*src+c.Rank()), got)
		}
	})
}

func TestRepeatedCollectives(t *testing.T) {
	// Back-to-back collectives must not leak state between generations
	const P = 3
	runWorld(t, P, func(c *Comm) {
		for i := 0; i < 50; i++ {
			v, err := c.Allreduce(int64(i), OpMax)
			require.NoError(t, err)
			assert.Equal(t, int64(i), v)

			s, err := c.Exscan(1)
			require.NoError(t, err)
			assert.Equal(t, int64(c.Rank()), s)
		}
	})
}

func TestAgreeStatusPoisonsWorld(t *testing.T) {
	const P = 3
	runWorld(t, P, func(c *Comm) {
		err := c.AgreeStatus(c.Rank() != 1)
		assert.ErrorIs(t, err, ErrInvalidWorld)

		// Every later collective fails symmetrically
		_, err = c.Allreduce(1, OpSum)
		assert.ErrorIs(t, err, ErrInvalidWorld)
	})
}
