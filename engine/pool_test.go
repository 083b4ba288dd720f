package engine

import (
	"testing"

	"github.com/mjyoussef/server-benchmarks/protocol"
	"github.com/stretchr/testify/require"
)

func TestConnectionPoolInvariant(t *testing.T) {
	p := newConnectionPool(4)
	require.True(t, p.full() == false)

	idxs := make([]int, 0, 4)
	for !p.full() {
		idxs = append(idxs, p.acquire())
	}
	require.Len(t, idxs, 4)

	inUse, cap := p.occupancy()
	require.Equal(t, 4, inUse)
	require.Equal(t, 4, cap)

	// No slot should repeat.
	seen := map[int]bool{}
	for _, idx := range idxs {
		require.False(t, seen[idx], "slot %d acquired twice", idx)
		seen[idx] = true
	}

	p.release(idxs[0])
	inUse, cap = p.occupancy()
	require.Equal(t, 3, inUse)
	require.Equal(t, 4, cap)
	require.False(t, p.full())

	reacquired := p.acquire()
	require.Equal(t, idxs[0], reacquired)
}

func TestConnectionResetFlipsState(t *testing.T) {
	var c connection
	c.reset(5, stateRead)
	require.Equal(t, protocol.RequestSize, c.size())
	require.Equal(t, 0, c.idx)

	c.idx = 10
	c.reset(5, stateWrite)
	require.Equal(t, 0, c.idx)
	require.Equal(t, stateWrite, c.state)
}
