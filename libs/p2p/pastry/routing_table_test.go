package pastry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

func newTestTable() *RoutingTable {
	return NewRoutingTable(tn(0x50), guid.MustDigits(16), 0.9)
}

func TestRoutingTableAdd(t *testing.T) {
	rt := newTestTable()
	assert.Equal(t, -1, rt.Highest())

	_, ok := rt.Add(rt.self, time.Millisecond, true)
	assert.False(t, ok, "self is never added")

	ev, ok := rt.Add(tn(0x80), 40*time.Millisecond, true)
	require.True(t, ok)
	assert.Equal(t, rt.self, ev)
	assert.Equal(t, 1, rt.Size())
	assert.Equal(t, 0, rt.Highest())

	_, ok = rt.Add(tn(0x80), 10*time.Millisecond, true)
	assert.False(t, ok, "refreshing the same node is not a change")
	e, _ := rt.Primary(0, 8)
	assert.Equal(t, 10*time.Millisecond, e.RTT)

	other := NeighborInfo{Addr: "10.1.1.1:7000", ID: tid(0x8100000000000000)}
	_, ok = rt.Add(other, 9500*time.Microsecond, true)
	assert.False(t, ok, "not better by the scale margin")
	_, ok = rt.Add(other, 5*time.Millisecond, false)
	assert.False(t, ok, "no replacement without pns")

	ev, ok = rt.Add(other, 5*time.Millisecond, true)
	require.True(t, ok)
	assert.Equal(t, tn(0x80), ev)
	assert.True(t, rt.Contains(other))
	assert.False(t, rt.Contains(tn(0x80)))
	assert.Equal(t, 1, rt.Size())

	_, ok = rt.Add(tn(0x53), time.Millisecond, false)
	require.True(t, ok)
	assert.Equal(t, 1, rt.Highest())
}

func TestRoutingTablePrefixInvariant(t *testing.T) {
	rt := newTestTable()
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 500; i++ {
		ni := NeighborInfo{Addr: "x", ID: guid.Random(r)}
		rt.Add(ni, time.Duration(r.Intn(100))*time.Millisecond, true)
	}
	d := rt.Digits()
	for level := 0; level <= rt.Highest(); level++ {
		for _, e := range rt.Level(level) {
			assert.Equal(t, level, d.FirstDiff(e.Node.ID, rt.self.ID))
			got, ok := rt.Primary(level, d.At(e.Node.ID, level))
			require.True(t, ok)
			assert.Equal(t, e, got)
		}
	}
	assert.Len(t, rt.List(), rt.Size())
}

func TestRoutingTableRemove(t *testing.T) {
	rt := newTestTable()
	rt.Add(tn(0x80), time.Millisecond, false)
	deep := NeighborInfo{Addr: "deep", ID: tid(0x5070000000000000)}
	rt.Add(deep, time.Millisecond, false)
	require.Equal(t, 2, rt.Highest())

	assert.Equal(t, -1, rt.Remove(tn(0x81)))
	assert.Equal(t, 2, rt.Remove(deep))
	assert.Equal(t, 0, rt.Highest(), "rescans down to the next occupied level")
	assert.Equal(t, 0, rt.Remove(tn(0x80)))
	assert.Equal(t, -1, rt.Highest())
	assert.Equal(t, 0, rt.Size())
}

func TestRoutingTableNextHop(t *testing.T) {
	rt := newTestTable()
	rt.Add(tn(0x80), time.Millisecond, false)

	n, ok := rt.NextHop(tid(0x8f00000000000000), nil)
	require.True(t, ok)
	assert.Equal(t, tn(0x80), n)

	_, ok = rt.NextHop(tid(0x8f00000000000000), func(ni NeighborInfo) bool { return ni == tn(0x80) })
	assert.False(t, ok)
	_, ok = rt.NextHop(tid(0x9000000000000000), nil)
	assert.False(t, ok, "hole")

	n, ok = rt.NextHop(rt.self.ID, nil)
	require.True(t, ok)
	assert.Equal(t, rt.self, n)

	_, ok = rt.NextHop(tid(0x5000000000000001), nil)
	assert.False(t, ok, "hole on a deep level")
}

func TestRoutingTableHolesAndRandom(t *testing.T) {
	rt := newTestTable()
	assert.True(t, rt.FillsHole(tn(0x80)))
	assert.False(t, rt.FillsHole(rt.self))
	rt.Add(tn(0x80), time.Millisecond, false)
	rt.Add(tn(0x90), time.Millisecond, false)
	assert.False(t, rt.FillsHole(tn(0x81)))

	assert.Len(t, rt.Holes(), 16-3)
	assert.Equal(t, 8, rt.MatchingDigits(tid(0x5000000080000000)))

	r := rand.New(rand.NewSource(5))
	seen := map[NeighborInfo]bool{}
	for i := 0; i < 100; i++ {
		n, ok := rt.RandomNeighbor(0, r)
		require.True(t, ok)
		seen[n] = true
	}
	assert.Len(t, seen, 2)
	_, ok := rt.RandomNeighbor(1, r)
	assert.False(t, ok)

	rt.ForceAdd(tn(0x81), time.Hour)
	assert.True(t, rt.Contains(tn(0x81)))
	assert.Equal(t, 2, rt.Size())
}
