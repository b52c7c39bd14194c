package simnet

import (
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

const testApp = 7

func addrOf(i int) pastry.Addr {
	return pastry.Addr(fmt.Sprintf("10.1.0.%d:7000", i+1))
}

// startRing joins n nodes through the first one, a second apart, and lets
// the ring settle.
func startRing(t *testing.T, n int, tweak func(*pastry.Config)) (*Network, []*pastry.Router) {
	net := New(Config{Seed: 1}, log.NewNopLogger())
	routers := make([]*pastry.Router, n)
	for i := range routers {
		cfg := pastry.DefaultConfig()
		if i > 0 {
			cfg.Gateways = []pastry.Addr{addrOf(0)}
		}
		if tweak != nil {
			tweak(&cfg)
		}
		r, err := net.NewRouter(addrOf(i), cfg)
		require.NoError(t, err)
		r.Start()
		net.RunFor(time.Second)
		routers[i] = r
	}
	net.RunFor(10 * time.Minute)
	return net, routers
}

func byID(routers []*pastry.Router) map[pastry.NeighborInfo]*pastry.Router {
	out := make(map[pastry.NeighborInfo]*pastry.Router, len(routers))
	for _, r := range routers {
		out[r.Self()] = r
	}
	return out
}

func TestJoinConverges(t *testing.T) {
	_, routers := startRing(t, 5, nil)

	if bad := Misplaced(routers); len(bad) > 0 {
		snaps := make([]pastry.Snapshot, len(routers))
		for i, r := range routers {
			snaps[i] = r.Snapshot()
		}
		t.Fatalf("misplaced %v\nring %v\n%s", bad, Ring(routers), spew.Sdump(snaps))
	}
	for _, r := range routers {
		assert.True(t, r.Initialized(), "%v", r.Self())
		set := r.LeafSet().Set()
		assert.Len(t, set, 4, "%v has %v", r.Self(), set)
		for _, o := range routers {
			if o != r {
				assert.True(t, r.LeafSet().Contains(o.Self()), "%v misses %v", r.Self(), o.Self())
			}
		}
	}
}

func TestClosestLeafBetweenNeighbors(t *testing.T) {
	_, routers := startRing(t, 5, nil)
	ring := Ring(routers)

	gap := ring[3].ID.Sub(ring[2].ID).Big()
	half, err := guid.FromBig(new(big.Int).Rsh(gap, 1))
	require.NoError(t, err)
	mid := ring[2].ID.Add(half)

	for _, r := range routers {
		got := r.LeafSet().ClosestLeaf(mid, nil)
		assert.Contains(t, []pastry.NeighborInfo{ring[2], ring[3]}, got, "at %v", r.Self())
	}
}

// deliveries registers a counting application on every router.
func deliveries(t *testing.T, routers []*pastry.Router) map[pastry.NeighborInfo]int {
	got := make(map[pastry.NeighborInfo]int)
	for _, r := range routers {
		self := r.Self()
		_, err := r.RegisterApplication(testApp, pastry.Application{
			Deliver: func(pastry.RouteEvent) { got[self]++ },
		})
		require.NoError(t, err)
	}
	return got
}

func total(counts map[pastry.NeighborInfo]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// rootOf returns the node of ring closest to key.
func rootOf(ring []pastry.NeighborInfo, key guid.ID) pastry.NeighborInfo {
	root := ring[0]
	for _, ni := range ring[1:] {
		if guid.Dist(ni.ID, key).Cmp(guid.Dist(root.ID, key)) < 0 {
			root = ni
		}
	}
	return root
}

func TestNextHopsOnLargeRing(t *testing.T) {
	_, routers := startRing(t, 48, nil)
	require.Empty(t, Misplaced(routers))
	ring, nodes := Ring(routers), byID(routers)

	strategies := map[string]func(r *pastry.Router, key guid.ID) pastry.NeighborInfo{
		"basic": func(r *pastry.Router, key guid.ID) pastry.NeighborInfo { return r.CalcNextHop(key) },
		"prs":   func(r *pastry.Router, key guid.ID) pastry.NeighborInfo { return r.CalcNextHopPRS(key, nil) },
		"scaled": func(r *pastry.Router, key guid.ID) pastry.NeighborInfo {
			return r.CalcNextHopScaledPRS(key, pastry.PRSScaling, nil)
		},
		"greedy": func(r *pastry.Router, key guid.ID) pastry.NeighborInfo { return r.CalcNextHopGreedy(key, nil) },
	}

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		key := guid.Random(rnd)
		root := rootOf(ring, key)
		start := routers[rnd.Intn(len(routers))]
		for name, next := range strategies {
			cur, hops := start, 0
			for {
				hop := next(cur, key)
				if hop == cur.Self() {
					break
				}
				// Basic routing may take a routing table hop to a longer
				// prefix that is numerically farther from key.
				if name != "basic" {
					closer := guid.Dist(hop.ID, key).Cmp(guid.Dist(cur.ID(), key)) < 0
					require.True(t, closer || hop == root, "%s: %v -> %v for %v", name, cur.Self(), hop, key)
				}
				cur = nodes[hop]
				require.NotNil(t, cur, "%s: hop to unknown node %v", name, hop)
				hops++
				require.True(t, hops <= len(routers), "%s: no end routing %v from %v", name, key, start.Self())
			}
			assert.Equal(t, root, cur.Self(), "%s: %v from %v", name, key, start.Self())
		}
	}
}

func TestRouteRetriedAroundDeadRoot(t *testing.T) {
	net, routers := startRing(t, 5, nil)
	got := deliveries(t, routers)
	ring := Ring(routers)
	dead, from := ring[2], byID(routers)[ring[0]]

	net.SetDown(dead.Addr, true)
	require.NoError(t, from.RouteInit(dead.ID, testApp, false, []byte("hello")))
	net.RunFor(30 * time.Second)

	assert.Equal(t, 1, total(got), "%v", got)
	assert.Zero(t, got[dead])
}

func TestRouteNotRetransmitted(t *testing.T) {
	net, routers := startRing(t, 5, func(cfg *pastry.Config) { cfg.NoRexmitRoutes = true })
	got := deliveries(t, routers)
	ring := Ring(routers)
	dead, from := ring[2], byID(routers)[ring[0]]

	net.SetDown(dead.Addr, true)
	require.NoError(t, from.RouteInit(dead.ID, testApp, false, []byte("hello")))
	net.RunFor(30 * time.Second)

	assert.Zero(t, total(got), "%v", got)
}

func TestRouteReachesRoot(t *testing.T) {
	net, routers := startRing(t, 5, nil)
	var events []pastry.RouteEvent
	root := Ring(routers)[1]
	for _, r := range routers {
		self := r.Self()
		_, err := r.RegisterApplication(testApp, pastry.Application{
			Deliver: func(ev pastry.RouteEvent) {
				assert.Equal(t, root, self)
				events = append(events, ev)
			},
		})
		require.NoError(t, err)
	}

	from := byID(routers)[Ring(routers)[4]]
	require.NoError(t, from.RouteInit(root.ID, testApp, false, []byte("payload")))
	net.RunFor(time.Second)

	require.Len(t, events, 1)
	assert.Equal(t, from.ID(), events[0].Src)
	assert.Equal(t, root.ID, events[0].Dest)
	assert.Equal(t, []byte("payload"), events[0].Payload)
}

func TestFailedNodeIsPurged(t *testing.T) {
	net, routers := startRing(t, 5, nil)
	dead := Ring(routers)[3]

	net.SetDown(dead.Addr, true)
	net.RunFor(5 * time.Minute)

	var live []*pastry.Router
	for _, r := range routers {
		if r.Self() == dead {
			continue
		}
		live = append(live, r)
		assert.False(t, r.LeafSet().Contains(dead), "%v still has %v", r.Self(), dead)
		assert.False(t, r.RoutingTable().Contains(dead), "%v still routes to %v", r.Self(), dead)
		assert.Contains(t, r.Snapshot().DownNodes, dead.Addr)
	}
	assert.Empty(t, Misplaced(live))
}

func TestLookupFindsOwner(t *testing.T) {
	net, routers := startRing(t, 5, nil)
	ring := Ring(routers)

	var one guid.ID
	one[guid.Size-1] = 1
	key := ring[3].ID.Add(one)

	var owners []pastry.NeighborInfo
	from := byID(routers)[ring[0]]
	from.Lookup(key, func(id, ownerID guid.ID, owner pastry.Addr) {
		assert.Equal(t, key, id)
		owners = append(owners, pastry.NeighborInfo{Addr: owner, ID: ownerID})
	})
	from.Lookup(key, func(_, ownerID guid.ID, owner pastry.Addr) {
		owners = append(owners, pastry.NeighborInfo{Addr: owner, ID: ownerID})
	})
	net.RunFor(time.Second)

	assert.Equal(t, []pastry.NeighborInfo{ring[3], ring[3]}, owners)
}

func TestSendToDownNodeTimesOut(t *testing.T) {
	net := New(Config{}, log.NewNopLogger())
	a, b := net.Attach("a:1"), net.Attach("b:1")
	var received []pastry.Message
	b.SetHandler(func(_ pastry.Addr, m pastry.Message) { received = append(received, m) })

	var errs []error
	var rtts []time.Duration
	done := func(rtt time.Duration, err error) {
		rtts = append(rtts, rtt)
		errs = append(errs, err)
	}
	a.Send("b:1", &pastry.Ping{}, time.Second, done)
	net.RunFor(time.Second)
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Equal(t, 20*time.Millisecond, rtts[0])
	assert.Len(t, received, 1)

	net.SetDown("b:1", true)
	start := net.Now()
	a.Send("b:1", &pastry.Ping{}, time.Second, func(_ time.Duration, err error) {
		assert.Equal(t, ErrTimeout, err)
		assert.Equal(t, start.Add(time.Second), net.Now())
	})
	a.Send("c:1", &pastry.Ping{}, time.Second, done)
	net.RunFor(2 * time.Second)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrUnknownAddr, errs[1])
	assert.Len(t, received, 1)

	sent, dropped, delivered := net.Stats()
	assert.Equal(t, 3, sent)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, delivered)
}

func TestExecutorCancel(t *testing.T) {
	net := New(Config{}, log.NewNopLogger())
	exec := net.Executor()
	var order []int
	cancel := exec.AfterFunc(time.Second, func() { order = append(order, 1) })
	exec.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	exec.Post(func() { order = append(order, 0) })

	assert.True(t, cancel())
	assert.False(t, cancel())
	net.RunFor(3 * time.Second)
	assert.Equal(t, []int{0, 2}, order)
	assert.Equal(t, New(Config{}, nil).Now().Add(3*time.Second), exec.Now())
}
