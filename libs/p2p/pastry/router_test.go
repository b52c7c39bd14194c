package pastry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

const selfAddr Addr = "10.0.0.16:7000"

func newTestRouter(t *testing.T, tweak func(*Config)) (*Router, *mockTransport, *manualExecutor) {
	cfg := DefaultConfig()
	cfg.ExplicitGUID = tn(0x10).ID.Hex()
	if tweak != nil {
		tweak(&cfg)
	}
	tr := newMockTransport(selfAddr)
	exec := newManualExecutor()
	r, err := NewRouter(cfg, exec, tr, WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	return r, tr, exec
}

// joinedRouter joins through tn(0x80) and acknowledges every probe, so
// the gateway and extra end up in the leaf set.
func joinedRouter(t *testing.T, tweak func(*Config), extra ...NeighborInfo) (*Router, *mockTransport, *manualExecutor) {
	gw := tn(0x80)
	r, tr, exec := newTestRouter(t, func(cfg *Config) {
		cfg.Gateways = []Addr{gw.Addr}
		if tweak != nil {
			tweak(cfg)
		}
	})
	r.Start()
	exec.drain()
	r.HandleMessage(gw.Addr, &JoinResp{Path: []NeighborInfo{gw}, LeafSet: extra})
	exec.drain()
	require.True(t, r.Initialized())
	tr.finish(KindPing, nil)
	exec.drain()
	require.True(t, r.LeafSet().Contains(gw))
	return r, tr, exec
}

func TestNewRouterRejectsBadConfig(t *testing.T) {
	for name, tweak := range map[string]func(*Config){
		"leaf set":     func(c *Config) { c.LeafSetSize = 0 },
		"scale":        func(c *Config) { c.RTScale = 1.5 },
		"digits":       func(c *Config) { c.DigitValues = 3 },
		"ping period":  func(c *Config) { c.PeriodicPingPeriod = 0 },
		"negative":     func(c *Config) { c.FarRTAlarmPeriod = -time.Second },
		"explicit id":  func(c *Config) { c.ExplicitGUID = "beef" },
		"ls alarm off": func(c *Config) { c.LeafSetAlarmPeriod = 0 },
	} {
		cfg := DefaultConfig()
		tweak(&cfg)
		_, err := NewRouter(cfg, newManualExecutor(), newMockTransport(selfAddr))
		assert.Error(t, err, name)
	}
}

func TestGUIDPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExplicitGUID = "0x1234"
	cfg.NodeKey = []byte("key")
	r, err := NewRouter(cfg, newManualExecutor(), newMockTransport(selfAddr))
	require.NoError(t, err)
	assert.Equal(t, guid.MustParse("0x1234"), r.ID())

	cfg.ExplicitGUID = ""
	r, err = NewRouter(cfg, newManualExecutor(), newMockTransport(selfAddr))
	require.NoError(t, err)
	assert.Equal(t, guid.FromHash([]byte("key")), r.ID())

	cfg.NodeKey = nil
	r, err = NewRouter(cfg, newManualExecutor(), newMockTransport(selfAddr))
	require.NoError(t, err)
	assert.Equal(t, guid.FromHash([]byte(selfAddr)), r.ID())
}

func TestFirstNodeInitializesAlone(t *testing.T) {
	r, tr, exec := newTestRouter(t, func(cfg *Config) {
		cfg.Gateways = []Addr{selfAddr, selfAddr}
	})
	var changes int
	_, err := r.RegisterApplication(5, Application{
		LeafSetChanged: func(preds, succs []NeighborInfo) {
			assert.Empty(t, preds)
			assert.Empty(t, succs)
			changes++
		},
	})
	require.NoError(t, err)
	assert.Zero(t, changes)

	r.Start()
	exec.drain()
	assert.True(t, r.Initialized())
	assert.NotZero(t, changes)
	assert.Empty(t, tr.sentOf(KindJoinReq, ""))
}

func TestJoinRetriesWithGrowingReverseTTL(t *testing.T) {
	gws := []Addr{"10.0.0.1:7000", "10.0.0.2:7000"}
	r, tr, exec := newTestRouter(t, func(cfg *Config) { cfg.Gateways = gws })
	r.Start()
	exec.drain()

	reqs := tr.sentOf(KindJoinReq, gws[0])
	require.Len(t, reqs, 1)
	req := reqs[0].(*JoinReq)
	assert.Equal(t, selfAddr, req.NodeAddr)
	assert.Equal(t, r.ID(), req.ID)
	assert.Zero(t, req.RevTTL)
	tr.AssertCalled(t, "Send", gws[0], KindJoinReq, time.Duration(0))

	exec.advance(3 * time.Minute)
	assert.False(t, r.Initialized())
	assert.NotEmpty(t, tr.sentOf(KindJoinReq, gws[1]))
	all := tr.sentOf(KindJoinReq, "")
	require.True(t, len(all) >= 4, "%d join requests", len(all))
	assert.Zero(t, all[2].(*JoinReq).RevTTL)
	assert.Equal(t, 1, all[3].(*JoinReq).RevTTL)
}

func TestEventsQueuedUntilJoined(t *testing.T) {
	gw, other := tn(0x80), tn(0x40)
	r, tr, exec := newTestRouter(t, func(cfg *Config) { cfg.Gateways = []Addr{gw.Addr} })
	r.Start()
	exec.drain()

	r.HandleMessage("10.0.0.99:7000", &LeafSetReq{})
	exec.drain()
	assert.Empty(t, tr.sentOf(KindLeafSetChanged, ""))

	r.HandleMessage(gw.Addr, &JoinResp{Path: []NeighborInfo{gw}, LeafSet: []NeighborInfo{other}})
	exec.drain()
	assert.True(t, r.Initialized())
	assert.Len(t, tr.sentOf(KindLeafSetChanged, "10.0.0.99:7000"), 1)

	// One probe each, shared by the leaf set and the routing table.
	assert.Len(t, tr.sentOf(KindPing, gw.Addr), 1)
	assert.Len(t, tr.sentOf(KindPing, other.Addr), 1)
	assert.False(t, r.LeafSet().Contains(gw))

	assert.Equal(t, 2, tr.finish(KindPing, nil))
	exec.drain()
	assert.True(t, r.LeafSet().Contains(gw))
	assert.True(t, r.LeafSet().Contains(other))
	assert.True(t, r.RoutingTable().Contains(gw))

	announces := tr.sentOf(KindRoutingNeighborAnnounce, gw.Addr)
	require.NotEmpty(t, announces)
	assert.True(t, announces[0].(*RoutingNeighborAnnounce).Add)
}

func TestJoinResponseFromWrongRootIgnored(t *testing.T) {
	gw := tn(0x80)
	r, _, exec := newTestRouter(t, func(cfg *Config) { cfg.Gateways = []Addr{gw.Addr} })
	r.Start()
	exec.drain()

	r.HandleMessage("10.0.0.7:7000", &JoinResp{Path: []NeighborInfo{gw}})
	r.HandleMessage(gw.Addr, &JoinResp{})
	exec.drain()
	assert.False(t, r.Initialized())
}

func TestLoneRootAnswersJoin(t *testing.T) {
	r, tr, exec := newTestRouter(t, nil)
	r.Start()
	exec.drain()

	joiner := tn(0x90)
	r.HandleMessage(joiner.Addr, &JoinReq{NodeAddr: joiner.Addr, ID: joiner.ID})
	exec.drain()

	resps := tr.sentOf(KindJoinResp, joiner.Addr)
	require.Len(t, resps, 1)
	resp := resps[0].(*JoinResp)
	assert.Equal(t, []NeighborInfo{r.Self()}, resp.Path)
	assert.Empty(t, resp.LeafSet)
	assert.Len(t, tr.sentOf(KindPing, joiner.Addr), 1)

	// A path through us is a loop.
	r.HandleMessage(joiner.Addr, &JoinReq{NodeAddr: joiner.Addr, ID: joiner.ID, Path: []NeighborInfo{r.Self()}})
	exec.drain()
	assert.Len(t, tr.sentOf(KindJoinResp, ""), 1)
}

func TestJoinForwardedTowardRoot(t *testing.T) {
	r, tr, exec := joinedRouter(t, nil)
	gw := tn(0x80)

	joiner := tn(0x81)
	r.HandleMessage(joiner.Addr, &JoinReq{NodeAddr: joiner.Addr, ID: joiner.ID, RevTTL: 5})
	exec.drain()

	fwds := tr.sentOf(KindJoinReq, gw.Addr)
	require.NotEmpty(t, fwds)
	fwd := fwds[len(fwds)-1].(*JoinReq)
	assert.Equal(t, []NeighborInfo{r.Self()}, fwd.Path)
	assert.Equal(t, joiner.ID, fwd.ID)
	assert.Empty(t, tr.sentOf(KindJoinResp, ""))
}

func TestRegisterApplication(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	info, err := r.RegisterApplication(5, Application{})
	require.NoError(t, err)
	assert.Equal(t, r.ID(), info.ID)
	assert.Equal(t, guid.Bits, info.ModulusBits)
	assert.Equal(t, 40, info.DigitsPerID)
	assert.Equal(t, 16, info.ValuesPerDigit)

	_, err = r.RegisterApplication(5, Application{})
	assert.Equal(t, ErrDuplicateApp, err)
	_, err = r.RegisterApplication(lookupApp, Application{})
	assert.Equal(t, ErrDuplicateApp, err)

	assert.Equal(t, ErrUnknownApp, r.RouteInit(tid(1), 6, false, nil))
	assert.Equal(t, ErrUnknownApp, r.RouteContinue(tid(1), tid(2), selfAddr, 6, false, nil))
}

func TestRouteDeliveredLocallyAfterJoin(t *testing.T) {
	gw := tn(0x80)
	r, _, exec := newTestRouter(t, func(cfg *Config) { cfg.Gateways = []Addr{gw.Addr} })
	var got []RouteEvent
	_, err := r.RegisterApplication(5, Application{Deliver: func(ev RouteEvent) { got = append(got, ev) }})
	require.NoError(t, err)

	r.Start()
	exec.drain()
	require.NoError(t, r.RouteInit(tid(7), 5, false, []byte("hi")))
	exec.drain()
	assert.Empty(t, got)

	// Probes are still out, so the leaf set is empty and we are the root.
	r.HandleMessage(gw.Addr, &JoinResp{Path: []NeighborInfo{gw}})
	exec.drain()
	require.Len(t, got, 1)
	assert.Equal(t, r.ID(), got[0].Src)
	assert.Equal(t, tid(7), got[0].Dest)
	assert.Equal(t, selfAddr, got[0].ImmediateSource)
	assert.Equal(t, []byte("hi"), got[0].Payload)
}

func TestRouteForwardedAndUpcalled(t *testing.T) {
	r, tr, exec := joinedRouter(t, nil)
	gw := tn(0x80)
	var upcalls []RouteEvent
	_, err := r.RegisterApplication(5, Application{Upcall: func(ev RouteEvent) { upcalls = append(upcalls, ev) }})
	require.NoError(t, err)
	exec.drain()

	require.NoError(t, r.RouteInit(gw.ID, 5, true, []byte("x")))
	exec.drain()
	routes := tr.sentOf(KindRoute, gw.Addr)
	require.Len(t, routes, 1)
	m := routes[0].(*RouteMsg)
	assert.Equal(t, r.ID(), m.Src)
	assert.Equal(t, r.ID(), m.PeerID)
	assert.True(t, m.Intermediate)

	// A message passing through is offered to the application first.
	r.HandleMessage("10.0.0.32:7000", &RouteMsg{Src: tid(3), Dest: gw.ID, App: 5, Intermediate: true, PeerID: tn(0x20).ID})
	exec.drain()
	require.Len(t, upcalls, 1)
	assert.Equal(t, Addr("10.0.0.32:7000"), upcalls[0].ImmediateSource)
	assert.Len(t, tr.sentOf(KindRoute, gw.Addr), 1)

	require.NoError(t, r.RouteContinue(upcalls[0].Src, upcalls[0].Dest, upcalls[0].ImmediateSource, 5, true, nil))
	exec.drain()
	assert.Len(t, tr.sentOf(KindRoute, gw.Addr), 2)
}

func TestRouteFailureRetriesAroundSuspect(t *testing.T) {
	for _, norexmit := range []bool{false, true} {
		r, tr, exec := joinedRouter(t, func(cfg *Config) { cfg.NoRexmitRoutes = norexmit })
		gw := tn(0x80)
		delivered := 0
		_, err := r.RegisterApplication(5, Application{Deliver: func(RouteEvent) { delivered++ }})
		require.NoError(t, err)

		require.NoError(t, r.RouteInit(gw.ID, 5, false, nil))
		exec.drain()
		require.Len(t, tr.sentOf(KindRoute, gw.Addr), 1)

		assert.Equal(t, 1, tr.finish(KindRoute, errTimeout))
		exec.drain()
		assert.Contains(t, r.Snapshot().PossiblyDown, gw)
		if norexmit {
			assert.Zero(t, delivered)
		} else {
			assert.Equal(t, 1, delivered)
		}

		// The second chance ping fails too.
		tr.finish(KindPing, errTimeout)
		exec.drain()
		assert.False(t, r.LeafSet().Contains(gw))
		assert.False(t, r.RoutingTable().Contains(gw))
		assert.Empty(t, r.Snapshot().PossiblyDown)
		assert.Contains(t, r.Snapshot().DownNodes, gw.Addr)
	}
}

func TestSecondChanceSuccessClearsSuspicion(t *testing.T) {
	r, tr, exec := joinedRouter(t, nil)
	gw := tn(0x80)

	require.NoError(t, r.RouteInit(gw.ID, lookupApp, false, nil))
	exec.drain()
	tr.finish(KindRoute, errTimeout)
	exec.drain()
	require.Contains(t, r.Snapshot().PossiblyDown, gw)

	tr.finish(KindPing, nil)
	exec.drain()
	assert.Empty(t, r.Snapshot().PossiblyDown)
	assert.True(t, r.LeafSet().Contains(gw))
}

func TestPossiblyDownByAddress(t *testing.T) {
	r, tr, exec := joinedRouter(t, nil)
	gw := tn(0x80)

	assert.False(t, r.MarkPossiblyDown("10.0.0.99:7000"), "not a neighbor")
	assert.False(t, r.IsPossiblyDown(gw.Addr))

	pings := len(tr.sentOf(KindPing, gw.Addr))
	require.True(t, r.MarkPossiblyDown(gw.Addr))
	assert.True(t, r.IsPossiblyDown(gw.Addr))
	assert.Equal(t, []NeighborInfo{gw}, r.Snapshot().PossiblyDown)
	assert.Len(t, tr.sentOf(KindPing, gw.Addr), pings+1)
	assert.True(t, r.MarkPossiblyDown(gw.Addr))
	assert.Len(t, tr.sentOf(KindPing, gw.Addr), pings+1, "one second chance ping at a time")

	r.ClearPossiblyDown(gw.Addr)
	assert.False(t, r.IsPossiblyDown(gw.Addr))
	assert.Empty(t, r.Snapshot().PossiblyDown)

	require.True(t, r.MarkPossiblyDown(gw.Addr))
	tr.finish(KindPing, errTimeout)
	exec.drain()
	assert.False(t, r.IsPossiblyDown(gw.Addr))
	assert.False(t, r.LeafSet().Contains(gw))
	assert.Contains(t, r.Snapshot().DownNodes, gw.Addr)
}

func TestLookupOnLoneNode(t *testing.T) {
	r, _, exec := newTestRouter(t, nil)
	r.Start()
	exec.drain()

	var owners []Addr
	cb := func(id, ownerID guid.ID, owner Addr) {
		assert.Equal(t, tid(9), id)
		assert.Equal(t, r.ID(), ownerID)
		owners = append(owners, owner)
	}
	r.Lookup(tid(9), cb)
	r.Lookup(tid(9), cb)
	exec.drain()
	assert.Equal(t, []Addr{selfAddr, selfAddr}, owners)
}

func TestLookupRetriedUntilAnswered(t *testing.T) {
	r, tr, exec := joinedRouter(t, nil)
	gw := tn(0x80)

	var owners []guid.ID
	r.Lookup(gw.ID, func(_, ownerID guid.ID, _ Addr) { owners = append(owners, ownerID) })
	exec.drain()
	require.Len(t, tr.sentOf(KindRoute, gw.Addr), 1)

	exec.advance(lookupRetryPeriod)
	assert.Len(t, tr.sentOf(KindRoute, gw.Addr), 2)
	assert.Empty(t, owners)

	r.HandleMessage(gw.Addr, &LookupResp{LookupID: gw.ID, OwnerID: gw.ID})
	exec.drain()
	assert.Equal(t, []guid.ID{gw.ID}, owners)

	exec.advance(2 * lookupRetryPeriod)
	assert.Len(t, tr.sentOf(KindRoute, gw.Addr), 2)
}

func TestLookupAnsweredForRemoteRequester(t *testing.T) {
	r, tr, exec := newTestRouter(t, nil)
	r.Start()
	exec.drain()

	asker := tn(0x70)
	payload := encodeLookupReq(lookupReq{ReturnAddr: asker.Addr})
	r.HandleMessage(asker.Addr, &RouteMsg{Src: asker.ID, Dest: tid(5), App: lookupApp, PeerID: asker.ID, Payload: payload})
	exec.drain()

	resps := tr.sentOf(KindLookupResp, asker.Addr)
	require.Len(t, resps, 1)
	assert.Equal(t, &LookupResp{LookupID: tid(5), OwnerID: r.ID()}, resps[0])
}

func TestLeafSetGossipAddsPromisingNodes(t *testing.T) {
	r, tr, exec := joinedRouter(t, nil)
	gw, news := tn(0x80), tn(0x18)

	r.HandleMessage(gw.Addr, &LeafSetChanged{ID: gw.ID, LeafSet: []NeighborInfo{news, r.Self()}, WantReply: true})
	exec.drain()
	assert.Len(t, tr.sentOf(KindPing, news.Addr), 1)
	replies := tr.sentOf(KindLeafSetChanged, gw.Addr)
	require.NotEmpty(t, replies)
	assert.False(t, replies[len(replies)-1].(*LeafSetChanged).WantReply)

	tr.finish(KindPing, nil)
	exec.drain()
	assert.True(t, r.LeafSet().Contains(news))
}

func TestRoutingTableRespFillsHolesAndSaysHello(t *testing.T) {
	for _, pastryMode := range []bool{false, true} {
		r, tr, exec := joinedRouter(t, func(cfg *Config) { cfg.PastryMode = pastryMode })
		gw, hole, rival := tn(0x80), tn(0x20), tn(0x85)
		require.True(t, r.RoutingTable().Contains(gw))
		require.True(t, r.RoutingTable().FillsHole(hole))
		require.False(t, r.RoutingTable().FillsHole(rival))

		r.HandleMessage(gw.Addr, &RoutingTableResp{PeerID: gw.ID, Neighbors: []NeighborInfo{hole, rival, r.Self()}})
		exec.drain()
		assert.Len(t, tr.sentOf(KindPing, hole.Addr), 1)
		assert.Len(t, tr.sentOf(KindPing, rival.Addr), 1)

		hellos := tr.sentOf(KindRoutingTableResp, rival.Addr)
		if pastryMode {
			assert.Empty(t, hellos)
			continue
		}
		require.Len(t, hellos, 1)
		assert.Equal(t, []NeighborInfo{r.Self()}, hellos[0].(*RoutingTableResp).Neighbors)

		tr.finish(KindPing, nil)
		exec.drain()
		assert.True(t, r.RoutingTable().Contains(hole))
	}
}

func TestAnnounceMaintainsReverseTable(t *testing.T) {
	r, _, exec := newTestRouter(t, nil)
	r.Start()
	exec.drain()

	var added, removed []NeighborInfo
	_, err := r.RegisterApplication(5, Application{
		ReverseRoutingTableChanged: func(a, d []NeighborInfo) {
			added = append(added, a...)
			removed = append(removed, d...)
		},
	})
	require.NoError(t, err)
	exec.drain()

	n := tn(0x44)
	r.HandleMessage(n.Addr, &RoutingNeighborAnnounce{ID: n.ID, Add: true})
	r.HandleMessage(n.Addr, &RoutingNeighborAnnounce{ID: n.ID, Add: true})
	exec.drain()
	assert.Equal(t, []NeighborInfo{n}, r.ReverseRoutingTable())
	assert.Equal(t, []NeighborInfo{n}, added)

	r.HandleMessage(n.Addr, &RoutingNeighborAnnounce{ID: n.ID, Add: false})
	exec.drain()
	assert.Empty(t, r.ReverseRoutingTable())
	assert.Equal(t, []NeighborInfo{n}, removed)
}

func TestImmediateJoinSeedsDownNodes(t *testing.T) {
	gws := []Addr{"10.0.0.1:7000", "10.0.0.2:7000", selfAddr}
	r, tr, exec := newTestRouter(t, func(cfg *Config) {
		cfg.Gateways = gws
		cfg.ImmediateJoin = true
	})
	assert.ElementsMatch(t, gws[:2], r.Snapshot().DownNodes)

	r.Start()
	exec.drain()
	assert.True(t, r.Initialized())
	// The partition check fires at once and probes one of the gateways.
	partition := tr.sentOf(KindJoinReq, "")
	require.Len(t, partition, 1)
	tr.finish(KindJoinReq, nil)
	exec.drain()
	assert.Len(t, r.Snapshot().DownNodes, 1)
}

func TestStopSilencesRouter(t *testing.T) {
	r, tr, exec := newTestRouter(t, nil)
	r.Start()
	exec.drain()
	r.Stop()
	exec.drain()

	r.HandleMessage("10.0.0.9:7000", &LeafSetReq{})
	exec.advance(10 * time.Minute)
	assert.Empty(t, tr.sentOf(KindLeafSetChanged, ""))
}
