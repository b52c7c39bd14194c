package simnet

import (
	"sort"

	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

// NewRouter attaches addr to the network and builds a router on it.
func (n *Network) NewRouter(addr pastry.Addr, cfg pastry.Config, opts ...pastry.Option) (*pastry.Router, error) {
	tr := n.Attach(addr)
	opts = append([]pastry.Option{pastry.WithLogger(n.logger.With("node", addr))}, opts...)
	return pastry.NewRouter(cfg, n.Executor(), tr, opts...)
}

// Ring returns the nodes of routers in ring order.
func Ring(routers []*pastry.Router) []pastry.NeighborInfo {
	ring := make([]pastry.NeighborInfo, len(routers))
	for i, r := range routers {
		ring[i] = r.Self()
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].ID.Cmp(ring[j].ID) < 0 })
	return ring
}

// Misplaced returns the routers whose nearest predecessor or successor is
// not their true ring neighbor. Only call it between runs of the network.
func Misplaced(routers []*pastry.Router) []pastry.NeighborInfo {
	ring := Ring(routers)
	if len(ring) < 2 {
		return nil
	}
	index := make(map[pastry.NeighborInfo]int, len(ring))
	for i, ni := range ring {
		index[ni] = i
	}
	var bad []pastry.NeighborInfo
	for _, r := range routers {
		i := index[r.Self()]
		pred := ring[(i+len(ring)-1)%len(ring)]
		succ := ring[(i+1)%len(ring)]
		preds, succs := r.LeafSet().Preds(), r.LeafSet().Succs()
		if len(preds) == 0 || len(succs) == 0 || preds[0] != pred || succs[0] != succ {
			bad = append(bad, r.Self())
		}
	}
	return bad
}
