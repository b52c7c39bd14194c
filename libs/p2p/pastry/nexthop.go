package pastry

import (
	"math"
	"math/big"
	"time"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// NeighborLatency is a neighbor with its estimated round trip time, or
// math.MaxInt64 when none is known.
type NeighborLatency struct {
	NeighborInfo
	Latency time.Duration
}

// ScalingFunc scores a candidate hop from the ring distance it saves and
// its latency. Higher scores win.
type ScalingFunc func(progress *big.Int, latency time.Duration) *big.Int

var (
	// GreedyScaling ignores latency.
	GreedyScaling ScalingFunc = func(progress *big.Int, _ time.Duration) *big.Int {
		return progress
	}
	// PRSScaling divides the progress by the latency in milliseconds.
	PRSScaling ScalingFunc = func(progress *big.Int, latency time.Duration) *big.Int {
		ms := int64(latency / time.Millisecond)
		if ms < 1 {
			ms = 1
		}
		return new(big.Int).Quo(progress, big.NewInt(ms))
	}
)

// CalcNextHop returns the neighbor to forward a message for key to using
// the standard prefix algorithm, or Self() when the local node is the root.
// It leaves the location cache out so that the answer depends only on the
// leaf set and routing table, like the PRS variants. Routed messages still
// take closer cached nodes.
func (r *Router) CalcNextHop(key guid.ID) NeighborInfo {
	return r.calcNextHop(key, false)
}

func (r *Router) calcNextHop(key guid.ID, useLC bool) NeighborInfo {
	var ignore func(NeighborInfo) bool
	if !r.cfg.IgnorePossiblyDown {
		ignore = r.isPossiblyDown
	}

	// The leaf set goes first: a node with a longer common prefix can still
	// be numerically farther from key than we are.
	if r.ls.Within(key) {
		return r.ls.ClosestLeaf(key, ignore)
	}

	next, ok := r.rt.NextHop(key, ignore)
	if !ok {
		next = r.ls.ClosestLeaf(key, ignore)
	}
	if useLC {
		if cached, ok := r.lc.ClosestNode(key); ok &&
			guid.Dist(cached.ID, key).Cmp(guid.Dist(next.ID, key)) < 0 {
			return cached
		}
	}
	return next
}

// estHopsToGo guesses how many more hops a message for key needs.
func (r *Router) estHopsToGo(key guid.ID) int {
	if r.ls.Within(key) {
		if r.ls.ClosestLeaf(key, r.isPossiblyDown) == r.self {
			return 0
		}
		return 1
	}
	return r.rt.Highest() - r.rt.MatchingDigits(key)
}

// AllNeighbors lists the distinct members of the leaf set and routing
// table with their latencies.
func (r *Router) AllNeighbors() []NeighborLatency {
	set := newNeighborSet()
	for _, ni := range r.ls.Set() {
		set.add(ni)
	}
	for _, ni := range r.rt.List() {
		set.add(ni)
	}
	out := make([]NeighborLatency, 0, set.len())
	for _, ni := range set.order {
		lat, ok := r.estimatedRTT(ni.Addr)
		if !ok {
			lat = math.MaxInt64
		}
		out = append(out, NeighborLatency{NeighborInfo: ni, Latency: lat})
	}
	return out
}

// progresses reports whether ni, at distance dist from key, is a valid
// next hop for a node at distance cur. Equal distances count only when ni
// lies on the far side of key.
func (r *Router) progresses(ni NeighborInfo, key guid.ID, dist, cur guid.ID) bool {
	switch dist.Cmp(cur) {
	case -1:
		return true
	case 0:
		return guid.InRange(r.self.ID, ni.ID, key) && !guid.InRange(ni.ID, r.self.ID, key)
	}
	return false
}

// CalcNextHopPRS uses proximity route selection: of the neighbors that
// make progress toward key, the one with the lowest latency wins. A nil
// neighbors list means AllNeighbors().
func (r *Router) CalcNextHopPRS(key guid.ID, neighbors []NeighborLatency) NeighborInfo {
	if neighbors == nil {
		neighbors = r.AllNeighbors()
	}
	cur := guid.Dist(r.self.ID, key)
	result, found := r.self, false
	var min time.Duration
	for _, n := range neighbors {
		if r.isPossiblyDown(n.NeighborInfo) {
			continue
		}
		if !r.progresses(n.NeighborInfo, key, guid.Dist(n.ID, key), cur) {
			continue
		}
		if !found || n.Latency < min {
			result, min, found = n.NeighborInfo, n.Latency, true
		}
	}
	return result
}

// CalcNextHopScaledPRS picks the progressing neighbor with the highest
// score under scale. A nil scale means PRSScaling and a nil neighbors list
// means AllNeighbors().
func (r *Router) CalcNextHopScaledPRS(key guid.ID, scale ScalingFunc, neighbors []NeighborLatency) NeighborInfo {
	if scale == nil {
		scale = PRSScaling
	}
	if neighbors == nil {
		neighbors = r.AllNeighbors()
	}
	cur := guid.Dist(r.self.ID, key)
	result, found := r.self, false
	max := new(big.Int)
	for _, n := range neighbors {
		if r.isPossiblyDown(n.NeighborInfo) {
			continue
		}
		dist := guid.Dist(n.ID, key)
		if !r.progresses(n.NeighborInfo, key, dist, cur) {
			continue
		}
		progress := new(big.Int).Sub(cur.Big(), dist.Big())
		score := scale(progress, n.Latency)
		if !found || score.Cmp(max) > 0 {
			result, max, found = n.NeighborInfo, score, true
		}
	}
	return result
}

// CalcNextHopGreedy picks the progressing neighbor closest to key,
// ignoring latency.
func (r *Router) CalcNextHopGreedy(key guid.ID, neighbors []NeighborLatency) NeighborInfo {
	return r.CalcNextHopScaledPRS(key, GreedyScaling, neighbors)
}
