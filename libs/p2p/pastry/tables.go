package pastry

import (
	"time"
)

// addToLS offers ni to the leaf set, probing it first unless its latency
// is already known.
func (r *Router) addToLS(ni NeighborInfo) {
	if ni.ID == r.self.ID || r.ls.Contains(ni) {
		return
	}
	if _, ok := r.latency[ni]; ok {
		r.addToLSPingTime(ni)
	} else {
		r.sendProbePing(ni)
	}
}

// addToLSPingTime adds a node known to be up.
func (r *Router) addToLSPingTime(ni NeighborInfo) bool {
	evicted, ok := r.ls.Add(ni)
	if !ok {
		return false
	}
	if evicted == r.self {
		r.logger.Info("Added to leaf set", "node", ni)
	} else {
		r.logger.Info("Replaced in leaf set", "old", evicted, "new", ni)
	}
	r.notifyLeafSetChanged()
	return true
}

// removeFromLS drops ni from the leaf set. An emptied leaf set is refilled
// from the routing table.
func (r *Router) removeFromLS(ni NeighborInfo) bool {
	if r.ls.Remove(ni) == RemovedNone {
		return false
	}
	r.logger.Info("Removed from leaf set", "node", ni)

	moreAdded := false
	if r.ls.Len() == 0 {
		for level := 0; level <= r.rt.Highest(); level++ {
			for _, e := range r.rt.Level(level) {
				if e.Node != ni && r.addToLSPingTime(e.Node) {
					moreAdded = true
				}
			}
		}
	}
	// Additions above have notified the applications already.
	if !moreAdded {
		r.notifyLeafSetChanged()
	}
	return true
}

// addToRT offers ni to the routing table, probing it first unless its
// latency is already known.
func (r *Router) addToRT(ni NeighborInfo) {
	if ni.ID == r.self.ID || r.rt.Contains(ni) {
		return
	}
	if rtt, ok := r.latency[ni]; ok {
		r.addToRTPingTime(ni, rtt)
	} else {
		r.sendProbePing(ni)
	}
}

// addToRTPingTime adds a node with a measured rtt and tells it, and the
// node it displaced, about the change.
func (r *Router) addToRTPingTime(ni NeighborInfo, rtt time.Duration) bool {
	evicted, ok := r.rt.Add(ni, rtt, !r.cfg.IgnoreProximity)
	if !ok {
		return false
	}
	var removed []NeighborInfo
	if evicted != r.self {
		removed = []NeighborInfo{evicted}
		r.send(evicted.Addr, &RoutingNeighborAnnounce{ID: r.self.ID, Add: false}, 0, nil)
	}
	r.send(ni.Addr, &RoutingNeighborAnnounce{ID: r.self.ID, Add: true}, 0, nil)
	r.notifyRoutingTableChanged([]NeighborInfo{ni}, removed)

	if evicted == r.self {
		r.logger.Info("Added to routing table", "node", ni, "rtt", rtt)
	} else {
		r.logger.Info("Replaced in routing table", "old", evicted, "new", ni, "rtt", rtt)
	}
	return true
}

func (r *Router) removeFromRT(ni NeighborInfo) bool {
	if r.rt.Remove(ni) < 0 {
		return false
	}
	r.logger.Info("Removed from routing table", "node", ni)
	r.notifyRoutingTableChanged(nil, []NeighborInfo{ni})
	return true
}

func (r *Router) handleAnnounce(from Addr, m *RoutingNeighborAnnounce) {
	ni := NeighborInfo{Addr: from, ID: m.ID}
	if m.Add {
		r.addToRRT(ni)
	} else {
		r.removeFromRRT(ni)
	}
}

func (r *Router) addToRRT(ni NeighborInfo) {
	if r.rrt.add(ni) {
		r.notifyReverseRoutingTableChanged([]NeighborInfo{ni}, nil)
	}
}

func (r *Router) removeFromRRT(ni NeighborInfo) bool {
	if !r.rrt.remove(ni) {
		return false
	}
	r.notifyReverseRoutingTableChanged(nil, []NeighborInfo{ni})
	return true
}
