package pastry

import (
	"time"
)

// isPossiblyDown is the ignore predicate used when picking next hops.
func (r *Router) isPossiblyDown(ni NeighborInfo) bool {
	_, ok := r.possiblyDown[ni]
	return ok
}

// addToPossiblyDown suspects a monitored neighbor and gives it a second
// chance ping. Unmonitored nodes are ignored.
func (r *Router) addToPossiblyDown(ni NeighborInfo) {
	if !r.ls.Contains(ni) && !r.rt.Contains(ni) && !r.rrt.contains(ni) {
		return
	}
	if r.isPossiblyDown(ni) {
		return
	}
	r.possiblyDown[ni] = r.exec.Now()
	r.suspectAddrs[ni.Addr] = ni
	r.logger.Debug("Added to possibly down", "node", ni)
	r.updateGauges()
	r.send(ni.Addr, &Ping{}, secondChanceTimeout, func(_ time.Duration, err error) {
		if err == nil {
			r.genericSuccess(ni)
		} else {
			r.handleNodeDown(ni)
		}
	})
}

func (r *Router) removeFromPossiblyDown(ni NeighborInfo) {
	if _, ok := r.possiblyDown[ni]; ok {
		delete(r.possiblyDown, ni)
		if r.suspectAddrs[ni.Addr] == ni {
			delete(r.suspectAddrs, ni.Addr)
		}
		r.logger.Debug("Removed from possibly down", "node", ni)
		r.updateGauges()
	}
}

// MarkPossiblyDown lets a collaborator that saw addr fail report it. The
// neighbor at addr is suspected and given a second chance ping, exactly as
// if one of the router's own sends had failed. It reports false when no
// monitored neighbor has that address. Like the other methods it must run
// on the router's executor.
func (r *Router) MarkPossiblyDown(addr Addr) bool {
	if _, ok := r.suspectAddrs[addr]; ok {
		return true
	}
	for _, group := range [][]NeighborInfo{r.ls.List(), r.rt.List(), r.rrt.list()} {
		for _, ni := range group {
			if ni.Addr == addr {
				r.lc.Remove(ni)
				r.addToPossiblyDown(ni)
				return true
			}
		}
	}
	return false
}

// ClearPossiblyDown drops the suspicion on addr after a collaborator heard
// from it.
func (r *Router) ClearPossiblyDown(addr Addr) {
	if ni, ok := r.suspectAddrs[addr]; ok {
		r.removeFromPossiblyDown(ni)
	}
}

// IsPossiblyDown reports whether the neighbor at addr is suspected.
func (r *Router) IsPossiblyDown(addr Addr) bool {
	_, ok := r.suspectAddrs[addr]
	return ok
}

// genericSuccess clears every suspicion about ni after it acknowledged a
// message.
func (r *Router) genericSuccess(ni NeighborInfo) {
	r.removeFromPossiblyDown(ni)
	r.removeFromDownNodes(ni.Addr)
}

// genericFailure records a send to ni that went unacknowledged and runs
// retry, if any.
func (r *Router) genericFailure(ni NeighborInfo, retry func()) {
	r.logger.Debug("Send failed", "to", ni)
	r.lc.Remove(ni)
	r.addToPossiblyDown(ni)
	if retry != nil {
		retry()
	}
}

// recursiveRouteDone completes a message forwarded to next on behalf of
// someone else. retry runs after a failure so the next hop can be chosen
// again.
func (r *Router) recursiveRouteDone(next NeighborInfo, retry func()) DoneFunc {
	return func(_ time.Duration, err error) {
		if err == nil {
			r.genericSuccess(next)
		} else {
			r.genericFailure(next, retry)
		}
	}
}

// sendAsPeriodicPing sends msg to ni and lets it stand in for the next
// liveness ping, unless one is already outstanding.
func (r *Router) sendAsPeriodicPing(ni NeighborInfo, msg Message) {
	if !r.periodicPings.add(ni) {
		r.send(ni.Addr, msg, 0, nil)
		return
	}
	r.send(ni.Addr, msg, periodicPingTimeout, func(_ time.Duration, err error) {
		r.periodicPings.remove(ni)
		if err == nil {
			r.genericSuccess(ni)
			r.updateLatency(ni)
		} else {
			r.genericFailure(ni, nil)
		}
	})
}

// pingAlarm pings every monitored neighbor that has no ping outstanding
// and is not already suspected.
func (r *Router) pingAlarm() {
	for _, group := range [][]NeighborInfo{r.ls.List(), r.rt.List(), r.rrt.list()} {
		for _, ni := range group {
			if r.periodicPings.contains(ni) || r.isPossiblyDown(ni) {
				continue
			}
			r.sendAsPeriodicPing(ni, &Ping{})
		}
	}
	r.schedule(r.randomPeriod(r.cfg.PeriodicPingPeriod), r.pingAlarm)
}

// sendProbePing measures the latency to a candidate neighbor before it is
// added to the leaf set or routing table.
func (r *Router) sendProbePing(ni NeighborInfo) {
	if !r.pingsInFlight.add(ni) {
		return
	}
	r.send(ni.Addr, &Ping{}, probeTimeout, func(_ time.Duration, err error) {
		r.pingsInFlight.remove(ni)
		if err == nil {
			r.genericSuccess(ni)
			r.updateLatency(ni)
		}
	})
}

// updateLatency refreshes ni's latency from the transport estimate and
// offers it to the leaf set and routing table.
func (r *Router) updateLatency(ni NeighborInfo) {
	rtt, ok := r.estimatedRTT(ni.Addr)
	if !ok {
		return
	}
	// It answered, so it is up even if a second chance ping is pending.
	r.genericSuccess(ni)
	r.latency[ni] = rtt
	r.addToLSPingTime(ni)
	r.addToRTPingTime(ni, rtt)
	r.lc.Add(ni)

	if !r.monitored(ni) {
		delete(r.latency, ni)
		return
	}
	if r.nodeDB != nil {
		r.nodeDB.UpdateNode(ni, r.exec.Now())
	}
}

func (r *Router) monitored(ni NeighborInfo) bool {
	return r.ls.Contains(ni) || r.rt.Contains(ni) || r.rrt.contains(ni)
}

// handleNodeDown purges a neighbor that failed its second chance ping.
func (r *Router) handleNodeDown(ni NeighborInfo) {
	r.logger.Debug("Node is down", "node", ni)
	r.addToDownNodes(ni.Addr)
	delete(r.latency, ni)

	removedLS := r.removeFromLS(ni)
	removedRT := r.removeFromRT(ni)
	switch {
	case removedLS && removedRT:
		r.logger.Info("Neighbor unreachable; removed it from leaf set and routing table", "node", ni.Addr)
	case removedLS:
		r.logger.Info("Neighbor unreachable; removed it from leaf set", "node", ni.Addr)
	case removedRT:
		r.logger.Info("Neighbor unreachable; removed it from routing table", "node", ni.Addr)
	}
	removedRRT := r.removeFromRRT(ni)
	if removedLS || removedRT || removedRRT {
		r.metrics.NeighborsLost.Add(1)
	} else {
		r.logger.Debug("Down node no longer monitored", "node", ni)
	}
	r.removeFromPossiblyDown(ni)
}

// addToDownNodes remembers addr for partition checks, dropping the oldest
// entry when the set is full.
func (r *Router) addToDownNodes(addr Addr) {
	if r.downNodes == nil {
		return
	}
	r.downNodes.Remove(addr)
	r.downNodes.Add(addr, struct{}{})
	r.updateGauges()
}

func (r *Router) removeFromDownNodes(addr Addr) {
	if r.downNodes == nil || !r.downNodes.Contains(addr) {
		return
	}
	r.downNodes.Remove(addr)
	r.logger.Debug("Removed from down nodes", "node", addr)
	r.updateGauges()
}

func (r *Router) downNodeList() []Addr {
	if r.downNodes == nil {
		return nil
	}
	keys := r.downNodes.Keys()
	out := make([]Addr, len(keys))
	for i, k := range keys {
		out[i] = k.(Addr)
	}
	return out
}
