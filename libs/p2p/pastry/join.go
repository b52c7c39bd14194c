package pastry

import (
	"time"
)

// ready runs once the router is started. Without gateways the node forms
// a ring of its own.
func (r *Router) ready() {
	r.startTime = r.exec.Now()
	if len(r.gateways) == 0 {
		r.logger.Info("Joined through gateway", "gateway", r.self.Addr)
		r.setInitialized()
		r.notifyLeafSetChanged()
	} else {
		gw := r.nextGateway()
		r.logger.Info("Trying to join through gateway", "gateway", gw)
		r.sendJoinReq(gw, 0)
		r.schedule(r.randomPeriod(initialJoinPeriod), func() {
			r.joinAlarm(0, initialJoinPeriod, 0)
		})
	}
	r.schedule(r.randomPeriod(r.cfg.PeriodicPingPeriod), r.pingAlarm)
}

// nextGateway rotates the gateway list and returns its former head.
func (r *Router) nextGateway() Addr {
	gw := r.gateways[0]
	r.gateways = append(r.gateways[1:], gw)
	return gw
}

func (r *Router) sendJoinReq(to Addr, revTTL int) {
	r.metrics.JoinAttempts.Add(1)
	r.send(to, &JoinReq{NodeAddr: r.self.Addr, ID: r.self.ID, RevTTL: revTTL}, 0, nil)
}

// joinAlarm retries the join with a growing period and reverse TTL until a
// JoinResp arrives.
func (r *Router) joinAlarm(tries int, period time.Duration, revTTL int) {
	if r.initialized {
		return
	}
	tries++
	revTTL++
	if period >= maxJoinPeriod/2 {
		period = maxJoinPeriod
	} else {
		period *= 2
	}
	divisor := len(r.gateways)
	if divisor < 3 {
		divisor = 3
	}
	gw := r.nextGateway()
	r.logger.Info("Join timed out, trying again", "try", tries, "gateway", gw, "revTTL", revTTL/divisor)
	r.sendJoinReq(gw, revTTL/divisor)
	r.schedule(r.randomPeriod(period), func() { r.joinAlarm(tries, period, revTTL) })
}

func (r *Router) handleJoinReq(from Addr, req *JoinReq) {
	for _, ni := range req.Path {
		if ni == r.self {
			r.logger.Warn("Loop in join path", "joiner", req.NodeAddr, "path", neighborsString(req.Path))
			return
		}
	}

	joiner := NeighborInfo{Addr: req.NodeAddr, ID: req.ID}
	// Joins never trust the location cache.
	next := r.calcNextHop(req.ID, false)
	hops := r.estHopsToGo(req.ID)

	if hops == req.RevTTL || next == r.self || next.Addr == req.NodeAddr {
		resp := &JoinResp{
			Path:    append(append([]NeighborInfo(nil), req.Path...), r.self),
			LeafSet: r.ls.Set(),
		}
		r.logger.Debug("Answering join", "joiner", joiner, "hops", len(resp.Path))
		r.send(joiner.Addr, resp, 0, nil)
		r.addToRT(joiner)
		r.addToLS(joiner)
		return
	}

	fwd := req.clone()
	fwd.Path = append(fwd.Path, r.self)
	r.send(next.Addr, fwd, routeTimeout, r.recursiveRouteDone(next, func() {
		r.handleJoinReq(from, req)
	}))
}

func (r *Router) handleJoinResp(from Addr, resp *JoinResp) {
	if len(resp.Path) == 0 {
		r.logger.Debug("Empty join response", "from", from)
		return
	}
	root := resp.Path[len(resp.Path)-1]
	if root.Addr != from {
		r.logger.Warn("Join response root is not its sender", "root", root, "from", from)
		return
	}

	r.addToRT(root)
	r.addToLS(root)
	r.lc.Add(root)

	for _, ni := range resp.LeafSet {
		if ni.Addr == r.self.Addr {
			continue
		}
		r.addToLS(ni)
		if !r.initialized {
			r.addToRT(ni)
		}
	}

	if !r.initialized {
		r.logger.Info("Joined through gateway", "gateway", resp.Path[0].Addr, "root", root)
		r.setInitialized()
		for _, ni := range resp.Path {
			r.addToRT(ni)
		}
	}
}

// partitionCheckAlarm tries to join through a node we lost contact with.
// If it answers, the two sides of a partition learn about each other
// through the usual join response.
func (r *Router) partitionCheckAlarm() {
	if r.downNodes != nil && r.downNodes.Len() > 0 {
		keys := r.downNodes.Keys()
		addr := keys[r.rand.Intn(len(keys))].(Addr)
		r.logger.Debug("Checking for partition", "through", addr)
		r.metrics.JoinAttempts.Add(1)
		req := &JoinReq{NodeAddr: r.self.Addr, ID: r.self.ID}
		r.send(addr, req, partitionJoinTimeout, func(_ time.Duration, err error) {
			if err == nil {
				r.logger.Debug("Down node is up", "node", addr)
				r.removeFromDownNodes(addr)
			}
		})
	}
	if p := r.cfg.PartitionCheckAlarmPeriod; p != 0 {
		r.schedule(r.randomPeriod(p), r.partitionCheckAlarm)
	}
}
