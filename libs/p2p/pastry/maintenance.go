package pastry

import (
	"fmt"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// leafSetAlarm gossips the leaf set to a random member, which answers with
// its own.
func (r *Router) leafSetAlarm() {
	if ni, ok := r.ls.RandomMember(r.rand); ok && !r.isPossiblyDown(ni) {
		r.sendAsPeriodicPing(ni, &LeafSetChanged{ID: r.self.ID, LeafSet: r.ls.List(), WantReply: true})
	}
	r.schedule(r.randomPeriod(r.cfg.LeafSetAlarmPeriod), r.leafSetAlarm)
}

func (r *Router) handleLeafSetReq(from Addr) {
	r.send(from, &LeafSetChanged{ID: r.self.ID, LeafSet: r.ls.List()}, 0, nil)
}

func (r *Router) handleLeafSetChanged(from Addr, m *LeafSetChanged) {
	sender := NeighborInfo{Addr: from, ID: m.ID}
	r.lc.Add(sender)

	for _, ni := range m.LeafSet {
		if r.ls.Promising(ni) {
			r.addToLS(ni)
		}
	}
	if r.ls.Promising(sender) {
		r.addToLS(sender)
	}
	if m.WantReply {
		r.sendAsPeriodicPing(sender, &LeafSetChanged{ID: r.self.ID, LeafSet: r.ls.List()})
	}
}

// weightedRandomRTLevel picks a routing table level, preferring shallow
// ones: with entries up to level h, level i is chosen with weight h-i+1.
func (r *Router) weightedRandomRTLevel() int {
	if r.rt.Size() == 0 {
		return 0
	}
	n := r.rt.Highest() + 1
	sum := n * (n + 1) / 2
	rval := r.rand.Intn(sum) + 1
	which := 0
	for {
		rval -= n - which
		if rval <= 0 {
			return which
		}
		which++
	}
}

// nearRoutingTableAlarm asks a neighbor on a random level for its entries
// on the same level.
func (r *Router) nearRoutingTableAlarm() {
	if r.rt.Size() > 0 {
		which := r.weightedRandomRTLevel()
		orig := which
		ni, ok := r.rt.RandomNeighbor(which, r.rand)
		// Lower levels may be empty while higher ones are not.
		for !ok && which < r.rt.Highest() {
			which++
			ni, ok = r.rt.RandomNeighbor(which, r.rand)
		}
		if !ok {
			panic(fmt.Sprintf("pastry: no neighbor at level %d (from %d, highest %d)\n%v",
				which, orig, r.rt.Highest(), r.rt))
		}
		if !r.isPossiblyDown(ni) {
			r.sendAsPeriodicPing(ni, &RoutingTableReq{ID: r.self.ID, Level: which})
		}
	}
	r.schedule(r.randomPeriod(r.cfg.NearRTAlarmPeriod), r.nearRoutingTableAlarm)
}

// farRoutingTableAlarm looks up a random id that shares a random number of
// leading digits with us. The owner is offered to the routing table.
func (r *Router) farRoutingTableAlarm() {
	level := r.weightedRandomRTLevel()
	value := r.rand.Intn(r.digits.Values())
	target := r.idAtCell(level, value)
	r.logger.Debug("Looking for a closer neighbor", "level", level, "value", value, "target", target)
	r.routeLookup(target)
	r.schedule(r.randomPeriod(r.cfg.FarRTAlarmPeriod), r.farRoutingTableAlarm)
}

// lookupRoutingTableAlarm looks up an id that would fill a random hole in
// the routing table.
func (r *Router) lookupRoutingTableAlarm() {
	if holes := r.rt.Holes(); len(holes) > 0 {
		hole := holes[r.rand.Intn(len(holes))]
		target := r.idAtCell(hole[0], hole[1])
		r.logger.Debug("Trying to fill routing table hole", "level", hole[0], "value", hole[1], "target", target)
		r.routeLookup(target)
	}
	r.schedule(r.randomPeriod(r.cfg.LookupRTAlarmPeriod), r.lookupRoutingTableAlarm)
}

// idAtCell returns an id sharing level digits with us, with value as the
// next digit and random digits after it.
func (r *Router) idAtCell(level, value int) guid.ID {
	digits := make([]int, r.digits.Count())
	for i := range digits {
		switch {
		case i < level:
			digits[i] = r.mine[i]
		case i == level:
			digits[i] = value
		default:
			digits[i] = r.rand.Intn(r.digits.Values())
		}
	}
	return r.digits.Join(digits)
}

func (r *Router) handleRoutingTableReq(from Addr, m *RoutingTableReq) {
	if m.Level < 0 || m.Level >= r.digits.Count() {
		r.logger.Debug("Routing table request level too high", "from", from, "level", m.Level)
		return
	}
	ni := NeighborInfo{Addr: from, ID: m.ID}
	r.lc.Add(ni)

	var neighbors []NeighborInfo
	for _, e := range r.rt.Level(m.Level) {
		neighbors = append(neighbors, e.Node)
	}
	resp := &RoutingTableResp{PeerID: r.self.ID, Neighbors: neighbors}
	if r.monitored(ni) {
		r.sendAsPeriodicPing(ni, resp)
	} else {
		r.send(from, resp, 0, nil)
	}
}

func (r *Router) handleRoutingTableResp(from Addr, m *RoutingTableResp) {
	r.lc.Add(NeighborInfo{Addr: from, ID: m.PeerID})

	var candidates []NeighborInfo
	for _, ni := range m.Neighbors {
		if ni.Addr == r.self.Addr || r.ls.Contains(ni) || r.rt.Contains(ni) {
			continue
		}
		candidates = append(candidates, ni)
	}

	// Anything that fills a hole goes in.
	redundant := candidates[:0]
	for _, ni := range candidates {
		if r.rt.FillsHole(ni) {
			r.addToRT(ni)
		} else {
			redundant = append(redundant, ni)
		}
	}
	if len(redundant) == 0 {
		return
	}

	// One of the rest may beat the current occupant of its cell.
	ni := redundant[r.rand.Intn(len(redundant))]
	r.addToRT(ni)
	// It might lack us in its own table; say hello the same way.
	if !r.cfg.PastryMode && ni.Addr != from {
		r.sendAsPeriodicPing(ni, &RoutingTableResp{PeerID: r.self.ID, Neighbors: []NeighborInfo{r.self}})
	}
}
