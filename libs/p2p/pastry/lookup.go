package pastry

import (
	"time"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// LookupFunc receives the owner of a looked up id.
type LookupFunc func(id, ownerID guid.ID, owner Addr)

type pendingLookup struct {
	cbs       []LookupFunc
	lastStart time.Time
}

// Lookup finds the node that owns id and passes it to cb. Concurrent
// lookups of the same id share one routed request, which is repeated every
// minute until answered.
func (r *Router) Lookup(id guid.ID, cb LookupFunc) {
	pl, ok := r.pendingLookups[id]
	if !ok {
		pl = &pendingLookup{lastStart: r.exec.Now()}
		r.pendingLookups[id] = pl
		r.exec.Post(func() { r.whenInitialized(func() { r.routeLookup(id) }) })
		r.schedule(lookupRetryPeriod, func() { r.lookupTimeout(id) })
	}
	pl.cbs = append(pl.cbs, cb)
}

func (r *Router) lookupTimeout(id guid.ID) {
	pl, ok := r.pendingLookups[id]
	if !ok {
		return
	}
	now := r.exec.Now()
	if now.Before(pl.lastStart.Add(lookupRetryPeriod)) {
		return
	}
	pl.lastStart = now
	r.logger.Debug("Lookup timed out, retrying", "id", id)
	r.whenInitialized(func() { r.routeLookup(id) })
	r.schedule(lookupRetryPeriod, func() { r.lookupTimeout(id) })
}

// routeLookup routes a lookup request for id. The owner answers with a
// LookupResp.
func (r *Router) routeLookup(id guid.ID) {
	payload := encodeLookupReq(lookupReq{ReturnAddr: r.self.Addr})
	r.route(r.self.ID, id, r.self.Addr, lookupApp, false, payload)
}

func (r *Router) handleLookupResp(from Addr, m *LookupResp) {
	r.logger.Debug("Got lookup response", "id", m.LookupID, "owner", m.OwnerID, "from", from)
	ni := NeighborInfo{Addr: from, ID: m.OwnerID}
	if ni != r.self {
		r.addToRT(ni)
		r.lc.Add(ni)
	}
	pl, ok := r.pendingLookups[m.LookupID]
	if !ok {
		return
	}
	delete(r.pendingLookups, m.LookupID)
	for _, cb := range pl.cbs {
		cb(m.LookupID, m.OwnerID, from)
	}
}
