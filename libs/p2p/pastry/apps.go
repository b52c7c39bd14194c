package pastry

import (
	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// RouteEvent describes a routed message handed to an application.
type RouteEvent struct {
	Src             guid.ID
	Dest            guid.ID
	ImmediateSource Addr // previous hop
	App             uint64
	Intermediate    bool
	Payload         []byte
}

// Application receives the router's callbacks. Any of them may be nil.
// Callbacks run on the router's executor.
type Application struct {
	// LeafSetChanged is told the predecessors and successors, nearest first.
	LeafSetChanged             func(preds, succs []NeighborInfo)
	RoutingTableChanged        func(added, removed []NeighborInfo)
	ReverseRoutingTableChanged func(added, removed []NeighborInfo)
	// Upcall sees messages routed through this node that asked for
	// intermediate upcalls. The application resumes routing with
	// RouteContinue.
	Upcall func(ev RouteEvent)
	// Deliver sees messages for which this node is the root.
	Deliver func(ev RouteEvent)
}

// RegisterApplication registers app under id. The application learns the
// current leaf set and routing tables on a later executor turn, once the
// router has joined.
func (r *Router) RegisterApplication(id uint64, app Application) (Info, error) {
	if _, ok := r.apps[id]; ok {
		return Info{}, ErrDuplicateApp
	}
	a := &app
	r.apps[id] = a
	r.appOrder = append(r.appOrder, id)
	r.logger.Debug("Registered application", "app", id)

	r.schedule(0, func() {
		r.whenInitialized(func() {
			r.notifyLeafSetChangedTo(a)
			if a.RoutingTableChanged != nil {
				a.RoutingTableChanged(r.rt.List(), nil)
			}
			if a.ReverseRoutingTableChanged != nil {
				a.ReverseRoutingTableChanged(r.rrt.list(), nil)
			}
		})
	})
	return r.Info(), nil
}

// RouteInit starts routing payload toward the root of dest on behalf of
// application app.
func (r *Router) RouteInit(dest guid.ID, app uint64, intermediate bool, payload []byte) error {
	if _, ok := r.apps[app]; !ok {
		return ErrUnknownApp
	}
	r.whenInitialized(func() {
		r.route(r.self.ID, dest, r.self.Addr, app, intermediate, payload)
	})
	return nil
}

// RouteContinue resumes routing a message an application received through
// Upcall.
func (r *Router) RouteContinue(src, dest guid.ID, immediate Addr, app uint64, intermediate bool, payload []byte) error {
	if _, ok := r.apps[app]; !ok {
		return ErrUnknownApp
	}
	r.whenInitialized(func() {
		r.route(src, dest, immediate, app, intermediate, payload)
	})
	return nil
}

// route delivers locally or forwards one hop. A forward that times out is
// routed again, so a suspected hop is avoided the second time.
func (r *Router) route(src, dest guid.ID, immediate Addr, app uint64, intermediate bool, payload []byte) {
	next := r.calcNextHop(dest, true)
	if next == r.self {
		r.deliver(RouteEvent{Src: src, Dest: dest, ImmediateSource: immediate, App: app, Payload: payload})
		return
	}
	msg := &RouteMsg{Src: src, Dest: dest, App: app, Intermediate: intermediate, PeerID: r.self.ID, Payload: payload}
	var retry func()
	if !r.cfg.NoRexmitRoutes {
		retry = func() { r.route(src, dest, immediate, app, intermediate, payload) }
	}
	r.send(next.Addr, msg, routeTimeout, r.recursiveRouteDone(next, retry))
}

func (r *Router) handleRouteMsg(from Addr, m *RouteMsg) {
	r.lc.Add(NeighborInfo{Addr: from, ID: m.PeerID})

	ev := RouteEvent{Src: m.Src, Dest: m.Dest, ImmediateSource: from, App: m.App, Intermediate: m.Intermediate, Payload: m.Payload}
	next := r.calcNextHop(m.Dest, true)
	if next == r.self {
		r.deliver(ev)
		return
	}
	if app := r.apps[m.App]; m.Intermediate && app != nil && app.Upcall != nil {
		app.Upcall(ev)
		return
	}

	fwd := &RouteMsg{Src: m.Src, Dest: m.Dest, App: m.App, Intermediate: m.Intermediate, PeerID: r.self.ID, Payload: m.Payload}
	var retry func()
	if !r.cfg.NoRexmitRoutes {
		retry = func() { r.handleRouteMsg(from, m) }
	}
	r.send(next.Addr, fwd, routeTimeout, r.recursiveRouteDone(next, retry))
}

func (r *Router) deliver(ev RouteEvent) {
	r.metrics.RoutesDelivered.Add(1)
	if ev.App == lookupApp {
		req, err := decodeLookupReq(ev.Payload)
		if err != nil {
			r.logger.Debug("Bad lookup payload", "from", ev.ImmediateSource, "err", err)
			return
		}
		resp := &LookupResp{LookupID: ev.Dest, OwnerID: r.self.ID}
		if req.ReturnAddr == r.self.Addr {
			r.handleLookupResp(r.self.Addr, resp)
			return
		}
		r.lc.Add(NeighborInfo{Addr: req.ReturnAddr, ID: ev.Src})
		r.send(req.ReturnAddr, resp, 0, nil)
		return
	}
	app, ok := r.apps[ev.App]
	if !ok {
		r.logger.Debug("No application for routed message", "app", ev.App)
		return
	}
	if app.Deliver != nil {
		app.Deliver(ev)
	}
}

func (r *Router) notifyLeafSetChanged() {
	r.updateGauges()
	for _, id := range r.appOrder {
		r.notifyLeafSetChangedTo(r.apps[id])
	}
}

// notifyLeafSetChangedTo passes the leaf set to app unless it is in a
// transient state: partly filled, and either lopsided or of odd size.
func (r *Router) notifyLeafSetChangedTo(app *Application) {
	if app.LeafSetChanged == nil {
		return
	}
	list := r.ls.List()
	if n := len(list); n > 0 && n < 2*r.ls.Size() && (list[0] != list[n-1] || n%2 != 0) {
		return
	}
	app.LeafSetChanged(r.ls.Preds(), r.ls.Succs())
}

func (r *Router) notifyRoutingTableChanged(added, removed []NeighborInfo) {
	r.updateGauges()
	for _, id := range r.appOrder {
		if fn := r.apps[id].RoutingTableChanged; fn != nil {
			fn(added, removed)
		}
	}
}

func (r *Router) notifyReverseRoutingTableChanged(added, removed []NeighborInfo) {
	r.updateGauges()
	for _, id := range r.appOrder {
		if fn := r.apps[id].ReverseRoutingTableChanged; fn != nil {
			fn(added, removed)
		}
	}
}
