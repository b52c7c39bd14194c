// Package simnet runs many routers in one process on virtual time. Every
// task of every node runs from a single queue ordered by due time, so a
// scenario replays identically for a given seed.
package simnet

import (
	"container/heap"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

var (
	ErrTimeout     = errors.New("simulated send timeout")
	ErrUnknownAddr = errors.New("no such simulated node")
)

// Config describes the simulated network.
type Config struct {
	Seed int64
	// Latency is the one way delay between two nodes. Defaults to a fixed
	// 10ms.
	Latency func(from, to pastry.Addr) time.Duration
	// LossRate drops that fraction of packets, in [0, 1).
	LossRate float64
	// Start is the virtual time at which the simulation begins.
	Start time.Time
}

type event struct {
	at  time.Time
	seq uint64
	fn  func()

	index    int
	canceled bool
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *eventQueue) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *eventQueue) Pop() interface{} {
	old := *q
	e := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return e
}

// Network is a simulated network with a virtual clock. It is not safe for
// concurrent use; drive it from one goroutine with RunFor.
type Network struct {
	cfg    Config
	logger log.Logger
	rand   *rand.Rand

	now    time.Time
	seq    uint64
	events eventQueue

	nodes map[pastry.Addr]*Transport
	down  map[pastry.Addr]bool

	sent, dropped, delivered int
}

// New creates an empty network.
func New(cfg Config, logger log.Logger) *Network {
	if cfg.Latency == nil {
		cfg.Latency = func(_, _ pastry.Addr) time.Duration { return 10 * time.Millisecond }
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Unix(1500000000, 0)
	}
	return &Network{
		cfg:    cfg,
		logger: logger,
		rand:   rand.New(rand.NewSource(cfg.Seed)),
		now:    cfg.Start,
		nodes:  make(map[pastry.Addr]*Transport),
		down:   make(map[pastry.Addr]bool),
	}
}

// Now returns the virtual time.
func (n *Network) Now() time.Time { return n.now }

func (n *Network) schedule(d time.Duration, fn func()) *event {
	if d < 0 {
		d = 0
	}
	n.seq++
	e := &event{at: n.now.Add(d), seq: n.seq, fn: fn}
	heap.Push(&n.events, e)
	return e
}

// Step runs the next due task. It returns false when nothing is queued.
func (n *Network) Step() bool {
	for n.events.Len() > 0 {
		e := heap.Pop(&n.events).(*event)
		if e.canceled {
			continue
		}
		if e.at.After(n.now) {
			n.now = e.at
		}
		e.fn()
		return true
	}
	return false
}

// RunFor runs every task due within d of the current virtual time and
// then advances the clock to the end of that window.
func (n *Network) RunFor(d time.Duration) {
	until := n.now.Add(d)
	for n.events.Len() > 0 && !n.events[0].at.After(until) {
		n.Step()
	}
	n.now = until
}

// Executor returns an executor running on the network's clock. Routers
// given different executors still share the network's single queue.
func (n *Network) Executor() pastry.Executor {
	return executor{n}
}

type executor struct{ n *Network }

func (e executor) Post(fn func()) { e.n.schedule(0, fn) }

func (e executor) AfterFunc(d time.Duration, fn func()) func() bool {
	ev := e.n.schedule(d, nil)
	fired := false
	ev.fn = func() {
		fired = true
		fn()
	}
	return func() bool {
		if fired || ev.canceled {
			return false
		}
		ev.canceled = true
		return true
	}
}

func (e executor) Now() time.Time { return e.n.now }

// Attach creates the transport of a node reachable at addr.
func (n *Network) Attach(addr pastry.Addr) *Transport {
	t := &Transport{net: n, addr: addr, handler: func(pastry.Addr, pastry.Message) {}}
	n.nodes[addr] = t
	return t
}

// SetDown makes addr drop everything sent to or by it.
func (n *Network) SetDown(addr pastry.Addr, down bool) {
	if down {
		n.down[addr] = true
	} else {
		delete(n.down, addr)
	}
}

// Stats returns the packet counters.
func (n *Network) Stats() (sent, dropped, delivered int) {
	return n.sent, n.dropped, n.delivered
}

// Transport is a node's attachment to the simulated network. Messages are
// run through the wire codec so that what arrives is what a real peer
// would decode.
type Transport struct {
	net     *Network
	addr    pastry.Addr
	handler pastry.Handler
}

var _ pastry.Transport = (*Transport)(nil)

func (t *Transport) LocalAddr() pastry.Addr { return t.addr }

func (t *Transport) SetHandler(h pastry.Handler) { t.handler = h }

// Send delivers msg after the link latency unless either end is down or
// the packet is lost. A send with done is acknowledged after a round trip,
// or fails once timeout has passed.
func (t *Transport) Send(to pastry.Addr, msg pastry.Message, timeout time.Duration, done pastry.DoneFunc) {
	n := t.net
	n.sent++
	fail := func(err error) {
		n.dropped++
		if done != nil {
			n.schedule(timeout, func() { done(0, err) })
		}
	}

	pkt, err := pastry.EncodePacket(pastry.NewPacket(to, t.addr, msg))
	if err != nil {
		n.logger.Error("Failed to encode simulated packet", "kind", msg.Kind(), "err", err)
		fail(err)
		return
	}
	dst, ok := n.nodes[to]
	switch {
	case !ok:
		fail(ErrUnknownAddr)
		return
	case n.down[to] || n.down[t.addr]:
		fail(ErrTimeout)
		return
	case n.cfg.LossRate > 0 && n.rand.Float64() < n.cfg.LossRate:
		fail(ErrTimeout)
		return
	}

	there := n.cfg.Latency(t.addr, to)
	back := n.cfg.Latency(to, t.addr)
	n.schedule(there, func() {
		if n.down[to] {
			n.dropped++
			return
		}
		p, err := pastry.DecodePacket(pkt)
		if err != nil {
			n.logger.Error("Failed to decode simulated packet", "err", err)
			return
		}
		n.delivered++
		dst.handler(p.From, p.Msg)
	})
	if done == nil {
		return
	}
	rtt := there + back
	if timeout > 0 && rtt > timeout {
		n.schedule(timeout, func() { done(0, ErrTimeout) })
		return
	}
	n.schedule(rtt, func() {
		if n.down[to] {
			n.schedule(timeout-rtt, func() { done(0, ErrTimeout) })
			return
		}
		done(rtt, nil)
	})
}
