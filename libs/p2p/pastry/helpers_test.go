package pastry

import (
	"fmt"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// tid returns an id whose highest 64 bits are v, so that the leading hex
// digits of v are the leading digits of the id.
func tid(v uint64) guid.ID {
	var id guid.ID
	for i := 0; i < 8; i++ {
		id[i] = byte(v >> (56 - 8*uint(i)))
	}
	return id
}

// tn builds a neighbor from the top byte of its id.
func tn(top byte) NeighborInfo {
	return NeighborInfo{
		Addr: Addr(fmt.Sprintf("10.0.0.%d:7000", top)),
		ID:   tid(uint64(top) << 56),
	}
}

func ids(ns []NeighborInfo) []byte {
	out := make([]byte, len(ns))
	for i, n := range ns {
		out[i] = n.ID[0]
	}
	return out
}

// manualExecutor runs tasks only when the test advances it.
type manualExecutor struct {
	now    time.Time
	tasks  []func()
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	fn      func()
	stopped bool
}

func newManualExecutor() *manualExecutor {
	return &manualExecutor{now: time.Unix(1500000000, 0)}
}

func (e *manualExecutor) Post(fn func()) { e.tasks = append(e.tasks, fn) }

func (e *manualExecutor) AfterFunc(d time.Duration, fn func()) func() bool {
	t := &manualTimer{at: e.now.Add(d), fn: fn}
	e.timers = append(e.timers, t)
	return func() bool {
		if t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (e *manualExecutor) Now() time.Time { return e.now }

// drain runs everything that is due without moving the clock.
func (e *manualExecutor) drain() { e.advance(0) }

// advance runs posted tasks and due timers, earliest first, then moves the
// clock d forward.
func (e *manualExecutor) advance(d time.Duration) {
	until := e.now.Add(d)
	for {
		if len(e.tasks) > 0 {
			fn := e.tasks[0]
			e.tasks = e.tasks[1:]
			fn()
			continue
		}
		var next *manualTimer
		for _, t := range e.timers {
			if !t.stopped && !t.at.After(until) && (next == nil || t.at.Before(next.at)) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.stopped = true
		if next.at.After(e.now) {
			e.now = next.at
		}
		next.fn()
	}
	e.now = until
}

type sentMsg struct {
	to      Addr
	msg     Message
	timeout time.Duration
	done    DoneFunc
}

// mockTransport records every send. Acknowledgements are left pending
// until the test finishes them.
type mockTransport struct {
	mock.Mock
	addr    Addr
	handler Handler
	sent    []sentMsg
	pending []sentMsg
}

func newMockTransport(addr Addr) *mockTransport {
	tr := &mockTransport{addr: addr}
	tr.On("Send", mock.Anything, mock.Anything, mock.Anything).Return()
	return tr
}

func (m *mockTransport) LocalAddr() Addr { return m.addr }

func (m *mockTransport) SetHandler(h Handler) { m.handler = h }

func (m *mockTransport) Send(to Addr, msg Message, timeout time.Duration, done DoneFunc) {
	m.Called(to, msg.Kind(), timeout)
	s := sentMsg{to: to, msg: msg, timeout: timeout, done: done}
	m.sent = append(m.sent, s)
	if done != nil {
		m.pending = append(m.pending, s)
	}
}

// sentOf returns the messages of kind sent to to, or to anyone if to is
// empty.
func (m *mockTransport) sentOf(kind Kind, to Addr) []Message {
	var out []Message
	for _, s := range m.sent {
		if s.msg.Kind() == kind && (to == "" || s.to == to) {
			out = append(out, s.msg)
		}
	}
	return out
}

// finish completes the pending sends of kind with err.
func (m *mockTransport) finish(kind Kind, err error) int {
	var rest []sentMsg
	n := 0
	for _, s := range m.pending {
		if s.msg.Kind() != kind {
			rest = append(rest, s)
			continue
		}
		n++
		if err != nil {
			s.done(0, err)
		} else {
			s.done(10*time.Millisecond, nil)
		}
	}
	m.pending = rest
	return n
}
