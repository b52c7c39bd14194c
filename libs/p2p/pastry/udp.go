package pastry

import (
	"container/list"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	varint "github.com/multiformats/go-varint"
	"golang.org/x/time/rate"

	"github.com/lianxiangcloud/ringroute/libs/log"
)

// Datagram frames. A data frame with a non-zero sequence number asks the
// receiver for an ack carrying the same number.
const (
	frameData = 0x01
	frameAck  = 0x02
)

// UDPConn is the subset of *net.UDPConn the transport uses.
type UDPConn interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (n int, err error)
	Close() error
	LocalAddr() net.Addr
}

// UDPConfig holds the transport's parameters.
type UDPConfig struct {
	// Address advertised to peers. Defaults to the socket address.
	ExternalAddr Addr
	// Inbound packets per second and burst; zero disables the limit.
	MaxPacketRate  float64
	MaxPacketBurst int
	Clock          clock.Clock
	Metrics        *Metrics
}

// pendingAck is a send waiting for its ack.
type pendingAck struct {
	seq      uint64
	sent     time.Time
	timeout  time.Duration
	deadline time.Time
	done     DoneFunc
}

type ackReply struct {
	seq uint64
	err error
}

// UDPTransport sends each message in one datagram. Delivery is best effort;
// a send with a completion is acknowledged by the receiving transport
// before its handler runs.
type UDPTransport struct {
	conn    UDPConn
	self    Addr
	clock   clock.Clock
	logger  log.Logger
	metrics *Metrics
	limiter *rate.Limiter

	handler atomic.Value // Handler
	seq     uint64

	wg         sync.WaitGroup
	addPending chan *pendingAck
	gotAck     chan ackReply
	closing    chan struct{}
	closeOnce  sync.Once
}

var _ Transport = (*UDPTransport)(nil)

// ListenUDP binds laddr and starts a transport on it.
func ListenUDP(laddr string, cfg UDPConfig, logger log.Logger) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	t := NewUDPTransport(conn, cfg, logger)
	t.Start()
	return t, nil
}

// NewUDPTransport wraps conn. Call Start before sending.
func NewUDPTransport(conn UDPConn, cfg UDPConfig, logger log.Logger) *UDPTransport {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	self := cfg.ExternalAddr
	if self == "" {
		self = Addr(conn.LocalAddr().String())
	}
	t := &UDPTransport{
		conn:       conn,
		self:       self,
		clock:      cfg.Clock,
		logger:     logger,
		metrics:    cfg.Metrics,
		addPending: make(chan *pendingAck),
		gotAck:     make(chan ackReply),
		closing:    make(chan struct{}),
	}
	if cfg.MaxPacketRate > 0 {
		burst := cfg.MaxPacketBurst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPacketRate), burst)
	}
	t.handler.Store(Handler(func(Addr, Message) {}))
	return t
}

// Start launches the read and timeout loops.
func (t *UDPTransport) Start() {
	t.wg.Add(2)
	go t.loop()
	go t.readLoop()
}

// Close shuts down the socket and fails every pending send.
func (t *UDPTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.closing)
		t.conn.Close()
	})
	t.wg.Wait()
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() Addr { return t.self }

// SetHandler implements Transport.
func (t *UDPTransport) SetHandler(h Handler) { t.handler.Store(h) }

// Send implements Transport.
func (t *UDPTransport) Send(to Addr, msg Message, timeout time.Duration, done DoneFunc) {
	fail := func(err error) {
		t.logger.Debug("Send failed", "to", to, "kind", msg.Kind(), "err", err)
		if done != nil {
			done(0, err)
		}
	}
	raddr, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		fail(err)
		return
	}
	pkt, err := EncodePacket(NewPacket(to, t.self, msg))
	if err != nil {
		fail(err)
		return
	}

	var seq uint64
	if done != nil {
		seq = atomic.AddUint64(&t.seq, 1)
		p := &pendingAck{seq: seq, timeout: timeout, done: done}
		select {
		case t.addPending <- p:
		case <-t.closing:
			fail(errClosed)
			return
		}
	}
	frame := append([]byte{frameData}, varint.ToUvarint(seq)...)
	frame = append(frame, pkt...)
	if _, err := t.conn.WriteToUDP(frame, raddr); err != nil {
		if seq != 0 {
			t.completeAck(ackReply{seq: seq, err: err})
		} else {
			fail(err)
		}
		return
	}
	t.metrics.MessagesSent.With("kind", msg.Kind().String()).Add(1)
	t.logger.Trace(">> "+msg.Kind().String(), "to", to, "seq", seq)
}

func (t *UDPTransport) completeAck(a ackReply) {
	select {
	case t.gotAck <- a:
	case <-t.closing:
	}
}

// loop owns the pending list, kept sorted by deadline.
func (t *UDPTransport) loop() {
	defer t.wg.Done()

	var (
		plist       = list.New()
		timeout     = t.clock.Timer(time.Hour)
		nextTimeout *pendingAck // head of plist when timeout was last reset
	)
	timeout.Stop()
	defer timeout.Stop()

	complete := func(el *list.Element, err error) {
		p := plist.Remove(el).(*pendingAck)
		var rtt time.Duration
		if err == nil {
			rtt = t.clock.Now().Sub(p.sent)
			t.metrics.RTT.Observe(rtt.Seconds())
		}
		p.done(rtt, err)
	}

	resetTimeout := func() {
		if plist.Front() == nil || nextTimeout == plist.Front().Value {
			return
		}
		// Start the timer so it fires when the next pending ack has expired.
		now := t.clock.Now()
		for el := plist.Front(); el != nil; el = plist.Front() {
			nextTimeout = el.Value.(*pendingAck)
			if dist := nextTimeout.deadline.Sub(now); dist < 2*nextTimeout.timeout {
				timeout.Reset(dist)
				return
			}
			// The clock jumped backwards after the deadline was assigned.
			complete(el, errClockWarp)
		}
		nextTimeout = nil
		timeout.Stop()
	}

	for {
		resetTimeout()

		select {
		case <-t.closing:
			for el := plist.Front(); el != nil; el = plist.Front() {
				complete(el, errClosed)
			}
			return

		case p := <-t.addPending:
			p.sent = t.clock.Now()
			p.deadline = p.sent.Add(p.timeout)
			el := plist.Back()
			for el != nil && el.Value.(*pendingAck).deadline.After(p.deadline) {
				el = el.Prev()
			}
			if el == nil {
				plist.PushFront(p)
			} else {
				plist.InsertAfter(p, el)
			}

		case a := <-t.gotAck:
			for el := plist.Front(); el != nil; el = el.Next() {
				if el.Value.(*pendingAck).seq == a.seq {
					complete(el, a.err)
					break
				}
			}

		case now := <-timeout.C:
			nextTimeout = nil
			for el := plist.Front(); el != nil; el = plist.Front() {
				p := el.Value.(*pendingAck)
				if now.Before(p.deadline) {
					break
				}
				t.metrics.SendTimeouts.Add(1)
				complete(el, errTimeout)
			}
		}
	}
}

// readLoop runs in its own goroutine. It handles incoming UDP packets.
func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxPacketSize+16)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if isTemporaryError(err) {
			t.logger.Debug("Temporary UDP read error", "err", err)
			continue
		} else if err != nil {
			select {
			case <-t.closing:
			default:
				if err != io.EOF {
					t.logger.Debug("UDP read error", "err", err)
				}
			}
			return
		}
		if t.limiter != nil && !t.limiter.Allow() {
			t.metrics.PacketsDropped.With("reason", "rate").Add(1)
			continue
		}
		t.handlePacket(from, buf[:n])
	}
}

func (t *UDPTransport) handlePacket(from *net.UDPAddr, buf []byte) {
	if len(buf) < 2 {
		t.metrics.PacketsDropped.With("reason", "malformed").Add(1)
		return
	}
	seq, n, err := varint.FromUvarint(buf[1:])
	if err != nil {
		t.metrics.PacketsDropped.With("reason", "malformed").Add(1)
		return
	}
	switch buf[0] {
	case frameAck:
		t.completeAck(ackReply{seq: seq})
	case frameData:
		pkt, err := DecodePacket(buf[1+n:])
		if err != nil {
			t.logger.Debug("Bad packet", "addr", from, "err", err)
			t.metrics.PacketsDropped.With("reason", "malformed").Add(1)
			return
		}
		if seq != 0 {
			ack := append([]byte{frameAck}, varint.ToUvarint(seq)...)
			if _, err := t.conn.WriteToUDP(ack, from); err != nil {
				t.logger.Debug("Ack failed", "addr", from, "err", err)
			}
		}
		sender := pkt.From
		if sender == "" {
			sender = Addr(from.String())
		}
		t.metrics.MessagesReceived.With("kind", pkt.Msg.Kind().String()).Add(1)
		t.logger.Trace("<< "+pkt.Msg.Kind().String(), "from", sender, "seq", seq)
		t.handler.Load().(Handler)(sender, pkt.Msg)
	default:
		t.metrics.PacketsDropped.With("reason", "malformed").Add(1)
	}
}

func isTemporaryError(err error) bool {
	tempErr, ok := err.(interface {
		Temporary() bool
	})
	return ok && tempErr.Temporary()
}
