package pastry

import (
	"errors"
	"time"
)

var (
	errTimeout   = errors.New("send timeout")
	errClockWarp = errors.New("ack deadline too far in the future")
	errClosed    = errors.New("transport closed")
)

// DoneFunc completes a send: err is nil once the peer acknowledged the
// message, and rtt is the measured round trip.
type DoneFunc func(rtt time.Duration, err error)

// Handler receives inbound messages.
type Handler func(from Addr, msg Message)

// Transport carries messages between routers. Implementations call done
// exactly once per Send made with a non-nil done, from any goroutine.
type Transport interface {
	LocalAddr() Addr
	SetHandler(h Handler)
	Send(to Addr, msg Message, timeout time.Duration, done DoneFunc)
}
