package pastry

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/log"
)

type inbound struct {
	from Addr
	msg  Message
}

func startUDP(t *testing.T) (*UDPTransport, chan inbound) {
	tr, err := ListenUDP("127.0.0.1:0", UDPConfig{}, log.NewNopLogger())
	require.NoError(t, err)
	in := make(chan inbound, 8)
	tr.SetHandler(func(from Addr, msg Message) { in <- inbound{from, msg} })
	return tr, in
}

type sendResult struct {
	rtt time.Duration
	err error
}

func TestUDPTransportAcknowledgedSend(t *testing.T) {
	defer leaktest.Check(t)()

	a, _ := startUDP(t)
	defer a.Close()
	b, bIn := startUDP(t)
	defer b.Close()

	results := make(chan sendResult, 1)
	msg := &LeafSetChanged{ID: tid(0x42), LeafSet: []NeighborInfo{tn(1), tn(2)}, WantReply: true}
	a.Send(b.LocalAddr(), msg, time.Second, func(rtt time.Duration, err error) {
		results <- sendResult{rtt, err}
	})

	select {
	case got := <-bIn:
		assert.Equal(t, a.LocalAddr(), got.from)
		assert.Equal(t, msg, got.msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case res := <-results:
		require.NoError(t, res.err)
		assert.True(t, res.rtt >= 0)
	case <-time.After(5 * time.Second):
		t.Fatal("send not completed")
	}
}

func TestUDPTransportTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	a, _ := startUDP(t)
	defer a.Close()

	// A bound socket that never answers.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	results := make(chan sendResult, 2)
	done := func(rtt time.Duration, err error) { results <- sendResult{rtt, err} }
	to := Addr(silent.LocalAddr().String())
	a.Send(to, &Ping{}, 300*time.Millisecond, done)
	a.Send(to, &Ping{}, 50*time.Millisecond, done)

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			assert.Equal(t, errTimeout, res.err)
		case <-time.After(5 * time.Second):
			t.Fatal("no timeout")
		}
	}
}

func TestUDPTransportCloseFailsPending(t *testing.T) {
	defer leaktest.Check(t)()

	a, _ := startUDP(t)
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	results := make(chan sendResult, 1)
	a.Send(Addr(silent.LocalAddr().String()), &Ping{}, time.Minute, func(rtt time.Duration, err error) {
		results <- sendResult{rtt, err}
	})
	a.Close()
	select {
	case res := <-results:
		assert.Equal(t, errClosed, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("pending send not failed on close")
	}
}

func TestUDPTransportDropsGarbage(t *testing.T) {
	defer leaktest.Check(t)()

	a, aIn := startUDP(t)
	defer a.Close()

	raw, err := net.DialUDP("udp", nil, a.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte{frameData, 0, 0xff, 0xff})
	require.NoError(t, err)

	select {
	case got := <-aIn:
		t.Fatalf("garbage delivered: %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
