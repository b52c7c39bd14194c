package upnp

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/log"
)

type mockGateway struct{ mock.Mock }

func (g *mockGateway) ExternalIP() (string, error) {
	args := g.Called()
	return args.String(0), args.Error(1)
}

func (g *mockGateway) Forward(port uint16, desc string) error {
	return g.Called(port, desc).Error(0)
}

func (g *mockGateway) Clear(port uint16) error {
	return g.Called(port).Error(0)
}

func withHost(t *testing.T, gw Gateway, ifaces ...string) {
	oldDiscover, oldAddrs := discover, interfaceAddrs
	t.Cleanup(func() { discover, interfaceAddrs = oldDiscover, oldAddrs })

	discover = func(context.Context) (Gateway, error) {
		if gw == nil {
			return nil, errors.New("no gateway")
		}
		return gw, nil
	}
	interfaceAddrs = func() ([]net.Addr, error) {
		var out []net.Addr
		for _, cidr := range ifaces {
			ip, n, err := net.ParseCIDR(cidr)
			require.NoError(t, err)
			n.IP = ip
			out = append(out, n)
		}
		return out, nil
	}
}

func TestIsLAN(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.1.1", "172.20.0.1", "fe80::1", "::1"} {
		assert.True(t, IsLAN(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "2001:4860:4860::8888"} {
		assert.False(t, IsLAN(net.ParseIP(ip)), ip)
	}
}

func TestMapForwardsPort(t *testing.T) {
	gw := new(mockGateway)
	gw.On("ExternalIP").Return("93.184.216.34", nil)
	gw.On("Forward", uint16(13500), "ringroute").Return(nil)
	gw.On("Clear", uint16(13500)).Return(nil)
	withHost(t, gw, "127.0.0.1/8", "192.168.1.20/24")

	m, err := Map(context.Background(), 13500, "ringroute", log.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34:13500", m.Addr())
	assert.NoError(t, m.Close())
	gw.AssertExpectations(t)
}

func TestMapSkipsPublicHost(t *testing.T) {
	gw := new(mockGateway)
	withHost(t, gw, "192.168.1.20/24", "93.184.216.34/24")

	_, err := Map(context.Background(), 13500, "ringroute", log.NewNopLogger())
	assert.Equal(t, ErrPublicHost, err)
	gw.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything)
}

func TestMapRejectsLANGateway(t *testing.T) {
	gw := new(mockGateway)
	gw.On("ExternalIP").Return("10.0.0.1", nil)
	withHost(t, gw, "192.168.1.20/24")

	_, err := Map(context.Background(), 13500, "ringroute", log.NewNopLogger())
	assert.Equal(t, ErrLANGateway, errors.Cause(err))
	gw.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything)
}

func TestMapWithoutGateway(t *testing.T) {
	withHost(t, nil, "192.168.1.20/24")
	_, err := Map(context.Background(), 13500, "ringroute", log.NewNopLogger())
	assert.Error(t, err)
}
