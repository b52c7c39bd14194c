// Package upnp asks the local internet gateway to forward the node's port
// so that peers outside the LAN can reach it.
package upnp

import (
	"context"
	"net"
	"strconv"

	upnpc "github.com/NebulousLabs/go-upnp"
	"github.com/pkg/errors"

	"github.com/lianxiangcloud/ringroute/libs/log"
)

var (
	ErrPublicHost = errors.New("host already has a public address")
	ErrLANGateway = errors.New("gateway reports a local external address")
)

// Gateway is the part of an internet gateway device used for forwarding.
type Gateway interface {
	ExternalIP() (string, error)
	Forward(port uint16, desc string) error
	Clear(port uint16) error
}

// Overridden in tests.
var (
	discover = func(ctx context.Context) (Gateway, error) {
		return upnpc.DiscoverCtx(ctx)
	}
	interfaceAddrs = net.InterfaceAddrs
)

// Mapping is a port forwarded by the gateway.
type Mapping struct {
	IP   string
	Port uint16

	gw     Gateway
	logger log.Logger
}

// Addr returns the external host:port.
func (m *Mapping) Addr() string {
	return net.JoinHostPort(m.IP, strconv.Itoa(int(m.Port)))
}

// Close removes the forwarding.
func (m *Mapping) Close() error {
	err := m.gw.Clear(m.Port)
	if err != nil {
		m.logger.Info("Failed to remove port mapping", "port", m.Port, "err", err)
	}
	return err
}

// Map forwards port on the gateway under name. It fails with ErrPublicHost
// when the host has a public interface address, since nothing needs
// forwarding then.
func Map(ctx context.Context, port uint16, name string, logger log.Logger) (*Mapping, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return nil, errors.Wrap(err, "listing interface addresses")
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && !IsLAN(ipnet.IP) {
			logger.Info("Skipping port mapping", "public address", ipnet.IP)
			return nil, ErrPublicHost
		}
	}

	gw, err := discover(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discovering gateway")
	}
	extIP, err := gw.ExternalIP()
	if err != nil {
		return nil, errors.Wrap(err, "getting external IP")
	}
	if ip := net.ParseIP(extIP); ip == nil || IsLAN(ip) {
		return nil, errors.Wrap(ErrLANGateway, extIP)
	}
	if err := gw.Forward(port, name); err != nil {
		return nil, errors.Wrapf(err, "forwarding port %d", port)
	}
	logger.Info("Added port mapping", "external", extIP, "port", port)
	return &Mapping{IP: extIP, Port: port, gw: gw, logger: logger}, nil
}
