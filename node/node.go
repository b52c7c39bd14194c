// Package node assembles a running overlay node from its config: the node
// key, the UDP transport, the router and its neighbor database, and the
// instrumentation endpoints.
package node

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	cfg "github.com/lianxiangcloud/ringroute/config"
	cmn "github.com/lianxiangcloud/ringroute/libs/common"
	dbm "github.com/lianxiangcloud/ringroute/libs/db"
	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
	"github.com/lianxiangcloud/ringroute/libs/p2p/upnp"
	"github.com/lianxiangcloud/ringroute/version"
)

const upnpTimeout = 10 * time.Second

//------------------------------------------------------------------------------

// DBContext specifies config information for loading a new DB.
type DBContext struct {
	ID     string
	Config *cfg.Config
}

// DBProvider takes a DBContext and returns an instantiated DB.
type DBProvider func(*DBContext) (dbm.DB, error)

// DefaultDBProvider returns a database using the DBBackend and DBDir
// specified in the ctx.Config.
func DefaultDBProvider(ctx *DBContext) (dbm.DB, error) {
	dbType := dbm.DBBackendType(ctx.Config.DBBackend)
	return dbm.NewDB(ctx.ID, dbType, ctx.Config.DBDir(), ctx.Config.DBCounts)
}

// MetricsProvider returns the router and transport metrics.
type MetricsProvider func() *pastry.Metrics

// DefaultMetricsProvider returns Prometheus metrics if enabled in the
// instrumentation config, no-op metrics otherwise.
func DefaultMetricsProvider(config *cfg.InstrumentationConfig) MetricsProvider {
	return func() *pastry.Metrics {
		if config.Prometheus {
			return pastry.PrometheusMetrics(config.Namespace)
		}
		return pastry.NopMetrics()
	}
}

// NodeProvider takes a config and a logger and returns a ready to go Node.
type NodeProvider func(*cfg.Config, log.Logger) (*Node, error)

// DefaultNewNode returns a node with the key from the config's node key
// file and the default DB and metrics providers.
// It implements NodeProvider.
func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := pastry.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, errors.Wrap(err, "loading node key")
	}
	return NewNode(config,
		nodeKey,
		DefaultDBProvider,
		DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
}

//------------------------------------------------------------------------------

// Node is the highest level interface to an overlay node.
type Node struct {
	config  *cfg.Config
	nodeKey *pastry.NodeKey
	logger  log.Logger

	loop      *pastry.EventLoop
	transport *pastry.UDPTransport
	router    *pastry.Router
	nodeDBRaw dbm.DB

	servers []*http.Server
	mapping *upnp.Mapping

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewNode returns a new node, ready to be started.
func NewNode(config *cfg.Config,
	nodeKey *pastry.NodeKey,
	dbProvider DBProvider,
	metricsProvider MetricsProvider,
	logger log.Logger) (*Node, error) {

	if err := config.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	metrics := metricsProvider()

	nodeDB, err := dbProvider(&DBContext{"nodes", config})
	if err != nil {
		return nil, err
	}

	externalAddr := config.P2P.ExternalAddress
	var mapping *upnp.Mapping
	if config.P2P.UPnP && externalAddr == "" {
		if mapping, err = mapPort(config, logger); err != nil {
			logger.Info("Could not forward port, advertising the listen address", "err", err)
		} else {
			externalAddr = mapping.Addr()
		}
	}

	loop := pastry.NewEventLoop(nil)
	transport, err := pastry.ListenUDP(config.P2P.ListenAddress, pastry.UDPConfig{
		ExternalAddr:   pastry.Addr(externalAddr),
		MaxPacketRate:  config.P2P.MaxPacketRate,
		MaxPacketBurst: config.P2P.MaxPacketBurst,
		Metrics:        metrics,
	}, logger.With("module", "udp"))
	if err != nil {
		if mapping != nil {
			mapping.Close()
		}
		nodeDB.Close()
		return nil, errors.Wrap(err, "listening for packets")
	}

	var pub []byte
	if nodeKey != nil {
		pub = nodeKey.PubKey()
	}
	ndb := pastry.NewNodeDB(nodeDB, logger.With("module", "nodedb"))
	if expired := ndb.ExpireNodes(time.Now()); expired > 0 {
		logger.Info("Dropped stale nodes from previous runs", "count", expired)
	}
	router, err := pastry.NewRouter(config.Router.PastryConfig(pub), loop, transport,
		pastry.WithLogger(logger.With("module", "pastry")),
		pastry.WithMetrics(metrics),
		pastry.WithNodeDB(ndb),
	)
	if err != nil {
		if mapping != nil {
			mapping.Close()
		}
		transport.Close()
		nodeDB.Close()
		return nil, err
	}

	return &Node{
		config:    config,
		nodeKey:   nodeKey,
		logger:    logger,
		loop:      loop,
		transport: transport,
		router:    router,
		nodeDBRaw: nodeDB,
		mapping:   mapping,
	}, nil
}

// mapPort forwards the UDP listen port on the local internet gateway.
func mapPort(config *cfg.Config, logger log.Logger) (*upnp.Mapping, error) {
	_, portStr, err := net.SplitHostPort(config.P2P.ListenAddress)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return nil, errors.Errorf("can't forward port %q", portStr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), upnpTimeout)
	defer cancel()
	return upnp.Map(ctx, uint16(port), "ringroute", logger.With("module", "upnp"))
}

// Start starts the event loop, the router and the HTTP servers.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("node already started")
	}
	n.started = true

	n.loop.Start()
	n.router.Start()

	if addr := n.config.ProfListenAddress; addr != "" {
		// pprof handlers live on the default mux
		n.serve(addr, http.DefaultServeMux, 0)
	}
	if n.config.Instrumentation.Prometheus {
		n.serve(n.config.Instrumentation.PrometheusListenAddr, n.instrumentationMux(),
			n.config.Instrumentation.MaxOpenConnections)
	}

	n.logger.Info("Started node", "version", version.Version, "addr", n.transport.LocalAddr(),
		"guid", n.router.ID())
	return nil
}

func (n *Node) instrumentationMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/router", n.serveRouterState)
	return mux
}

func (n *Node) serve(addr string, h http.Handler, maxConns int) {
	srv := &http.Server{Addr: addr, Handler: h}
	n.servers = append(n.servers, srv)
	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			n.logger.Error("HTTP server failed to listen", "addr", addr, "err", err)
			return
		}
		if maxConns > 0 {
			ln = netutil.LimitListener(ln, maxConns)
		}
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			n.logger.Error("HTTP server stopped", "addr", addr, "err", err)
		}
	}()
}

// serveRouterState writes the router snapshot as JSON.
func (n *Node) serveRouterState(w http.ResponseWriter, req *http.Request) {
	snap, ok := n.Snapshot()
	if !ok {
		http.Error(w, "node stopped", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		n.logger.Debug("Failed to write router state", "err", err)
	}
}

// Snapshot copies the router state. It returns false once the node has
// stopped.
func (n *Node) Snapshot() (pastry.Snapshot, bool) {
	var snap pastry.Snapshot
	ok := n.loop.Sync(func() { snap = n.router.Snapshot() })
	return snap, ok
}

// Stop shuts the node down. It is safe to call more than once.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.stopped = true
	n.logger.Info("Stopping Node")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range n.servers {
		srv.Shutdown(ctx)
	}

	n.router.Stop()
	if n.started {
		// let the router's stop task run before the loop goes away
		n.loop.Sync(func() {})
		n.loop.Stop()
	}
	n.transport.Close()
	n.nodeDBRaw.Close()
	if n.mapping != nil {
		n.mapping.Close()
	}
}

// RunForever waits for an interrupt signal and stops the node.
func (n *Node) RunForever() {
	// Sleep forever and then...
	cmn.TrapSignal(func() {
		n.Stop()
	})
}

// Router returns the node's router. Its methods must run on the node's
// event loop; see Post.
func (n *Node) Router() *pastry.Router {
	return n.router
}

// Post runs fn on the router's event loop.
func (n *Node) Post(fn func()) {
	n.loop.Post(fn)
}

// Addr returns the address peers reach the node at.
func (n *Node) Addr() pastry.Addr {
	return n.transport.LocalAddr()
}

// NodeKey returns the node's identity key, or nil if it has none.
func (n *Node) NodeKey() *pastry.NodeKey {
	return n.nodeKey
}

// Config returns the node's config.
func (n *Node) Config() *cfg.Config {
	return n.config
}
