package pastry

import (
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

const (
	probeTimeout         = 5 * time.Second
	routeTimeout         = 5 * time.Second
	periodicPingTimeout  = 5 * time.Second
	secondChanceTimeout  = 60 * time.Second
	partitionJoinTimeout = 10 * time.Second
	initialJoinPeriod    = 10 * time.Second
	maxJoinPeriod        = 60 * time.Second
	lookupRetryPeriod    = 60 * time.Second

	rttCacheSize = 1024
)

var (
	ErrDuplicateApp = errors.New("duplicate application id")
	ErrUnknownApp   = errors.New("unknown application id")
)

// Config holds the router parameters. A zero alarm period disables the
// alarm, except for the ping and leaf set alarms which always run.
type Config struct {
	LeafSetSize       int
	RTScale           float64
	DigitValues       int
	LocationCacheSize int

	PeriodicPingPeriod        time.Duration
	LeafSetAlarmPeriod        time.Duration
	NearRTAlarmPeriod         time.Duration
	FarRTAlarmPeriod          time.Duration
	PartitionCheckAlarmPeriod time.Duration
	LookupRTAlarmPeriod       time.Duration

	DownNodesCap       int
	ImmediateJoin      bool
	NoRexmitRoutes     bool
	IgnorePossiblyDown bool
	IgnoreProximity    bool
	PastryMode         bool

	// ExplicitGUID wins over NodeKey, which wins over the address hash.
	ExplicitGUID string
	NodeKey      []byte
	Gateways     []Addr
}

// DefaultConfig returns the default router parameters.
func DefaultConfig() Config {
	return Config{
		LeafSetSize:               2,
		RTScale:                   0.9,
		DigitValues:               16,
		PeriodicPingPeriod:        20 * time.Second,
		LeafSetAlarmPeriod:        4 * time.Second,
		NearRTAlarmPeriod:         10 * time.Second,
		FarRTAlarmPeriod:          20 * time.Second,
		PartitionCheckAlarmPeriod: 60 * time.Second,
		DownNodesCap:              20,
	}
}

func (cfg Config) validate() error {
	switch {
	case cfg.LeafSetSize < 1:
		return errors.Errorf("leaf set size %d must be positive", cfg.LeafSetSize)
	case cfg.RTScale <= 0 || cfg.RTScale > 1:
		return errors.Errorf("routing table scale %v must be in (0, 1]", cfg.RTScale)
	case cfg.PeriodicPingPeriod <= 0:
		return errors.New("periodic ping period must be positive")
	case cfg.LeafSetAlarmPeriod <= 0:
		return errors.New("leaf set alarm period must be positive")
	case cfg.PartitionCheckAlarmPeriod < 0, cfg.NearRTAlarmPeriod < 0,
		cfg.FarRTAlarmPeriod < 0, cfg.LookupRTAlarmPeriod < 0:
		return errors.New("alarm periods must not be negative")
	}
	return nil
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the router's metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithNodeDB makes the router remember live neighbors in db and seed its
// partition checks with the ones remembered from earlier runs.
func WithNodeDB(db *NodeDB) Option {
	return func(r *Router) { r.nodeDB = db }
}

// Info describes the identifier space a router works in.
type Info struct {
	ID             guid.ID `json:"guid"`
	Addr           Addr    `json:"addr"`
	ModulusBits    int     `json:"modulus_bits"`
	DigitsPerID    int     `json:"digits_per_id"`
	ValuesPerDigit int     `json:"values_per_digit"`
}

// Router maintains the leaf set and routing table of one overlay node and
// routes messages over them.
//
// All state is owned by the executor. Exported methods other than Start,
// Stop and HandleMessage must be called from a task of that executor.
type Router struct {
	cfg     Config
	exec    Executor
	net     Transport
	logger  log.Logger
	metrics *Metrics
	nodeDB  *NodeDB
	rand    *rand.Rand

	digits guid.Digits
	self   NeighborInfo
	mine   []int

	ls  *LeafSet
	rt  *RoutingTable
	rrt *neighborSet
	lc  *LocationCache

	latency       map[NeighborInfo]time.Duration // monitored nodes only
	rtts          *lru.Cache                     // Addr -> smoothed time.Duration
	possiblyDown  map[NeighborInfo]time.Time
	suspectAddrs  map[Addr]NeighborInfo // index of possiblyDown by address
	periodicPings *neighborSet
	pingsInFlight *neighborSet
	downNodes     *lru.Cache // Addr, oldest first; nil when disabled

	gateways    []Addr
	initialized bool
	stopped     bool
	waitq       []func()
	startTime   time.Time

	apps           map[uint64]*Application
	appOrder       []uint64
	pendingLookups map[guid.ID]*pendingLookup
}

// NewRouter creates a router reachable at tr.LocalAddr(). It installs
// itself as tr's handler; call Start to begin joining.
func NewRouter(cfg Config, exec Executor, tr Transport, opts ...Option) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	digits, err := guid.NewDigits(cfg.DigitValues)
	if err != nil {
		return nil, err
	}
	r := &Router{
		cfg:     cfg,
		exec:    exec,
		net:     tr,
		logger:  log.NewNopLogger(),
		metrics: NopMetrics(),
		digits:  digits,
	}
	for _, opt := range opts {
		opt(r)
	}

	addr := tr.LocalAddr()
	id, err := chooseGUID(cfg, addr)
	if err != nil {
		return nil, err
	}
	r.self = NeighborInfo{Addr: addr, ID: id}
	r.mine = digits.Split(id)
	r.rand = rand.New(rand.NewSource(int64(id.Uint64())))
	r.ls = NewLeafSet(r.self, cfg.LeafSetSize)
	r.rt = NewRoutingTable(r.self, digits, cfg.RTScale)
	r.rrt = newNeighborSet()
	r.lc = NewLocationCache(cfg.LocationCacheSize)
	r.latency = make(map[NeighborInfo]time.Duration)
	r.possiblyDown = make(map[NeighborInfo]time.Time)
	r.suspectAddrs = make(map[Addr]NeighborInfo)
	r.periodicPings = newNeighborSet()
	r.pingsInFlight = newNeighborSet()
	r.apps = map[uint64]*Application{lookupApp: {}}
	r.appOrder = []uint64{lookupApp}
	r.pendingLookups = make(map[guid.ID]*pendingLookup)
	if r.rtts, err = lru.New(rttCacheSize); err != nil {
		return nil, err
	}

	seen := map[Addr]bool{addr: true}
	for _, gw := range cfg.Gateways {
		if !seen[gw] {
			seen[gw] = true
			r.gateways = append(r.gateways, gw)
		}
	}

	capacity := cfg.DownNodesCap
	if cfg.ImmediateJoin && len(r.gateways) < capacity {
		capacity = len(r.gateways)
	}
	if capacity > 0 {
		r.downNodes, _ = lru.New(capacity)
	}
	if r.nodeDB != nil {
		for _, ni := range r.nodeDB.Seeds(r.exec.Now(), nodeDBExpiration) {
			if ni.Addr != addr {
				r.addToDownNodes(ni.Addr)
			}
		}
	}
	if cfg.ImmediateJoin {
		for _, gw := range r.gateways {
			r.addToDownNodes(gw)
		}
		r.gateways = nil
	}

	tr.SetHandler(r.HandleMessage)
	return r, nil
}

func chooseGUID(cfg Config, addr Addr) (guid.ID, error) {
	switch {
	case cfg.ExplicitGUID != "":
		id, err := guid.Parse(cfg.ExplicitGUID)
		return id, errors.Wrapf(err, "explicit guid %q", cfg.ExplicitGUID)
	case len(cfg.NodeKey) > 0:
		return guid.FromHash(cfg.NodeKey), nil
	}
	return guid.FromHash([]byte(addr)), nil
}

// Start begins joining the ring.
func (r *Router) Start() {
	r.exec.Post(r.ready)
}

// Stop silences the router: queued messages and alarms become no-ops.
func (r *Router) Stop() {
	r.exec.Post(func() { r.stopped = true })
}

// Self returns the local node.
func (r *Router) Self() NeighborInfo { return r.self }

// ID returns the local node's guid.
func (r *Router) ID() guid.ID { return r.self.ID }

// Info returns the parameters of the identifier space.
func (r *Router) Info() Info {
	return Info{
		ID:             r.self.ID,
		Addr:           r.self.Addr,
		ModulusBits:    guid.Bits,
		DigitsPerID:    r.digits.Count(),
		ValuesPerDigit: r.digits.Values(),
	}
}

// Initialized reports whether the router has joined the ring.
func (r *Router) Initialized() bool { return r.initialized }

// LeafSet returns the live leaf set. Callers must not modify it.
func (r *Router) LeafSet() *LeafSet { return r.ls }

// RoutingTable returns the live routing table. Callers must not modify it.
func (r *Router) RoutingTable() *RoutingTable { return r.rt }

// ReverseRoutingTable lists the nodes that announced us in their routing
// table.
func (r *Router) ReverseRoutingTable() []NeighborInfo { return r.rrt.list() }

// Snapshot is a JSON friendly copy of the router state.
type Snapshot struct {
	Self                NeighborInfo     `json:"self"`
	Initialized         bool             `json:"initialized"`
	Uptime              string           `json:"uptime"`
	Preds               []NeighborInfo   `json:"preds"`
	Succs               []NeighborInfo   `json:"succs"`
	RoutingTable        [][]RoutingEntry `json:"routing_table"`
	ReverseRoutingTable []NeighborInfo   `json:"reverse_routing_table"`
	PossiblyDown        []NeighborInfo   `json:"possibly_down"`
	DownNodes           []Addr           `json:"down_nodes"`
	LocationCache       []NeighborInfo   `json:"location_cache"`
}

// Snapshot copies the current state.
func (r *Router) Snapshot() Snapshot {
	s := Snapshot{
		Self:                r.self,
		Initialized:         r.initialized,
		Preds:               r.ls.Preds(),
		Succs:               r.ls.Succs(),
		ReverseRoutingTable: r.rrt.list(),
		DownNodes:           r.downNodeList(),
		LocationCache:       r.lc.List(),
	}
	if !r.startTime.IsZero() {
		s.Uptime = r.exec.Now().Sub(r.startTime).String()
	}
	for level := 0; level <= r.rt.Highest(); level++ {
		s.RoutingTable = append(s.RoutingTable, r.rt.Level(level))
	}
	for ni := range r.possiblyDown {
		s.PossiblyDown = append(s.PossiblyDown, ni)
	}
	sortNeighbors(s.PossiblyDown)
	return s
}

// HandleMessage is the transport handler. It may be called from any
// goroutine.
func (r *Router) HandleMessage(from Addr, msg Message) {
	r.exec.Post(func() {
		if !r.stopped {
			r.handle(from, msg)
		}
	})
}

func (r *Router) handle(from Addr, msg Message) {
	switch m := msg.(type) {
	case *Ping:
		// The transport acknowledged it already.
	case *JoinResp:
		r.handleJoinResp(from, m)
	case *RoutingNeighborAnnounce:
		r.handleAnnounce(from, m)
	default:
		r.whenInitialized(func() { r.handleJoined(from, msg) })
	}
}

// handleJoined handles the messages that wait for the join to finish.
func (r *Router) handleJoined(from Addr, msg Message) {
	switch m := msg.(type) {
	case *JoinReq:
		r.handleJoinReq(from, m)
	case *LeafSetReq:
		r.handleLeafSetReq(from)
	case *LeafSetChanged:
		r.handleLeafSetChanged(from, m)
	case *RoutingTableReq:
		r.handleRoutingTableReq(from, m)
	case *RoutingTableResp:
		r.handleRoutingTableResp(from, m)
	case *RouteMsg:
		r.handleRouteMsg(from, m)
	case *LookupResp:
		r.handleLookupResp(from, m)
	default:
		r.logger.Debug("Unexpected message", "from", from, "kind", msg.Kind())
	}
}

// whenInitialized runs fn now if the router has joined, or queues it until
// it has.
func (r *Router) whenInitialized(fn func()) {
	if r.initialized {
		fn()
		return
	}
	r.waitq = append(r.waitq, fn)
}

func (r *Router) setInitialized() {
	r.initialized = true
	waitq := r.waitq
	r.waitq = nil
	for _, fn := range waitq {
		fn()
	}

	r.schedule(r.randomPeriod(r.cfg.LeafSetAlarmPeriod), r.leafSetAlarm)
	if p := r.cfg.PartitionCheckAlarmPeriod; p != 0 {
		var wait time.Duration
		if !r.cfg.ImmediateJoin {
			wait = r.randomPeriod(p)
		}
		r.schedule(wait, r.partitionCheckAlarm)
	}
	if p := r.cfg.NearRTAlarmPeriod; p != 0 {
		r.schedule(r.randomPeriod(p), r.nearRoutingTableAlarm)
	}
	if p := r.cfg.FarRTAlarmPeriod; p != 0 {
		r.schedule(r.randomPeriod(p), r.farRoutingTableAlarm)
	}
	if p := r.cfg.LookupRTAlarmPeriod; p != 0 {
		r.schedule(r.randomPeriod(p), r.lookupRoutingTableAlarm)
	}
	if r.nodeDB != nil {
		r.schedule(nodeDBCleanupCycle, r.expireNodeDB)
	}
}

// schedule runs fn on the executor after d unless the router was stopped.
func (r *Router) schedule(d time.Duration, fn func()) {
	r.exec.AfterFunc(d, func() {
		if !r.stopped {
			fn()
		}
	})
}

// randomPeriod jitters mean uniformly over [mean/2, 3*mean/2).
func (r *Router) randomPeriod(mean time.Duration) time.Duration {
	if mean <= 0 {
		return 0
	}
	return mean/2 + time.Duration(r.rand.Int63n(int64(mean)))
}

// send transmits msg. With a nil done the message is fire-and-forget;
// otherwise done runs on the executor once the peer acknowledged it or
// timeout passed.
func (r *Router) send(to Addr, msg Message, timeout time.Duration, done DoneFunc) {
	if done == nil {
		r.net.Send(to, msg, 0, nil)
		return
	}
	r.net.Send(to, msg, timeout, func(rtt time.Duration, err error) {
		r.exec.Post(func() {
			if err == nil {
				r.observeRTT(to, rtt)
			}
			if !r.stopped {
				done(rtt, err)
			}
		})
	})
}

func (r *Router) observeRTT(addr Addr, rtt time.Duration) {
	if v, ok := r.rtts.Get(addr); ok {
		rtt = (7*v.(time.Duration) + rtt) / 8
	}
	r.rtts.Add(addr, rtt)
}

// estimatedRTT returns the smoothed round trip time to addr.
func (r *Router) estimatedRTT(addr Addr) (time.Duration, bool) {
	v, ok := r.rtts.Peek(addr)
	if !ok {
		return 0, false
	}
	return v.(time.Duration), true
}

func (r *Router) updateGauges() {
	r.metrics.LeafSetSize.Set(float64(len(r.ls.Set())))
	r.metrics.RoutingTableSize.Set(float64(r.rt.Size()))
	r.metrics.ReverseRoutingTableSize.Set(float64(r.rrt.len()))
	r.metrics.PossiblyDown.Set(float64(len(r.possiblyDown)))
	if r.downNodes != nil {
		r.metrics.DownNodes.Set(float64(r.downNodes.Len()))
	}
}
