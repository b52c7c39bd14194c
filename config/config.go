package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultNodeDir   = ".ringroute"
	defaultConfigDir = "config"
	defaultDataDir   = "data"
	defaultLogDir    = "log"

	defaultLogFileName    = "ringroute.log"
	defaultConfigFileName = "config.toml"
	defaultNodeKeyName    = "node_key.json"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultNodeKeyPath    = filepath.Join(defaultConfigDir, defaultNodeKeyName)
)

// Config defines the top level configuration for a node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Router          *RouterConfig          `mapstructure:"router"`
	P2P             *P2PConfig             `mapstructure:"p2p"`
	Log             *LogConfig             `mapstructure:"log"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Router:          DefaultRouterConfig(),
		P2P:             DefaultP2PConfig(),
		Log:             DefaultLogConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Router:          TestRouterConfig(),
		P2P:             TestP2PConfig(),
		Log:             DefaultLogConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any
// check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Router.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [router] section")
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [p2p] section")
	}
	if err := cfg.Log.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [log] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Path to the JSON file containing the node's identity key
	NodeKey string `mapstructure:"node_key_file"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// TCP or UNIX socket address for the profiling server to listen on
	ProfListenAddress string `mapstructure:"pprof"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_path"`

	// Database split counts
	DBCounts uint64 `mapstructure:"db_counts"`

	// LogPath directory
	LogPath string `mapstructure:"log_dir"`
}

// DefaultBaseConfig returns a default base configuration for a node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		NodeKey:   defaultNodeKeyPath,
		LogLevel:  DefaultPackageLogLevels(),
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
		DBCounts:  1,
		LogPath:   defaultLogDir,
	}
}

// TestBaseConfig returns a base configuration for testing a node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "ringroute_test"
	cfg.DBBackend = "memdb"
	return cfg
}

// ValidateBasic checks the base section.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.DBBackend {
	case "goleveldb", "leveldb", "memdb":
	default:
		return errors.Errorf("unknown db_backend %q", cfg.DBBackend)
	}
	if cfg.DBCounts == 0 {
		return errors.New("db_counts must be positive")
	}
	return nil
}

// NodeKeyFile returns the full path to the node_key.json file
func (cfg BaseConfig) NodeKeyFile() string {
	return rootify(cfg.NodeKey, cfg.RootDir)
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// LogDir returns the full path to the log directory
func (cfg BaseConfig) LogDir() string {
	return rootify(cfg.LogPath, cfg.RootDir)
}

// DefaultLogLevel returns a default log level of "info"
func DefaultLogLevel() string {
	return "info"
}

// DefaultPackageLogLevels returns a default log level setting so all packages
// log at "info", while the `pastry` module logs at "info" too but can be
// raised on its own.
func DefaultPackageLogLevels() string {
	return fmt.Sprintf("main:info,pastry:info,*:%s", DefaultLogLevel())
}

//-----------------------------------------------------------------------------
// RouterConfig

var explicitGUIDRe = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// RouterConfig defines the parameters of the overlay router.
type RouterConfig struct {
	// Number of nodes kept on each side of the leaf set
	LeafSetSize int `mapstructure:"leaf_set_size"`

	// Fraction of routing table levels that are filled before proximity
	// starts to matter
	RTScale float64 `mapstructure:"rt_scale"`

	// Values per guid digit: 2, 4, 16 or 256
	DigitValues int `mapstructure:"digit_values"`

	// Nodes remembered by the location cache; 0 disables it
	LocationCacheSize int `mapstructure:"location_cache_size"`

	PeriodicPingPeriod        time.Duration `mapstructure:"periodic_ping_period"`
	LeafSetAlarmPeriod        time.Duration `mapstructure:"ls_alarm_period"`
	NearRTAlarmPeriod         time.Duration `mapstructure:"near_rt_alarm_period"`
	FarRTAlarmPeriod          time.Duration `mapstructure:"far_rt_alarm_period"`
	PartitionCheckAlarmPeriod time.Duration `mapstructure:"partition_check_alarm_period"`
	LookupRTAlarmPeriod       time.Duration `mapstructure:"lookup_rt_alarm_period"`

	// Capacity of the set of lost neighbors used by partition checks
	DownNodesCap int `mapstructure:"down_nodes_cap"`

	ImmediateJoin      bool `mapstructure:"immediate_join"`
	NoRexmitRoutes     bool `mapstructure:"no_rexmit_routes"`
	IgnorePossiblyDown bool `mapstructure:"ignore_possibly_down"`
	IgnoreProximity    bool `mapstructure:"ignore_proximity"`
	PastryMode         bool `mapstructure:"pastry_mode"`

	// Fixed guid for this node, e.g. 0x1f; empty derives it from the node key
	ExplicitGUID string `mapstructure:"explicit_guid"`

	// Nodes to join through, as host:port
	Gateways []string `mapstructure:"gateways"`
}

// DefaultRouterConfig returns the default router parameters.
func DefaultRouterConfig() *RouterConfig {
	d := pastry.DefaultConfig()
	return &RouterConfig{
		LeafSetSize:               d.LeafSetSize,
		RTScale:                   d.RTScale,
		DigitValues:               d.DigitValues,
		LocationCacheSize:         d.LocationCacheSize,
		PeriodicPingPeriod:        d.PeriodicPingPeriod,
		LeafSetAlarmPeriod:        d.LeafSetAlarmPeriod,
		NearRTAlarmPeriod:         d.NearRTAlarmPeriod,
		FarRTAlarmPeriod:          d.FarRTAlarmPeriod,
		PartitionCheckAlarmPeriod: d.PartitionCheckAlarmPeriod,
		LookupRTAlarmPeriod:       d.LookupRTAlarmPeriod,
		DownNodesCap:              d.DownNodesCap,
		Gateways:                  []string{},
	}
}

// TestRouterConfig returns router parameters for fast tests.
func TestRouterConfig() *RouterConfig {
	cfg := DefaultRouterConfig()
	cfg.PeriodicPingPeriod = time.Second
	cfg.LeafSetAlarmPeriod = 200 * time.Millisecond
	cfg.NearRTAlarmPeriod = 500 * time.Millisecond
	cfg.FarRTAlarmPeriod = time.Second
	cfg.PartitionCheckAlarmPeriod = 3 * time.Second
	return cfg
}

// ValidateBasic checks the router section.
func (cfg *RouterConfig) ValidateBasic() error {
	if cfg.ExplicitGUID != "" && !explicitGUIDRe.MatchString(cfg.ExplicitGUID) {
		return errors.Errorf("explicit_guid %q is not a 0x prefixed hex number", cfg.ExplicitGUID)
	}
	for _, gw := range cfg.Gateways {
		if gw == "" {
			return errors.New("empty gateway address")
		}
	}
	return nil
}

// PastryConfig converts the section to router parameters. nodeKey may be
// nil.
func (cfg *RouterConfig) PastryConfig(nodeKey []byte) pastry.Config {
	gateways := make([]pastry.Addr, len(cfg.Gateways))
	for i, gw := range cfg.Gateways {
		gateways[i] = pastry.Addr(gw)
	}
	return pastry.Config{
		LeafSetSize:               cfg.LeafSetSize,
		RTScale:                   cfg.RTScale,
		DigitValues:               cfg.DigitValues,
		LocationCacheSize:         cfg.LocationCacheSize,
		PeriodicPingPeriod:        cfg.PeriodicPingPeriod,
		LeafSetAlarmPeriod:        cfg.LeafSetAlarmPeriod,
		NearRTAlarmPeriod:         cfg.NearRTAlarmPeriod,
		FarRTAlarmPeriod:          cfg.FarRTAlarmPeriod,
		PartitionCheckAlarmPeriod: cfg.PartitionCheckAlarmPeriod,
		LookupRTAlarmPeriod:       cfg.LookupRTAlarmPeriod,
		DownNodesCap:              cfg.DownNodesCap,
		ImmediateJoin:             cfg.ImmediateJoin,
		NoRexmitRoutes:            cfg.NoRexmitRoutes,
		IgnorePossiblyDown:        cfg.IgnorePossiblyDown,
		IgnoreProximity:           cfg.IgnoreProximity,
		PastryMode:                cfg.PastryMode,
		ExplicitGUID:              cfg.ExplicitGUID,
		NodeKey:                   nodeKey,
		Gateways:                  gateways,
	}
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the configuration options for the UDP transport
type P2PConfig struct {
	// Address to listen for incoming packets
	ListenAddress string `mapstructure:"laddr"` //ip:port

	// Address to advertise to peers. It must be reachable by them; the
	// router's identity is this address unless a node key or explicit
	// guid is used.
	ExternalAddress string `mapstructure:"external_address"` //ip:port

	// Ask the internet gateway to forward the listen port over UPnP and
	// advertise the mapped address. Ignored when ExternalAddress is set.
	UPnP bool `mapstructure:"upnp"`

	// Inbound packets accepted per second, 0 - unlimited
	MaxPacketRate float64 `mapstructure:"max_packet_rate"`

	// Burst of inbound packets allowed above the rate
	MaxPacketBurst int `mapstructure:"max_packet_burst"`
}

// DefaultP2PConfig returns a default configuration for the transport
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		ListenAddress:  "0.0.0.0:13500",
		MaxPacketRate:  2000,
		MaxPacketBurst: 200,
	}
}

// TestP2PConfig returns a configuration for testing the transport
func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	return cfg
}

// ValidateBasic checks the p2p section.
func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.ListenAddress == "" {
		return errors.New("laddr is required")
	}
	if cfg.MaxPacketRate < 0 || cfg.MaxPacketBurst < 0 {
		return errors.New("max_packet_rate and max_packet_burst can't be negative")
	}
	if cfg.MaxPacketRate > 0 && cfg.MaxPacketBurst == 0 {
		return errors.New("max_packet_burst must be positive when max_packet_rate is set")
	}
	return nil
}

//-----------------------------------------------------------------------------
// LogConfig

// LogConfig defines where log records go.
type LogConfig struct {
	// Log file name, relative to log_dir. Empty logs to stdout only.
	Filename string `mapstructure:"filename"`

	// Format of the file: terminal | logfmt | json
	Format string `mapstructure:"format"`
}

// DefaultLogConfig logs to a file in logfmt.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Filename: defaultLogFileName,
		Format:   "logfmt",
	}
}

// ValidateBasic checks the log section.
func (cfg *LogConfig) ValidateBasic() error {
	switch cfg.Format {
	case "terminal", "logfmt", "json":
		return nil
	}
	return errors.Errorf("unknown log format %q", cfg.Format)
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	// Check out the documentation for the list of available metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Maximum number of simultaneous connections.
	// If you want to accept more significant number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Instrumentation namespace
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "ringroute",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
