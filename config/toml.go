package config

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"text/template"

	cmn "github.com/lianxiangcloud/ringroute/libs/common"
)

var configTemplate *template.Template

func init() {
	var err error
	if configTemplate, err = template.New("configFileTemplate").Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, data and log directories if they
// don't exist, and panics if it fails.
func EnsureRoot(rootDir string, config *Config) {
	for _, dir := range []string{rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
		filepath.Join(rootDir, defaultLogDir),
	} {
		if err := cmn.EnsureDir(dir, 0700); err != nil {
			cmn.PanicSanity(err.Error())
		}
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)

	// Write default config file if missing.
	if !cmn.FileExists(configFilePath) {
		if config == nil {
			WriteConfigFile(configFilePath, DefaultConfig())
		} else {
			WriteConfigFile(configFilePath, config)
		}
	}
}

// ConfigFile returns the path of the config file under rootDir.
func ConfigFile(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteConfigFile renders config using the template and writes it to configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	cmn.MustWriteFile(configFilePath, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

##### main base config options #####

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Path to the JSON file containing the node's identity key
node_key_file = "{{ js .BaseConfig.NodeKey }}"

# Database backend: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_path = "{{ js .BaseConfig.DBPath }}"

# Database split counts
db_counts = {{ .BaseConfig.DBCounts }}

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Log directory
log_dir = "{{ js .BaseConfig.LogPath }}"

# TCP or UNIX socket address for the profiling server to listen on
pprof = "{{ .BaseConfig.ProfListenAddress }}"

##### overlay router configuration options #####
[router]

# Nodes kept on each side of the leaf set
leaf_set_size = {{ .Router.LeafSetSize }}

# Fraction of routing table levels filled before proximity matters
rt_scale = {{ .Router.RTScale }}

# Values per guid digit: 2, 4, 16 or 256
digit_values = {{ .Router.DigitValues }}

# Nodes remembered by the location cache, 0 disables it
location_cache_size = {{ .Router.LocationCacheSize }}

# Maintenance periods; "0s" disables the optional ones
periodic_ping_period = "{{ .Router.PeriodicPingPeriod }}"
ls_alarm_period = "{{ .Router.LeafSetAlarmPeriod }}"
near_rt_alarm_period = "{{ .Router.NearRTAlarmPeriod }}"
far_rt_alarm_period = "{{ .Router.FarRTAlarmPeriod }}"
partition_check_alarm_period = "{{ .Router.PartitionCheckAlarmPeriod }}"
lookup_rt_alarm_period = "{{ .Router.LookupRTAlarmPeriod }}"

# Lost neighbors remembered for partition checks
down_nodes_cap = {{ .Router.DownNodesCap }}

immediate_join = {{ .Router.ImmediateJoin }}
no_rexmit_routes = {{ .Router.NoRexmitRoutes }}
ignore_possibly_down = {{ .Router.IgnorePossiblyDown }}
ignore_proximity = {{ .Router.IgnoreProximity }}
pastry_mode = {{ .Router.PastryMode }}

# Fixed guid such as "0x1f"; empty derives it from the node key
explicit_guid = "{{ .Router.ExplicitGUID }}"

# Nodes to join through
gateways = [{{ range $i, $gw := .Router.Gateways }}{{ if $i }}, {{ end }}{{ printf "%q" $gw }}{{ end }}]

##### peer to peer configuration options #####
[p2p]

# Address to listen for incoming packets
laddr = "{{ .P2P.ListenAddress }}"

# Address to advertise to peers
# If empty, the listener's address is used.
external_address = "{{ .P2P.ExternalAddress }}"

# Forward the listen port on the internet gateway over UPnP
upnp = {{ .P2P.UPnP }}

# Inbound packets accepted per second, 0 - unlimited
max_packet_rate = {{ .P2P.MaxPacketRate }}
max_packet_burst = {{ .P2P.MaxPacketBurst }}

##### log configuration options #####
[log]

# Log file name, relative to log_dir; empty logs to stdout only
filename = "{{ .Log.Filename }}"

# terminal | logfmt | json
format = "{{ .Log.Format }}"

##### instrumentation configuration options #####
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
# Check out the documentation for the list of available metrics.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
# If you want to accept more significant number than the default, make sure
# you increase your OS limits.
# 0 - unlimited.
max_open_connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a fresh root under the temp dir with a test config
// written into it.
func ResetTestRoot(testName string) *Config {
	rootDir, err := ioutil.TempDir("", "ringroute_test_"+testName)
	if err != nil {
		cmn.PanicSanity(err.Error())
	}
	config := TestConfig().SetRoot(rootDir)
	EnsureRoot(rootDir, config)
	return config
}
