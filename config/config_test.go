package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

func TestDefaultConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	assert.NotNil(cfg.Router)
	assert.NotNil(cfg.P2P)
	assert.NoError(cfg.ValidateBasic())

	// check the root dir stuff...
	cfg.SetRoot("/foo")
	cfg.NodeKey = "/opt/data"
	cfg.DBPath = "data"
	assert.Equal("/opt/data", cfg.NodeKeyFile())
	assert.Equal("/foo/data", cfg.DBDir())
	assert.Equal("/foo/log", cfg.LogDir())
}

func TestValidateBasic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.ExplicitGUID = "1f"
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Router.Gateways = []string{""}
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.P2P.MaxPacketBurst = 0
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.DBBackend = "cleveldb"
	assert.Error(t, cfg.ValidateBasic())
}

func TestPastryConfig(t *testing.T) {
	rc := DefaultRouterConfig()
	rc.Gateways = []string{"10.0.0.1:7000", "10.0.0.2:7000"}
	rc.ExplicitGUID = "0xab"
	rc.PastryMode = true

	pc := rc.PastryConfig([]byte{1, 2, 3})
	def := pastry.DefaultConfig()
	assert.Equal(t, def.LeafSetSize, pc.LeafSetSize)
	assert.Equal(t, def.PeriodicPingPeriod, pc.PeriodicPingPeriod)
	assert.Equal(t, []pastry.Addr{"10.0.0.1:7000", "10.0.0.2:7000"}, pc.Gateways)
	assert.Equal(t, "0xab", pc.ExplicitGUID)
	assert.Equal(t, []byte{1, 2, 3}, pc.NodeKey)
	assert.True(t, pc.PastryMode)
}

func TestEnsureRoot(t *testing.T) {
	require := require.New(t)

	tmpDir, err := ioutil.TempDir("", "config-test")
	require.NoError(err)
	defer os.RemoveAll(tmpDir)

	EnsureRoot(tmpDir, nil)

	data, err := ioutil.ReadFile(filepath.Join(tmpDir, defaultConfigFilePath))
	require.NoError(err)
	assert.True(t, strings.Contains(string(data), "[router]"))

	// the written file is plain TOML
	var parsed map[string]interface{}
	_, err = toml.Decode(string(data), &parsed)
	require.NoError(err)
	assert.Contains(t, parsed, "p2p")

	for _, dir := range []string{defaultConfigDir, defaultDataDir, defaultLogDir} {
		info, err := os.Stat(filepath.Join(tmpDir, dir))
		require.NoError(err)
		assert.True(t, info.IsDir())
	}
}

func TestConfigFileRoundTripsThroughViper(t *testing.T) {
	cfg := ResetTestRoot("viper")
	defer os.RemoveAll(cfg.RootDir)

	written := TestConfig()
	written.Router.Gateways = []string{"10.0.0.1:7000", "10.0.0.2:7000"}
	written.Router.ExplicitGUID = "0x1f"
	written.Router.LookupRTAlarmPeriod = 90 * time.Second
	written.Router.RTScale = 0.5
	written.Instrumentation.Prometheus = true
	WriteConfigFile(ConfigFile(cfg.RootDir), written)

	v := viper.New()
	v.SetConfigFile(ConfigFile(cfg.RootDir))
	require.NoError(t, v.ReadInConfig())

	got := DefaultConfig()
	require.NoError(t, v.Unmarshal(got))

	assert.Equal(t, written.Router.Gateways, got.Router.Gateways)
	assert.Equal(t, "0x1f", got.Router.ExplicitGUID)
	assert.Equal(t, 90*time.Second, got.Router.LookupRTAlarmPeriod)
	assert.Equal(t, time.Second, got.Router.PeriodicPingPeriod)
	assert.Equal(t, 0.5, got.Router.RTScale)
	assert.Equal(t, written.P2P.ListenAddress, got.P2P.ListenAddress)
	assert.Equal(t, written.P2P.MaxPacketRate, got.P2P.MaxPacketRate)
	assert.Equal(t, "memdb", got.DBBackend)
	assert.True(t, got.Instrumentation.Prometheus)
	assert.NoError(t, got.ValidateBasic())
}
