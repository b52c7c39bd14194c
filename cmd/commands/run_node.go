package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	nm "github.com/lianxiangcloud/ringroute/node"
)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a node
func AddNodeFlags(cmd *cobra.Command) {
	// bind flags
	cmd.Flags().String("moniker", config.BaseConfig.Moniker, "Node Name")

	// node flags
	cmd.Flags().String("pprof", config.BaseConfig.ProfListenAddress, "The http pprof server address")
	cmd.Flags().String("node_key_file", config.BaseConfig.NodeKey, "Path to the node key")

	// router flags
	cmd.Flags().StringSlice("router.gateways", config.Router.Gateways, "Nodes to join through, host:port")
	cmd.Flags().String("router.explicit_guid", config.Router.ExplicitGUID, "Fixed guid such as 0x1f instead of the one derived from the node key")
	cmd.Flags().Int("router.leaf_set_size", config.Router.LeafSetSize, "Nodes kept on each side of the leaf set")
	cmd.Flags().Int("router.digit_values", config.Router.DigitValues, "Values per guid digit: 2, 4, 16 or 256")
	cmd.Flags().Int("router.location_cache_size", config.Router.LocationCacheSize, "Location cache capacity, 0 disables it")
	cmd.Flags().Bool("router.immediate_join", config.Router.ImmediateJoin, "Initialize alone and find the gateways through partition checks")
	cmd.Flags().Bool("router.pastry_mode", config.Router.PastryMode, "Forward by the routing table before the leaf set")
	cmd.Flags().Bool("router.ignore_proximity", config.Router.IgnoreProximity, "Pick routing table entries without looking at latency")

	// p2p flags
	cmd.Flags().String("p2p.laddr", config.P2P.ListenAddress, "Node listen address. (0.0.0.0:0 means any interface, any port)")
	cmd.Flags().String("p2p.external_address", config.P2P.ExternalAddress, "Address advertised to peers")
	cmd.Flags().Bool("p2p.upnp", config.P2P.UPnP, "Forward the listen port on the internet gateway")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", config.Instrumentation.Prometheus, "Serve metrics and router state over HTTP")
	cmd.Flags().String("instrumentation.prometheus_listen_addr", config.Instrumentation.PrometheusListenAddr, "Metrics listen address")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
// It can be used with a custom node provider.
func NewRunNodeCmd(nodeProvider nm.NodeProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Create & start node
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("Failed to create node: %v", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("Failed to start node: %v", err)
			}
			logger.Info("Started node", "moniker", config.Moniker, "addr", n.Addr(), "guid", n.Router().ID())

			// Trap signal, run forever.
			n.RunForever()

			return nil
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
