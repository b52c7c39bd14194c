package commands

import (
	"github.com/spf13/cobra"

	cmn "github.com/lianxiangcloud/ringroute/libs/common"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

func init() {
	InitFilesCmd.Flags().String("node_key_file", config.BaseConfig.NodeKey, "Path to the node key")
	InitFilesCmd.Flags().String("db_backend", config.BaseConfig.DBBackend, "db backend, support goleveldb and memdb")
	InitFilesCmd.Flags().String("db_path", config.BaseConfig.DBPath, "db path for goleveldb backend")
	InitFilesCmd.Flags().StringSlice("router.gateways", config.Router.Gateways, "Nodes to join through, host:port")
}

// InitFilesCmd initialises a fresh node home: the config file and the
// node key.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the node home",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	// the config file was written by ParseConfig
	keyFile := config.NodeKeyFile()
	existed := cmn.FileExists(keyFile)
	nodeKey, err := pastry.LoadOrGenNodeKey(keyFile)
	if err != nil {
		return err
	}
	if existed {
		logger.Info("Found node key", "path", keyFile, "guid", nodeKey.GUID())
	} else {
		logger.Info("Generated node key", "path", keyFile, "guid", nodeKey.GUID())
	}
	return nil
}
