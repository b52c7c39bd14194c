package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

// ShowNodeIDCmd dumps the node's guid to the standard output.
var ShowNodeIDCmd = &cobra.Command{
	Use:   "show_node_id",
	Short: "Show this node's guid",
	RunE:  showNodeID,
}

func showNodeID(cmd *cobra.Command, args []string) error {
	var id guid.ID
	switch {
	case config.Router.ExplicitGUID != "":
		parsed, err := guid.Parse(config.Router.ExplicitGUID)
		if err != nil {
			return err
		}
		id = parsed
	default:
		nodeKey, err := pastry.LoadNodeKey(config.NodeKeyFile())
		if err != nil {
			return err
		}
		id = nodeKey.GUID()
	}
	fmt.Println(id.Hex())
	return nil
}
