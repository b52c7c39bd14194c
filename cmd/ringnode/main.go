package main

import (
	"os"
	"path/filepath"

	cmd "github.com/lianxiangcloud/ringroute/cmd/commands"
	cfg "github.com/lianxiangcloud/ringroute/config"
	"github.com/lianxiangcloud/ringroute/libs/cli"
	nm "github.com/lianxiangcloud/ringroute/node"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.ResetAllCmd,
		cmd.ShowNodeIDCmd,
		cmd.LeafSetsCmd,
		cmd.SimulateCmd,
		cmd.VersionCmd,
	)

	// NOTE:
	// Users wishing to:
	//	* Provide their own DB implementation
	//	* Use another metrics backend
	// can copy this file and use something other than the
	// DefaultNewNode function
	nodeFunc := nm.DefaultNewNode

	// Create & start node
	rootCmd.AddCommand(cmd.NewRunNodeCmd(nodeFunc))

	cmd := cli.PrepareBaseCmd(rootCmd, "RR", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultNodeDir)))
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
