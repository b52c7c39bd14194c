package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lianxiangcloud/ringroute/version"
)

// VersionCmd ...
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ringnode version: %s, gitCommit:%s \n", version.Version, version.GitCommit)
	},
}
