package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// ResetAllCmd removes the database of remembered neighbors. The node key
// and config are kept.
var ResetAllCmd = &cobra.Command{
	Use:   "unsafe_reset_all",
	Short: "(unsafe) Remove the neighbor database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbDir := config.DBDir()
		if err := os.RemoveAll(dbDir); err != nil {
			logger.Error("Error removing database", "dir", dbDir, "err", err)
			return err
		}
		logger.Info("Removed database", "dir", dbDir)
		return nil
	},
}
