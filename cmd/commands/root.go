package commands

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/lianxiangcloud/ringroute/config"
	"github.com/lianxiangcloud/ringroute/libs/cli"
	"github.com/lianxiangcloud/ringroute/libs/log"
)

var (
	config  = cfg.DefaultConfig()
	logger  = log.Root()
	logOnce sync.Once
)

func init() {
	registerFlagsRootCmd(RootCmd)
	logger.SetHandler(log.StdoutHandler)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", config.LogLevel, "Log level")
	cmd.PersistentFlags().String("log.filename", config.Log.Filename, "Log file name, empty for stdout only")
	cmd.PersistentFlags().String("log.format", config.Log.Format, "Log file format: terminal | logfmt | json")
}

// ParseConfig retrieves the default environment configuration,
// sets up the root and ensures that the root exists
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	err := viper.Unmarshal(conf)
	if err != nil {
		return nil, err
	}
	conf.SetRoot(conf.RootDir)
	cfg.EnsureRoot(conf.RootDir, conf)
	if err := conf.ValidateBasic(); err != nil {
		return nil, err
	}
	return conf, nil
}

func logFormat(name string) log.Format {
	switch name {
	case "json":
		return log.JSONFormat()
	case "terminal":
		return log.TerminalFormat(false)
	}
	return log.LogfmtFormat()
}

// skipsSetup lists the commands that run without a node home.
var skipsSetup = map[string]bool{
	"version":  true,
	"leafsets": true,
	"simulate": true,
}

// RootCmd is the root command.
var RootCmd = &cobra.Command{
	Use:   "ringnode",
	Short: "Structured overlay routing node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if skipsSetup[cmd.Name()] {
			return nil
		}
		config, err = ParseConfig()
		if err != nil {
			return err
		}
		if config.Log.Filename != "" {
			if !filepath.IsAbs(config.Log.Filename) {
				config.Log.Filename = filepath.Join(config.LogDir(), config.Log.Filename)
			}
			if err := os.MkdirAll(filepath.Dir(config.Log.Filename), 0755); err != nil {
				return err
			}
			logOnce.Do(func() {
				fileHandler, _, err := log.FileHandler(config.Log.Filename, logFormat(config.Log.Format))
				if err != nil {
					logger.Error("Failed to open log file", "err", err)
					return
				}
				logger.SetHandler(log.MultiHandler(log.StdoutHandler, fileHandler))
			})
		}
		logger, err = log.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel())
		if err != nil {
			return err
		}
		if viper.GetBool(cli.TraceFlag) {
			logger = log.NewTracingLogger(logger)
		}
		logger = logger.With("module", "main")
		return nil
	},
}
