// Package cli wires the command line surface: config loading, logger
// setup, and the run command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Snapshot-based change detection for database tables",
	Long: `driftwatch compares the current contents of configured tables
against state captured on the previous run and reports added, modified
and deleted rows. Detection state lives in object storage; change sets
can be exported as JSON or Parquet snapshots and published to a queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")
}

// Execute runs the root command and returns its error for main to map
// to an exit code.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Setup(level)
	return cfg, nil
}
