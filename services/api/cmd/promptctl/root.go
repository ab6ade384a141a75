package main

import (
	"github.com/spf13/cobra"

	"promptapi/internal/util"
	"promptapi/services/api/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "promptctl",
	Short: "Operator commands for the prompt gallery API",
	Long: `promptctl runs one-off maintenance tasks against the same store,
Redis and token settings the API server uses.

Examples:
  promptctl seed-superadmin --username root --password 's3cret-pass'
  promptctl check-db`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", config.ConfigPath, "config file",
	)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(checkDBCmd)
}

// loadConfig reads .env and the config file, then sets up logging.
func loadConfig() (config.FileConfig, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.FileConfig{}, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.FileConfig{}, err
	}
	util.InitLogger(cfg.LogLevel)
	return cfg, nil
}
