package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tubepilot.app/internal/config"
	"tubepilot.app/internal/obs"
)

var (
	configPath string
	verbose    bool
)

// rootCmd is the operator CLI.
var rootCmd = &cobra.Command{
	Use:   "tubepilotctl",
	Short: "Operate a TubePilot deployment",
	Long: `tubepilotctl inspects and exercises a TubePilot deployment using the
same configuration file and environment as the server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		if l, err := obs.NewLogger(level); err == nil {
			obs.SetLogger(l)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.PathFromEnv(), "Path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(panelCmd)
	rootCmd.AddCommand(healthCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

func logger() *zap.Logger { return obs.Logger() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
