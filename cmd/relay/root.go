package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/relay/internal/cli"
	"github.com/aretw0/relay/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay coordinates a coordinator and its workers over durable sessions",
	Long: `Relay routes each query to a coordinator that hands tasks off to registered workers,
checkpoints every message of the session, and streams the execution as events.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "relay.yaml", "Configuration file (missing file keeps defaults)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log every step, handoff and worker return")
	rootCmd.PersistentFlags().String("workers", "", "Directory of the worker catalog (overrides workers.dir)")
	rootCmd.PersistentFlags().String("store", "", "Checkpoint store driver: memory, file, redis or sqlite (overrides store.driver)")
}

// loadConfig reads the configuration file, then environment, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dir, _ := cmd.Flags().GetString("workers"); dir != "" {
		cfg.Workers.Dir = dir
	}
	if driver, _ := cmd.Flags().GetString("store"); driver != "" {
		cfg.Store.Driver = driver
	}
	return cfg, cfg.Validate()
}

// buildRuntime wires the engine for a command. Callers must Close it.
func buildRuntime(cmd *cobra.Command) (*cli.Runtime, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")

	rt, err := cli.Build(cmd.Context(), cfg, cli.Options{Debug: debug})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == config.DriverMemory && cmd.Parent() != nil && cmd.Parent().Name() == "session" {
		rt.Logger.Warn("The memory store does not outlive this command; configure store.driver to keep sessions")
	}
	return rt, cfg, nil
}
