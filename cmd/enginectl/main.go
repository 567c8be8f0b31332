// Command enginectl is a small operator CLI over the engine RPC boundary
// and the version store, wiring pkg/client to an in-process dispatcher
// (cmd/enginectl/engine.go) for smoke use without a real wasm-hosted
// worker, and to any configured store.Store backend for inspecting
// version history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "enginectl",
		Short: "Operate the formula engine's RPC boundary and version store",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		pingCmd(),
		cellCmd(),
		recalculateCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadCmdConfig() (Config, error) {
	return loadConfig(configFile)
}
