package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - rate-limit admission service",
	Long: `Gatekeeper is a rate-limit admission service built on fixed-window
counters.

It exposes an HTTP API that decides, per credential and endpoint, whether
a request may proceed right now:
  - Fixed-window quotas per scope (credential, sub-identity, endpoint)
  - Pluggable counter stores (memory, SQLite, Redis)
  - An append-only usage ledger with scheduled retention
  - Usage statistics per credential and service-wide`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
