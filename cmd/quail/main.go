// Package main provides the quail CLI, a scriptable API collection
// runner. Collections are yaml documents whose requests carry
// JavaScript hooks; each hook runs in an isolated sandbox with a
// capability-limited bru surface.
//
// Usage:
//
//	quail run                    # Run the collection sequence
//	quail run <request>          # Run a single named request
//	quail run --env staging      # Select an environment
//	quail run --watch            # Re-run when collection files change
//	quail console                # Interactive sandbox session
//	quail history                # List recorded runs
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set via ldflags during build: -ldflags="-X main.version=v1.0.0"
var version = "dev"

// Global flags
var (
	configFile string
	verbose    bool
)

// newLogger builds the CLI logger: Nop unless --verbose is set.
func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "quail",
		Short:   "Scriptable API collection runner",
		Long:    `Quail runs yaml API collections whose requests carry JavaScript hooks, each evaluated in an isolated capability-limited sandbox.`,
		Version: version,
	}

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "quail.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		runCmd(),
		consoleCmd(),
		historyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
