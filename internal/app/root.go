// Package app wires the scoring pipeline into the pkgrisk CLI.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	registryURL string

	// RootCmd is the root command for pkgrisk
	RootCmd = &cobra.Command{
		Use:   "pkgrisk",
		Short: "Security-risk scoring for npm packages",
		Long: `pkgrisk assigns a 0-100 security-risk score to an npm package by
running independent heuristic rules against its registry metadata,
lifecycle scripts, version history, and tarball contents.

Score bands:
  >= 90  Safe
  >= 70  Review
  >= 50  High Risk
   < 50  Block

Examples:
  # Score the latest version of a package
  pkgrisk score left-pad

  # Score a specific version
  pkgrisk score left-pad@1.3.0

  # Score via Package URL
  pkgrisk score pkg:npm/@babel/core@7.24.0

  # Machine-readable output
  pkgrisk score left-pad --json

  # List the registered rules and weights
  pkgrisk rules`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	RootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "npm registry base URL override")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(scoreCmd)
	RootCmd.AddCommand(rulesCmd)
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
