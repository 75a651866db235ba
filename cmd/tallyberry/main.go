// Command tallyberry runs the vote ledger server and its maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = "unknown"
)

const appName = "tallyberry"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Weighted vote ledger with per-key leader determination",
		Long: `Tallyberry records weighted votes on proposed values for the item keys of
a project and keeps, for every key, the leading candidate: the one that
has reached both the participant quorum and the points threshold with the
most weight.

Configuration is read from a YAML file (--config) with TALLYBERRY_*
environment overrides.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(&configPath),
		verifyCmd(&configPath),
		leaderCmd(&configPath),
		journalCmd(&configPath),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, version, buildTime)
		},
	}
}
