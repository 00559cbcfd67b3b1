// Package main provides the snapsync CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "snapsync",
	Short: "Push file snapshots into a GitHub repository",
	Long: `snapsync synchronizes a workspace's files into a GitHub repository by
building Git's object graph directly through the REST API.

Core features:
  - Diffs the workspace against the remote tree (or a local cache)
  - Creates only the blobs that changed, with bounded concurrency
  - Rate-limit aware: paces calls and waits out quota resets
  - Bootstraps missing or empty destination repositories
  - Commits atomically with fast-forward conflict detection

Destination settings live in .snapsync/config.json; the GitHub token comes
from GITHUB_TOKEN, a .env file, or ~/.config/snapsync/config.yml.
All commands output JSON by default for automation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.Version = Version
}
