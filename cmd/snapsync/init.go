package main

import (
	"os"

	"github.com/matsen/snapsync/internal/config"
	"github.com/matsen/snapsync/internal/github"
	"github.com/spf13/cobra"
)

var initBranch string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initBranch, "branch", "b", config.DefaultBranch, "Destination branch")
}

var initCmd = &cobra.Command{
	Use:   "init <owner/repo | github url>",
	Short: "Create a snapsync workspace in the current directory",
	Long: `Write .snapsync/config.json pointing the current directory at a
destination repository.

Example:
  snapsync init matsen/notes
  snapsync init https://github.com/matsen/notes --branch drafts`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	owner, repo, err := github.ParseRepoURL(args[0])
	if err != nil {
		exitWithError(ExitError, "parsing destination %q: %v", args[0], err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}

	cfg := &config.Config{Owner: owner, Repo: repo, Branch: initBranch}
	if err := config.Save(cwd, cfg); err != nil {
		exitWithError(ExitError, "writing config: %v", err)
	}

	if humanOutput {
		outputHuman("Initialized snapsync workspace for %s/%s (branch %s)\n", owner, repo, initBranch)
		return nil
	}
	return outputJSON(StatusResponse{Status: "initialized", Path: config.ConfigPath(cwd)})
}
