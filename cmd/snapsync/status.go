package main

import (
	"context"
	"sort"

	"github.com/matsen/snapsync/internal/github"
	"github.com/matsen/snapsync/internal/snapshot"
	"github.com/matsen/snapsync/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// StatusResult is the response for the status command.
type StatusResult struct {
	Counts   sync.Counts `json:"counts"`
	Added    []string    `json:"added,omitempty"`
	Modified []string    `json:"modified,omitempty"`
	Deleted  []string    `json:"deleted,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
	Warning  string      `json:"warning,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Classify workspace changes without syncing",
	Long: `Run snapshot normalization and change detection against the destination
branch and print the classification, without uploading anything.

Example:
  snapsync status --human`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	root := mustFindWorkspace()
	cfg := mustLoadConfig(root)
	gh := mustNewClient()

	ctx := context.Background()

	snap, err := snapshot.FromDir(root, cfg.Ignore)
	if err != nil {
		exitWithError(ExitError, "reading workspace: %v", err)
	}

	detector := sync.NewDetector(gh, github.NewRetryPolicy(gh.RateLimiter()))
	det, err := detector.Detect(ctx, cfg.Owner, cfg.Repo, cfg.Branch, snap, loadCachedState(root, cfg), false)
	if err != nil {
		exitWithError(ExitError, "detecting changes: %v", err)
	}

	result := StatusResult{Counts: det.Counts, Degraded: det.Degraded, Warning: det.Warning}
	for _, ch := range det.Changes {
		switch ch.Status {
		case sync.StatusAdded:
			result.Added = append(result.Added, ch.Path)
		case sync.StatusModified:
			result.Modified = append(result.Modified, ch.Path)
		case sync.StatusDeleted:
			result.Deleted = append(result.Deleted, ch.Path)
		}
	}
	sort.Strings(result.Added)
	sort.Strings(result.Modified)
	sort.Strings(result.Deleted)

	if !humanOutput {
		return outputJSON(result)
	}

	c := det.Counts
	outputHuman("+%d ~%d -%d =%d\n", c.Added, c.Modified, c.Deleted, c.Unchanged)
	for _, p := range result.Added {
		outputHuman("  A %s\n", p)
	}
	for _, p := range result.Modified {
		outputHuman("  M %s\n", p)
	}
	for _, p := range result.Deleted {
		outputHuman("  D %s\n", p)
	}
	if det.Degraded {
		outputHuman("warning: %s\n", det.Warning)
	}
	return nil
}
