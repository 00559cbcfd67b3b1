package sync

import (
	"context"
	"fmt"

	"github.com/matsen/snapsync/internal/github"
)

// DefaultCommitMessage is used when the caller supplies none.
const DefaultCommitMessage = "Sync snapshot"

// Committer creates commit objects and moves branch refs.
type Committer struct {
	gh    *github.Client
	retry *github.RetryPolicy
}

// NewCommitter creates a committer over the given client.
func NewCommitter(gh *github.Client, retry *github.RetryPolicy) *Committer {
	return &Committer{gh: gh, retry: retry}
}

// Commit creates the tree and commit objects for plan's entries and moves
// the branch head. With an empty parent sha it creates a root commit and a
// new ref; otherwise the ref update is fast-forward-only against the
// captured parent, and a moved ref surfaces as IsConflict for the
// orchestrator's retry loop. Each call retries transient failures; a
// conflict is permanent and returns immediately.
func (c *Committer) Commit(ctx context.Context, owner, repo, branch string, plan *CommitPlan, entries []github.TreeEntry) (commitSHA, treeSHA string, err error) {
	if _, err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		treeSHA, err = c.gh.CreateTree(ctx, owner, repo, entries)
		return err
	}); err != nil {
		return "", "", fmt.Errorf("creating tree: %w", err)
	}
	plan.NewTreeSHA = treeSHA

	message := plan.Message
	if message == "" {
		message = DefaultCommitMessage
	}

	if _, err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		commitSHA, err = c.gh.CreateCommit(ctx, owner, repo, message, treeSHA, plan.ParentCommitSHA)
		return err
	}); err != nil {
		return "", "", fmt.Errorf("creating commit: %w", err)
	}

	_, err = c.retry.Do(ctx, func(ctx context.Context) error {
		if plan.ParentCommitSHA == "" {
			return c.gh.CreateRef(ctx, owner, repo, branch, commitSHA)
		}
		return c.gh.UpdateRef(ctx, owner, repo, branch, commitSHA)
	})
	if err != nil {
		return "", "", err
	}
	return commitSHA, treeSHA, nil
}
