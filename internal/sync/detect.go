package sync

import (
	"context"
	"fmt"

	"github.com/matsen/snapsync/internal/github"
	"github.com/matsen/snapsync/internal/snapshot"
)

// BaseState is a previously known path→blob-sha mapping, typically loaded
// from the local state cache after an earlier successful sync.
type BaseState struct {
	HeadSHA string
	Files   map[string]string
}

// Detector classifies every path in a new snapshot against the repository's
// previous state into added/modified/deleted/unchanged.
type Detector struct {
	gh    *github.Client
	retry *github.RetryPolicy
}

// NewDetector creates a detector over the given client.
func NewDetector(gh *github.Client, retry *github.RetryPolicy) *Detector {
	return &Detector{gh: gh, retry: retry}
}

// Detect produces the change set for snap against the target branch.
//
// The remote tree is authoritative when reachable. A 404 on the ref or
// repository means "new repository": every path is Added and no error is
// surfaced. Any other remote error falls back to the cached state (when
// present) with the Degraded flag set; it never silently degrades to
// all-added while a cache exists.
//
// With emptyRepo set the remote fetch is skipped entirely; an empty
// repository has no base tree or parent commit.
func (d *Detector) Detect(ctx context.Context, owner, repo, branch string, snap snapshot.Snapshot, cached *BaseState, emptyRepo bool) (*Detection, error) {
	if emptyRepo {
		det := diffAgainst(snap, nil)
		return det, nil
	}

	base, det, err := d.fetchRemoteBase(ctx, owner, repo, branch)
	if err == nil {
		diff := diffAgainst(snap, base)
		diff.BaseEntries = det.BaseEntries
		diff.BaseTreeSHA = det.BaseTreeSHA
		diff.ParentSHA = det.ParentSHA
		return diff, nil
	}
	if github.IsNotFound(err) {
		// New repository or missing branch: everything is an add.
		return diffAgainst(snap, nil), nil
	}

	// Remote comparison failed for a real reason. Fall back to the cache
	// rather than misclassifying everything as added.
	if cached != nil && cached.Files != nil {
		diff := diffAgainst(snap, cached.Files)
		diff.ParentSHA = cached.HeadSHA
		diff.Degraded = true
		diff.Warning = fmt.Sprintf("remote comparison unavailable, used local cache: %v", err)
		return diff, nil
	}
	return nil, fmt.Errorf("fetching remote tree: %w", err)
}

// fetchRemoteBase reads the branch head and its recursive tree, returning
// the path→sha base map for blobs. Each read retries transient failures.
func (d *Detector) fetchRemoteBase(ctx context.Context, owner, repo, branch string) (map[string]string, *Detection, error) {
	var ref *github.Ref
	if _, err := d.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = d.gh.GetRef(ctx, owner, repo, branch)
		return err
	}); err != nil {
		return nil, nil, err
	}

	var commit *github.Commit
	if _, err := d.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		commit, err = d.gh.GetCommit(ctx, owner, repo, ref.Object.SHA)
		return err
	}); err != nil {
		return nil, nil, err
	}

	var tree *github.Tree
	if _, err := d.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		tree, err = d.gh.GetTree(ctx, owner, repo, commit.Tree.SHA, true)
		return err
	}); err != nil {
		return nil, nil, err
	}

	base := make(map[string]string)
	var blobEntries []github.TreeEntry
	for _, e := range tree.Entries {
		if e.Type != "blob" {
			continue
		}
		base[e.Path] = e.SHA
		blobEntries = append(blobEntries, e)
	}

	det := &Detection{
		BaseEntries: blobEntries,
		BaseTreeSHA: commit.Tree.SHA,
		ParentSHA:   ref.Object.SHA,
	}
	return base, det, nil
}

// diffAgainst classifies snap against a base path→sha map. A nil base
// classifies everything as Added. The four sets partition the union of old
// and new paths.
func diffAgainst(snap snapshot.Snapshot, base map[string]string) *Detection {
	changes := make([]FileChange, 0, len(snap)+len(base))

	for p, f := range snap {
		ch := FileChange{Path: p, Content: f.Content, Executable: f.Executable}
		oldSHA, existed := base[p]
		switch {
		case !existed:
			ch.Status = StatusAdded
		case oldSHA != f.SHA:
			ch.Status = StatusModified
		default:
			ch.Status = StatusUnchanged
			ch.BlobSHA = oldSHA
			ch.Content = nil // no upload needed, drop the bytes
		}
		changes = append(changes, ch)
	}

	for p, sha := range base {
		if _, inNew := snap[p]; !inNew {
			changes = append(changes, FileChange{Path: p, Status: StatusDeleted, BlobSHA: sha})
		}
	}

	return &Detection{Changes: changes, Counts: count(changes)}
}
