// Package sync implements the snapshot synchronization engine: it diffs a
// file snapshot against repository state, uploads blobs with bounded
// concurrency, builds the tree/commit graph, and moves the branch ref with
// optimistic-concurrency validation.
package sync

import (
	"github.com/matsen/snapsync/internal/github"
)

// ChangeStatus classifies one path across the old and new snapshots.
type ChangeStatus string

// Change statuses. Every path in the union of old and new snapshots gets
// exactly one.
const (
	StatusAdded     ChangeStatus = "added"
	StatusModified  ChangeStatus = "modified"
	StatusDeleted   ChangeStatus = "deleted"
	StatusUnchanged ChangeStatus = "unchanged"
)

// FileChange is the detector's classification of a single path. Content is
// populated for added/modified paths; BlobSHA is filled in by the uploader.
type FileChange struct {
	Path       string
	Status     ChangeStatus
	Content    []byte
	Executable bool
	BlobSHA    string
}

// Counts holds the per-status classification totals, reported to the
// caller even on failure.
type Counts struct {
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Total returns the number of classified paths.
func (c Counts) Total() int {
	return c.Added + c.Modified + c.Deleted + c.Unchanged
}

// count tallies statuses over a change set.
func count(changes []FileChange) Counts {
	var c Counts
	for _, ch := range changes {
		switch ch.Status {
		case StatusAdded:
			c.Added++
		case StatusModified:
			c.Modified++
		case StatusDeleted:
			c.Deleted++
		case StatusUnchanged:
			c.Unchanged++
		}
	}
	return c
}

// CommitPlan captures the object graph inputs for one commit attempt. The
// parent sha is the branch head read once at detection time; a ref that
// has moved past it by commit time is a conflict. A conflict retry builds
// a fresh plan.
type CommitPlan struct {
	BaseTreeSHA     string
	ParentCommitSHA string // empty for the root-commit case
	NewTreeSHA      string
	Message         string
}

// Detection is the detector's output: the classified change set plus the
// base state the classification was made against.
type Detection struct {
	Changes     []FileChange
	Counts      Counts
	BaseEntries []github.TreeEntry // blob entries of the base tree, if fetched
	BaseTreeSHA string
	ParentSHA   string // branch head at detection time; empty for new/empty repos

	// Degraded is set when the remote comparison failed with a non-404
	// error and the detector fell back to the local cache.
	Degraded bool
	Warning  string
}

// Status is the terminal outcome of a sync run.
type Status string

// Terminal statuses.
const (
	StatusSuccess  Status = "success"
	StatusNoop     Status = "noop"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Result is the orchestrator's report: a single terminal status plus the
// classification counts and, on failure, which paths were attempted.
type Result struct {
	Status      Status   `json:"status"`
	Counts      Counts   `json:"counts"`
	CommitSHA   string   `json:"commit_sha,omitempty"`
	TreeSHA     string   `json:"tree_sha,omitempty"`
	Stage       Stage    `json:"stage,omitempty"` // stage reached when Status is error
	FailedPaths []string `json:"failed_paths,omitempty"`
	Uploaded    []string `json:"uploaded_paths,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
	Warning     string   `json:"warning,omitempty"`
	RepoCreated bool     `json:"repo_created,omitempty"`
	Retries     int      `json:"conflict_retries,omitempty"`

	// BlobSHAs maps every path present in the final tree to its blob sha,
	// for write-back into the local state cache.
	BlobSHAs map[string]string `json:"-"`
}
