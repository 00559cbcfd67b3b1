package sync

import (
	"fmt"
	"sort"

	"github.com/matsen/snapsync/internal/github"
)

// BuildTreeEntries merges the base tree's blob entries with the change set
// into the flat entry list describing the full new tree.
//
// Merge rule: start from the base entries; drop paths marked Deleted;
// upsert Added/Modified paths with their uploaded blob sha; carry every
// other base entry over untouched, original sha included, so unrelated
// files see no object churn. Callers must not invoke this until every
// required blob task is terminal; a missing sha on an Added/Modified
// change is an error.
func BuildTreeEntries(base []github.TreeEntry, changes []FileChange) ([]github.TreeEntry, error) {
	deleted := make(map[string]bool)
	upserts := make(map[string]github.TreeEntry)

	for _, ch := range changes {
		switch ch.Status {
		case StatusDeleted:
			deleted[ch.Path] = true
		case StatusAdded, StatusModified:
			if ch.BlobSHA == "" {
				return nil, fmt.Errorf("no blob sha for %s", ch.Path)
			}
			mode := github.ModeBlob
			if ch.Executable {
				mode = github.ModeExecutable
			}
			upserts[ch.Path] = github.TreeEntry{
				Path: ch.Path,
				Mode: mode,
				Type: "blob",
				SHA:  ch.BlobSHA,
			}
		}
	}

	entries := make([]github.TreeEntry, 0, len(base)+len(upserts))
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		if deleted[e.Path] {
			continue
		}
		seen[e.Path] = true
		if up, ok := upserts[e.Path]; ok {
			entries = append(entries, up)
			continue
		}
		entries = append(entries, e)
	}
	for path, up := range upserts {
		if !seen[path] {
			entries = append(entries, up)
		}
	}

	if len(entries) == 0 {
		// Git refs cannot point at a tree with zero entries.
		return nil, fmt.Errorf("refusing to build an empty tree")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// blobSHAMap collects the final path→sha mapping of the new tree, for
// write-back into the state cache.
func blobSHAMap(entries []github.TreeEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Path] = e.SHA
	}
	return m
}
