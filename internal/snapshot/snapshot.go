// Package snapshot defines the file snapshot handed to the sync engine:
// a path→content mapping with git blob hashes, plus normalization and a
// directory loader.
package snapshot

import (
	"path"
	"strings"
)

// File is one snapshot entry.
type File struct {
	Content    []byte
	SHA        string // git blob object id of Content
	Executable bool
}

// Snapshot maps repository-relative paths to file contents. Order is
// irrelevant; paths use forward slashes.
type Snapshot map[string]File

// Paths returns the snapshot's paths in unspecified order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	return paths
}

// Includable is the normalization predicate: a raw entry is carried into
// the normalized snapshot only if its path is non-empty after cleaning,
// relative, and not directory-like (no trailing separator). Empty files
// are kept; git represents them as the empty blob.
func Includable(rawPath string) bool {
	if rawPath == "" || strings.HasSuffix(rawPath, "/") || strings.HasSuffix(rawPath, "\\") {
		return false
	}
	cleaned := path.Clean(strings.ReplaceAll(rawPath, "\\", "/"))
	if cleaned == "." || cleaned == "/" {
		return false
	}
	if strings.HasPrefix(cleaned, "/") || strings.HasPrefix(cleaned, "..") {
		return false
	}
	return true
}

// CleanPath canonicalizes a snapshot path: backslashes to forward slashes,
// dot segments collapsed, leading "./" removed.
func CleanPath(rawPath string) string {
	return path.Clean(strings.ReplaceAll(rawPath, "\\", "/"))
}

// Normalize filters and canonicalizes a raw path→content mapping into a
// Snapshot, computing blob hashes. Directory-like and unsafe entries are
// dropped per the Includable predicate; when two raw paths clean to the
// same canonical path the last one wins.
func Normalize(raw map[string][]byte) Snapshot {
	snap := make(Snapshot, len(raw))
	for rawPath, content := range raw {
		if !Includable(rawPath) {
			continue
		}
		p := CleanPath(rawPath)
		snap[p] = File{
			Content: content,
			SHA:     BlobSHA(content),
		}
	}
	return snap
}
