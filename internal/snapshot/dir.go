package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultIgnores are directory and file patterns skipped by FromDir in
// addition to any configured patterns.
var DefaultIgnores = []string{".git", ".snapsync", ".DS_Store"}

// FromDir loads a Snapshot from a directory tree, skipping entries whose
// base name or any path segment matches an ignore pattern (shell-style,
// matched per segment). Symlinks are skipped; file mode 0111 marks an
// entry executable.
func FromDir(root string, ignores []string) (Snapshot, error) {
	patterns := append(append([]string{}, DefaultIgnores...), ignores...)
	snap := make(Snapshot)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matchesAny(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil // symlinks, sockets, devices
		}

		content, rerr := os.ReadFile(p)
		if rerr != nil {
			return fmt.Errorf("reading %s: %w", rel, rerr)
		}
		info, rerr := d.Info()
		if rerr != nil {
			return rerr
		}

		snap[rel] = File{
			Content:    content,
			SHA:        BlobSHA(content),
			Executable: info.Mode()&0111 != 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// matchesAny reports whether any segment of rel matches any pattern.
func matchesAny(rel string, patterns []string) bool {
	segments := strings.Split(rel, "/")
	for _, pattern := range patterns {
		for _, seg := range segments {
			if ok, _ := path.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}
