// Package config handles workspace and global configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents workspace configuration stored in .snapsync/config.json.
type Config struct {
	Owner       string   `json:"owner"`                 // Destination repository owner (user or org)
	Repo        string   `json:"repo"`                  // Destination repository name
	Branch      string   `json:"branch"`                // Destination branch
	Ignore      []string `json:"ignore,omitempty"`      // Extra ignore patterns for the snapshot loader
	Concurrency int      `json:"concurrency,omitempty"` // Blob upload window size (0 = default)
}

const (
	SnapsyncDir = ".snapsync"
	ConfigFile  = "config.json"
	CacheDir    = "cache"
	DBFile      = "sync.db"

	// DefaultBranch is used when the workspace config omits one.
	DefaultBranch = "main"
)

// SnapsyncPath returns the path to the .snapsync directory from a root path.
func SnapsyncPath(root string) string {
	return filepath.Join(root, SnapsyncDir)
}

// ConfigPath returns the path to config.json from a root path.
func ConfigPath(root string) string {
	return filepath.Join(root, SnapsyncDir, ConfigFile)
}

// CachePath returns the path to the cache directory from a root path.
func CachePath(root string) string {
	return filepath.Join(root, SnapsyncDir, CacheDir)
}

// DBPath returns the path to sync.db from a root path.
func DBPath(root string) string {
	return filepath.Join(root, SnapsyncDir, CacheDir, DBFile)
}

// IsWorkspace checks if the given path contains a snapsync workspace.
func IsWorkspace(root string) bool {
	info, err := os.Stat(SnapsyncPath(root))
	return err == nil && info.IsDir()
}

// FindWorkspace walks up from the given path to find a snapsync workspace.
// Returns the workspace root path or an error if not found.
func FindWorkspace(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsWorkspace(abs) {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no snapsync workspace found (run 'snapsync init' first)")
		}
		abs = parent
	}
}

// Load reads the workspace configuration.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
	return &cfg, nil
}

// Save writes the workspace configuration, creating .snapsync if needed.
func Save(root string, cfg *Config) error {
	if err := os.MkdirAll(SnapsyncPath(root), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", SnapsyncDir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(ConfigPath(root), data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config names a destination.
func (c *Config) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("config must set owner and repo")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	return nil
}
