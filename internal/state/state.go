// Package state caches the last successfully synced snapshot in SQLite,
// keyed by owner/repo/branch. The cache feeds the detector's degraded-mode
// comparison when the remote tree cannot be fetched.
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// SyncState is the cached outcome of the last successful sync of a ref.
type SyncState struct {
	Owner    string
	Repo     string
	Branch   string
	HeadSHA  string
	SyncedAt time.Time
	Files    map[string]string // path → blob sha
}

// Open opens or creates the state database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS syncs (
			owner     TEXT NOT NULL,
			repo      TEXT NOT NULL,
			branch    TEXT NOT NULL,
			head_sha  TEXT NOT NULL,
			synced_at TEXT NOT NULL,
			PRIMARY KEY (owner, repo, branch)
		);

		CREATE TABLE IF NOT EXISTS files (
			owner  TEXT NOT NULL,
			repo   TEXT NOT NULL,
			branch TEXT NOT NULL,
			path   TEXT NOT NULL,
			sha    TEXT NOT NULL,
			PRIMARY KEY (owner, repo, branch, path)
		);

		CREATE INDEX IF NOT EXISTS idx_files_ref ON files(owner, repo, branch);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns the cached state for a ref, or nil if none is recorded.
func (d *DB) Get(owner, repo, branch string) (*SyncState, error) {
	st := &SyncState{Owner: owner, Repo: repo, Branch: branch, Files: make(map[string]string)}

	var syncedAt string
	err := d.db.QueryRow(
		`SELECT head_sha, synced_at FROM syncs WHERE owner = ? AND repo = ? AND branch = ?`,
		owner, repo, branch,
	).Scan(&st.HeadSHA, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync state: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339, syncedAt); perr == nil {
		st.SyncedAt = t
	}

	rows, err := d.db.Query(
		`SELECT path, sha FROM files WHERE owner = ? AND repo = ? AND branch = ?`,
		owner, repo, branch,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cached files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, sha string
		if err := rows.Scan(&path, &sha); err != nil {
			return nil, fmt.Errorf("scanning cached file: %w", err)
		}
		st.Files[path] = sha
	}
	return st, rows.Err()
}

// Put replaces the cached state for a ref in one transaction.
func (d *DB) Put(st *SyncState) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	syncedAt := st.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	_, err = tx.Exec(
		`INSERT INTO syncs (owner, repo, branch, head_sha, synced_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner, repo, branch) DO UPDATE SET head_sha = excluded.head_sha, synced_at = excluded.synced_at`,
		st.Owner, st.Repo, st.Branch, st.HeadSHA, syncedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting sync state: %w", err)
	}

	if _, err := tx.Exec(
		`DELETE FROM files WHERE owner = ? AND repo = ? AND branch = ?`,
		st.Owner, st.Repo, st.Branch,
	); err != nil {
		return fmt.Errorf("clearing cached files: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO files (owner, repo, branch, path, sha) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing file insert: %w", err)
	}
	defer stmt.Close()

	for path, sha := range st.Files {
		if _, err := stmt.Exec(st.Owner, st.Repo, st.Branch, path, sha); err != nil {
			return fmt.Errorf("inserting cached file %s: %w", path, err)
		}
	}

	return tx.Commit()
}

// Delete removes the cached state for a ref.
func (d *DB) Delete(owner, repo, branch string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM syncs WHERE owner = ? AND repo = ? AND branch = ?`, owner, repo, branch); err != nil {
		return fmt.Errorf("deleting sync state: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE owner = ? AND repo = ? AND branch = ?`, owner, repo, branch); err != nil {
		return fmt.Errorf("deleting cached files: %w", err)
	}
	return tx.Commit()
}
