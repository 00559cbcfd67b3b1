package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/matsen/snapsync/internal/config"
	"github.com/matsen/snapsync/internal/github"
	"github.com/matsen/snapsync/internal/snapshot"
	"github.com/matsen/snapsync/internal/state"
	"github.com/matsen/snapsync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	syncMessage      string
	syncForceRefresh bool
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncMessage, "message", "m", "", "Commit message")
	syncCmd.Flags().BoolVar(&syncForceRefresh, "force-refresh", false, "Re-read the workspace even if a snapshot was already taken")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push the workspace snapshot to the destination repository",
	Long: `Diff the workspace against the destination branch and push one commit
containing the changes. Missing repositories are created (private); empty
repositories are initialized first.

Example:
  snapsync sync -m "Evening checkpoint"`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	root := mustFindWorkspace()
	cfg := mustLoadConfig(root)
	gh := mustNewClient()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncer := sync.NewSyncer(gh, progressSink())
	if cfg.Concurrency > 0 {
		syncer.Uploader().Concurrency = cfg.Concurrency
	}

	cached := loadCachedState(root, cfg)
	source := workspaceSource(root, cfg)

	result, err := syncer.Run(ctx, source, sync.Options{
		Owner:        cfg.Owner,
		Repo:         cfg.Repo,
		Branch:       cfg.Branch,
		Message:      syncMessage,
		Cached:       cached,
		ForceRefresh: syncForceRefresh,
	})
	if err != nil {
		reportResult(result)
		switch {
		case errors.Is(err, sync.ErrConflict):
			exitWithError(ExitConflict, "branch %s moved concurrently: %v", cfg.Branch, err)
		case github.IsRateLimited(err):
			exitWithError(ExitRateLimited, "%v", err)
		case github.IsAuthError(err):
			exitWithError(ExitAuthError, "%v", err)
		default:
			exitWithError(ExitError, "%v", err)
		}
	}

	if result.Status == sync.StatusSuccess {
		saveCachedState(root, cfg, result)
	}
	reportResult(result)
	return nil
}

// mustFindWorkspace finds the workspace root, exits on error.
func mustFindWorkspace() string {
	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}
	root, err := config.FindWorkspace(cwd)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return root
}

// mustLoadConfig loads and validates the workspace config, exits on error.
func mustLoadConfig(root string) *config.Config {
	cfg, err := config.Load(root)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg
}

// mustNewClient builds the GitHub client from the resolved token.
func mustNewClient() *github.Client {
	_ = godotenv.Load()

	token := config.GetGitHubToken()
	if token == "" {
		exitWithError(ExitAuthError, "no GitHub token: set GITHUB_TOKEN, add it to .env, or run 'snapsync config set github_token <token>'")
	}
	return github.NewClient(github.StaticToken(token))
}

// workspaceSource adapts the workspace directory to the engine's snapshot
// source. The snapshot is read once and reused unless force refresh is set.
func workspaceSource(root string, cfg *config.Config) sync.Source {
	var cachedSnap snapshot.Snapshot
	return sync.SourceFunc(func(ctx context.Context, forceRefresh bool) (snapshot.Snapshot, error) {
		if cachedSnap != nil && !forceRefresh {
			return cachedSnap, nil
		}
		snap, err := snapshot.FromDir(root, cfg.Ignore)
		if err != nil {
			return nil, err
		}
		cachedSnap = snap
		return snap, nil
	})
}

// loadCachedState reads the last-synced state; a broken cache degrades to
// nil rather than blocking the sync.
func loadCachedState(root string, cfg *config.Config) *sync.BaseState {
	db, err := openStateDB(root)
	if err != nil {
		return nil
	}
	defer db.Close()

	st, err := db.Get(cfg.Owner, cfg.Repo, cfg.Branch)
	if err != nil || st == nil {
		return nil
	}
	return &sync.BaseState{HeadSHA: st.HeadSHA, Files: st.Files}
}

// saveCachedState records a successful sync for the next run's detector.
func saveCachedState(root string, cfg *config.Config, result *sync.Result) {
	db, err := openStateDB(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: not caching sync state: %v\n", err)
		return
	}
	defer db.Close()

	err = db.Put(&state.SyncState{
		Owner:    cfg.Owner,
		Repo:     cfg.Repo,
		Branch:   cfg.Branch,
		HeadSHA:  result.CommitSHA,
		SyncedAt: time.Now(),
		Files:    result.BlobSHAs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: not caching sync state: %v\n", err)
	}
}

func openStateDB(root string) (*state.DB, error) {
	if err := os.MkdirAll(config.CachePath(root), 0755); err != nil {
		return nil, err
	}
	return state.Open(config.DBPath(root))
}

// progressSink renders progress events: one line per event in human mode,
// JSON lines otherwise.
func progressSink() sync.Sink {
	return sync.SinkFunc(func(e sync.Event) {
		if humanOutput {
			fmt.Fprintf(os.Stderr, "[%3d%%] %-14s %s\n", e.Percent, e.Stage, e.Message)
			return
		}
		fmt.Fprintf(os.Stderr, `{"stage":%q,"message":%q,"percent":%d}`+"\n", e.Stage, e.Message, e.Percent)
	})
}

// reportResult prints the terminal result in the selected format.
func reportResult(result *sync.Result) {
	if result == nil {
		return
	}
	if !humanOutput {
		outputJSON(result)
		return
	}

	c := result.Counts
	outputHuman("%s: +%d ~%d -%d =%d", result.Status, c.Added, c.Modified, c.Deleted, c.Unchanged)
	if result.CommitSHA != "" {
		outputHuman(" commit %.10s", result.CommitSHA)
	}
	if result.Retries > 0 {
		outputHuman(" (%d conflict retries)", result.Retries)
	}
	outputHuman("\n")
	if result.Degraded {
		outputHuman("warning: %s\n", result.Warning)
	}
	for _, p := range result.FailedPaths {
		outputHuman("failed: %s\n", p)
	}
}
