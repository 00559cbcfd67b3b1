package sync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/matsen/snapsync/internal/github"
)

const (
	// propagationWait is how long to wait after repository creation before
	// trusting reads; creation is eventually consistent on the remote.
	propagationWait = 2 * time.Second

	// bootstrapFile seeds a branch ref in an otherwise empty repository.
	bootstrapFile    = ".gitkeep"
	bootstrapMessage = "Initialize repository"
)

// Bootstrapper ensures a destination repository exists and is in a known
// state before the sync pipeline runs against it.
type Bootstrapper struct {
	gh    *github.Client
	retry *github.RetryPolicy
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBootstrapper creates a bootstrapper over the given client.
func NewBootstrapper(gh *github.Client, retry *github.RetryPolicy) *Bootstrapper {
	return &Bootstrapper{
		gh:    gh,
		retry: retry,
		now:   time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// EnsureExists checks that owner/repo exists, creating it (private, no
// auto-init) when missing. The creation endpoint is chosen by whether
// owner resolves to an organization. Reports whether a repository was
// created.
func (b *Bootstrapper) EnsureExists(ctx context.Context, owner, repo string) (created bool, err error) {
	_, err = b.getRepo(ctx, owner, repo)
	if err == nil {
		return false, nil
	}
	if !github.IsNotFound(err) {
		return false, err
	}

	if err := b.createRepo(ctx, owner, github.NewRepo{Name: repo, Private: true, AutoInit: false}); err != nil {
		return false, fmt.Errorf("creating repository %s/%s: %w", owner, repo, err)
	}

	// Give the remote a moment to propagate, then confirm it answers.
	if err := b.sleep(ctx, propagationWait); err != nil {
		return true, err
	}
	if _, err := b.getRepo(ctx, owner, repo); err != nil {
		return true, fmt.Errorf("repository %s/%s not visible after creation: %w", owner, repo, err)
	}
	return true, nil
}

// IsEmpty reports whether the repository has zero commits on any branch.
// GitHub answers 409 Conflict (or an empty commit list) for such
// repositories. A missing target branch on a populated repository is not
// emptiness; the detector's missing-ref path handles that case.
func (b *Bootstrapper) IsEmpty(ctx context.Context, owner, repo string) (bool, error) {
	var shas []string
	_, err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		shas, err = b.gh.ListCommits(ctx, owner, repo, "", 1)
		return err
	})
	if err != nil {
		if github.IsConflict(err) {
			return true, nil
		}
		return false, err
	}
	return len(shas) == 0, nil
}

// InitializeEmpty commits a single placeholder file through the contents
// API so the branch ref exists before the main sync proceeds. Only valid
// on a repository with zero commits; the contents API refuses to create
// a branch on a populated repository.
func (b *Bootstrapper) InitializeEmpty(ctx context.Context, owner, repo, branch string) error {
	content := []byte("Synchronized by snapsync.\n")
	_, err := b.retry.Do(ctx, func(ctx context.Context) error {
		return b.gh.CreateFile(ctx, owner, repo, branch, bootstrapFile, bootstrapMessage, content)
	})
	if err != nil {
		return fmt.Errorf("initializing %s/%s: %w", owner, repo, err)
	}
	return nil
}

// CreateTemporaryRepo creates a disposable, uniquely named private
// repository seeded with the placeholder file on branch, for
// cross-repository content staging. The caller owns deletion.
func (b *Bootstrapper) CreateTemporaryRepo(ctx context.Context, owner, sourceRepoName, branch string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating repo name: %w", err)
	}
	name := fmt.Sprintf("%s-staging-%d-%s", sourceRepoName, b.now().Unix(), hex.EncodeToString(suffix))

	if err := b.createRepo(ctx, owner, github.NewRepo{Name: name, Private: true, AutoInit: false}); err != nil {
		return "", fmt.Errorf("creating staging repository %s: %w", name, err)
	}

	if err := b.sleep(ctx, propagationWait); err != nil {
		return name, err
	}
	if err := b.InitializeEmpty(ctx, owner, name, branch); err != nil {
		return name, err
	}
	return name, nil
}

// getRepo fetches repository metadata with transient-error retries.
func (b *Bootstrapper) getRepo(ctx context.Context, owner, repo string) (*github.Repo, error) {
	var r *github.Repo
	_, err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		r, err = b.gh.GetRepo(ctx, owner, repo)
		return err
	})
	return r, err
}

// createRepo creates spec under owner, routing to the user or org endpoint.
func (b *Bootstrapper) createRepo(ctx context.Context, owner string, spec github.NewRepo) error {
	var isOrg bool
	_, err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		isOrg, err = b.gh.OwnerIsOrg(ctx, owner)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolving owner %s: %w", owner, err)
	}

	_, err = b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if isOrg {
			_, err = b.gh.CreateOrgRepo(ctx, owner, spec)
		} else {
			_, err = b.gh.CreateUserRepo(ctx, spec)
		}
		return err
	})
	return err
}
