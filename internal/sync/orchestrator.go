package sync

import (
	"context"
	"fmt"

	"github.com/matsen/snapsync/internal/github"
	"github.com/matsen/snapsync/internal/snapshot"
)

// DefaultMaxConflictRetries bounds how many times the pipeline re-runs
// detection after the branch moved under it.
const DefaultMaxConflictRetries = 3

// Source supplies the file snapshot to synchronize.
type Source interface {
	Current(ctx context.Context, forceRefresh bool) (snapshot.Snapshot, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, forceRefresh bool) (snapshot.Snapshot, error)

// Current calls the function.
func (f SourceFunc) Current(ctx context.Context, forceRefresh bool) (snapshot.Snapshot, error) {
	return f(ctx, forceRefresh)
}

// Options configures one sync invocation.
type Options struct {
	Owner        string
	Repo         string
	Branch       string
	Message      string     // commit message; DefaultCommitMessage when empty
	Cached       *BaseState // last-synced state, for degraded-mode diffing
	ForceRefresh bool       // passed through to the snapshot source
}

// Syncer sequences bootstrap → detect → upload → tree → commit. One Syncer
// may run many syncs, but only one sync per (owner, repo, branch) should
// run at a time; concurrent syncs against the same ref surface as
// ref-conflict retries.
type Syncer struct {
	gh        *github.Client
	bootstrap *Bootstrapper
	detector  *Detector
	uploader  *Uploader
	committer *Committer
	sink      Sink

	// MaxConflictRetries bounds the Committing→Detecting retry loop.
	MaxConflictRetries int
}

// NewSyncer creates a syncer over the given client. The sink may be nil.
// All stages share one retry policy so transient remote failures back off
// uniformly.
func NewSyncer(gh *github.Client, sink Sink) *Syncer {
	retry := github.NewRetryPolicy(gh.RateLimiter())
	return &Syncer{
		gh:                 gh,
		bootstrap:          NewBootstrapper(gh, retry),
		detector:           NewDetector(gh, retry),
		uploader:           NewUploader(gh, retry),
		committer:          NewCommitter(gh, retry),
		sink:               sink,
		MaxConflictRetries: DefaultMaxConflictRetries,
	}
}

// Uploader exposes the blob uploader for configuration (window size).
func (s *Syncer) Uploader() *Uploader { return s.uploader }

// Bootstrapper exposes the repository bootstrapper.
func (s *Syncer) Bootstrapper() *Bootstrapper { return s.bootstrap }

// Detector exposes the change detector, for dry-run classification.
func (s *Syncer) Detector() *Detector { return s.detector }

// Run executes one full sync of the source's snapshot into
// owner/repo@branch. The returned Result always carries the terminal
// status and classification counts, also on failure; the error (when
// non-nil) wraps the failed stage.
func (s *Syncer) Run(ctx context.Context, source Source, opts Options) (*Result, error) {
	res := &Result{Status: StatusError}

	if opts.Owner == "" || opts.Repo == "" || opts.Branch == "" {
		res.Stage = StageIdle
		return res, fmt.Errorf("owner, repo, and branch are required")
	}

	snap, err := source.Current(ctx, opts.ForceRefresh)
	if err != nil {
		res.Stage = StageIdle
		return res, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(snap) == 0 {
		// Nothing to push; an empty snapshot is a no-op, not an error.
		res.Status = StatusNoop
		notify(s.sink, Event{Stage: StageDone, Message: "empty snapshot, nothing to sync", Percent: PercentDone})
		return res, nil
	}

	// Bootstrapping.
	if err := s.checkCancelled(ctx, res, StageBootstrapping); err != nil {
		return res, err
	}
	notify(s.sink, Event{Stage: StageBootstrapping, Message: fmt.Sprintf("preparing %s/%s", opts.Owner, opts.Repo), Percent: PercentBootstrapping})

	created, err := s.bootstrap.EnsureExists(ctx, opts.Owner, opts.Repo)
	if err != nil {
		res.Stage = StageBootstrapping
		return res, stageErr(StageBootstrapping, err)
	}
	res.RepoCreated = created

	empty, err := s.bootstrap.IsEmpty(ctx, opts.Owner, opts.Repo)
	if err != nil {
		res.Stage = StageBootstrapping
		return res, stageErr(StageBootstrapping, err)
	}
	if empty {
		if err := s.bootstrap.InitializeEmpty(ctx, opts.Owner, opts.Repo, opts.Branch); err != nil {
			res.Stage = StageBootstrapping
			return res, stageErr(StageBootstrapping, err)
		}
	}

	// Detect → upload → tree → commit, re-entered from Committing on a
	// ref conflict with a fresh plan against the new head.
	for attempt := 0; ; attempt++ {
		commitSHA, treeSHA, shas, retryable, err := s.attempt(ctx, res, snap, opts)
		if err == nil {
			res.Status = StatusSuccess
			res.CommitSHA = commitSHA
			res.TreeSHA = treeSHA
			res.BlobSHAs = shas
			notify(s.sink, Event{Stage: StageDone, Message: "sync complete", Percent: PercentDone})
			return res, nil
		}
		if err == errNoop {
			res.Status = StatusNoop
			notify(s.sink, Event{Stage: StageDone, Message: "no changes", Percent: PercentDone})
			return res, nil
		}
		if retryable && attempt < s.MaxConflictRetries {
			res.Retries++
			notify(s.sink, Event{Stage: StageDetecting, Message: "branch moved, retrying against new head", Percent: PercentDetected})
			continue
		}
		if retryable {
			res.Status = StatusConflict
			return res, stageErr(StageCommitting, ErrConflict)
		}
		notify(s.sink, Event{Stage: StageFailed, Message: err.Error(), Percent: PercentDone})
		return res, err
	}
}

// errNoop signals an all-unchanged detection inside an attempt.
var errNoop = fmt.Errorf("noop")

// attempt runs one Detecting→Committing pass. retryable reports a ref
// conflict eligible for the bounded retry loop.
func (s *Syncer) attempt(ctx context.Context, res *Result, snap snapshot.Snapshot, opts Options) (commitSHA, treeSHA string, shas map[string]string, retryable bool, err error) {
	// Detecting.
	if err := s.checkCancelled(ctx, res, StageDetecting); err != nil {
		return "", "", nil, false, err
	}
	notify(s.sink, Event{Stage: StageDetecting, Message: "classifying changes", Percent: PercentDetected})

	det, err := s.detector.Detect(ctx, opts.Owner, opts.Repo, opts.Branch, snap, opts.Cached, false)
	if err != nil {
		res.Stage = StageDetecting
		return "", "", nil, false, stageErr(StageDetecting, err)
	}
	res.Counts = det.Counts
	res.Degraded = det.Degraded
	res.Warning = det.Warning
	res.Uploaded = nil
	res.FailedPaths = nil

	if det.Counts.Added == 0 && det.Counts.Modified == 0 && det.Counts.Deleted == 0 {
		return "", "", nil, false, errNoop
	}

	// Uploading.
	if err := s.checkCancelled(ctx, res, StageUploading); err != nil {
		return "", "", nil, false, err
	}
	toUpload := det.Counts.Added + det.Counts.Modified
	notify(s.sink, Event{Stage: StageUploading, Message: fmt.Sprintf("uploading %d blobs", toUpload), Percent: PercentDetected})

	tasks, err := s.uploader.Upload(ctx, opts.Owner, opts.Repo, det.Changes, func(done, total int) {
		pct := PercentDetected + (PercentUploaded-PercentDetected)*done/total
		notify(s.sink, Event{Stage: StageUploading, Message: fmt.Sprintf("uploaded %d/%d blobs", done, total), Percent: pct})
	})
	for _, t := range tasks {
		if t.State == TaskDone {
			res.Uploaded = append(res.Uploaded, t.Path)
		}
	}
	if err != nil {
		res.Stage = StageUploading
		res.FailedPaths = FailedPaths(tasks)
		return "", "", nil, false, stageErr(StageUploading, err, res.FailedPaths...)
	}
	applyBlobSHAs(det.Changes, tasks)

	// Building tree.
	if err := s.checkCancelled(ctx, res, StageBuildingTree); err != nil {
		return "", "", nil, false, err
	}
	notify(s.sink, Event{Stage: StageBuildingTree, Message: "building tree", Percent: PercentUploaded})

	entries, err := BuildTreeEntries(det.BaseEntries, det.Changes)
	if err != nil {
		res.Stage = StageBuildingTree
		return "", "", nil, false, stageErr(StageBuildingTree, err)
	}

	// Committing.
	if err := s.checkCancelled(ctx, res, StageCommitting); err != nil {
		return "", "", nil, false, err
	}
	notify(s.sink, Event{Stage: StageCommitting, Message: "committing", Percent: PercentTreeBuilt})

	plan := &CommitPlan{
		BaseTreeSHA:     det.BaseTreeSHA,
		ParentCommitSHA: det.ParentSHA,
		Message:         opts.Message,
	}
	commitSHA, treeSHA, err = s.committer.Commit(ctx, opts.Owner, opts.Repo, opts.Branch, plan, entries)
	if err != nil {
		if github.IsConflict(err) {
			return "", "", nil, true, err
		}
		res.Stage = StageCommitting
		return "", "", nil, false, stageErr(StageCommitting, err)
	}

	notify(s.sink, Event{Stage: StageCommitting, Message: "ref updated", Percent: PercentCommitted})
	return commitSHA, treeSHA, blobSHAMap(entries), false, nil
}

// checkCancelled honors caller cancellation at a stage boundary.
func (s *Syncer) checkCancelled(ctx context.Context, res *Result, stage Stage) error {
	if err := ctx.Err(); err != nil {
		res.Stage = stage
		return stageErr(stage, fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	return nil
}
