package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/matsen/snapsync/internal/github"
)

// DefaultConcurrency is the blob upload window size. Wide enough to hide
// request latency, narrow enough not to trip secondary rate limits.
const DefaultConcurrency = 5

// TaskState tracks a blob upload's lifecycle. States only move forward,
// except Uploading→Pending when the retry policy re-runs a call.
type TaskState int

// Task states.
const (
	TaskPending TaskState = iota
	TaskUploading
	TaskDone
	TaskFailed
)

// BlobTask is one pending blob creation. Tasks are owned exclusively by
// the Uploader and live only for the duration of a sync attempt.
type BlobTask struct {
	Path     string
	Content  []byte
	State    TaskState
	Attempts int
	SHA      string
	Err      error
}

// Uploader creates blob objects for added/modified files with a fixed
// concurrency window.
type Uploader struct {
	gh          *github.Client
	retry       *github.RetryPolicy
	Concurrency int
}

// NewUploader creates an uploader with the default window size.
func NewUploader(gh *github.Client, retry *github.RetryPolicy) *Uploader {
	return &Uploader{gh: gh, retry: retry, Concurrency: DefaultConcurrency}
}

// Upload creates a blob for every Added/Modified change and fills in its
// BlobSHA. One task failing does not abort its siblings; the batch runs to
// completion best-effort and the returned tasks report per-path outcomes.
// The error is ErrUploadFailed if any task ended Failed, or the context
// error if cancellation was observed between window batches.
//
// onProgress, when non-nil, is called after each terminal task with
// (completed, total).
func (u *Uploader) Upload(ctx context.Context, owner, repo string, changes []FileChange, onProgress func(done, total int)) ([]*BlobTask, error) {
	tasks := make([]*BlobTask, 0, len(changes))
	for _, ch := range changes {
		if ch.Status != StatusAdded && ch.Status != StatusModified {
			continue
		}
		tasks = append(tasks, &BlobTask{Path: ch.Path, Content: ch.Content})
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	window := u.Concurrency
	if window <= 0 {
		window = DefaultConcurrency
	}

	var (
		mu   sync.Mutex
		done int
	)

	// Cancellation is cooperative: checked between window batches, never
	// interrupting an in-flight call.
	for start := 0; start < len(tasks); start += window {
		if err := ctx.Err(); err != nil {
			return tasks, err
		}

		end := start + window
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup
		for _, task := range tasks[start:end] {
			wg.Add(1)
			go func(task *BlobTask) {
				defer wg.Done()
				u.run(ctx, owner, repo, task)

				mu.Lock()
				done++
				d := done
				mu.Unlock()
				if onProgress != nil {
					onProgress(d, len(tasks))
				}
			}(task)
		}
		wg.Wait()
	}

	for _, task := range tasks {
		if task.State == TaskFailed {
			return tasks, ErrUploadFailed
		}
	}
	return tasks, nil
}

// run drives one task to a terminal state.
func (u *Uploader) run(ctx context.Context, owner, repo string, task *BlobTask) {
	attempts, err := u.retry.Do(ctx, func(ctx context.Context) error {
		task.State = TaskUploading
		sha, err := u.gh.CreateBlob(ctx, owner, repo, task.Content)
		if err != nil {
			task.State = TaskPending
			return err
		}
		task.SHA = sha
		return nil
	})

	task.Attempts = attempts
	if err != nil {
		task.State = TaskFailed
		task.Err = err
		return
	}
	task.State = TaskDone
}

// FailedPaths returns the sorted paths of tasks that ended Failed.
func FailedPaths(tasks []*BlobTask) []string {
	var failed []string
	for _, t := range tasks {
		if t.State == TaskFailed {
			failed = append(failed, t.Path)
		}
	}
	sort.Strings(failed)
	return failed
}

// applyBlobSHAs copies uploaded shas back onto the change set.
func applyBlobSHAs(changes []FileChange, tasks []*BlobTask) {
	byPath := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t.State == TaskDone {
			byPath[t.Path] = t.SHA
		}
	}
	for i := range changes {
		if sha, ok := byPath[changes[i].Path]; ok {
			changes[i].BlobSHA = sha
		}
	}
}
