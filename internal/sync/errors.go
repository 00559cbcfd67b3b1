package sync

import (
	"errors"
	"fmt"
)

// Engine-level errors.
var (
	// ErrNoChanges indicates the diff produced nothing to commit. Callers
	// treat it as a no-op success.
	ErrNoChanges = errors.New("no changes to sync")

	// ErrConflict indicates the branch moved concurrently and the retry
	// budget was spent; caller intervention is required.
	ErrConflict = errors.New("branch moved concurrently")

	// ErrUploadFailed indicates one or more blobs exhausted their retry
	// budget.
	ErrUploadFailed = errors.New("blob upload failed")

	// ErrCancelled indicates the caller cancelled the sync.
	ErrCancelled = errors.New("sync cancelled")
)

// StageError wraps a failure with the pipeline stage it occurred in and
// any per-path context, so callers can display what was attempted.
type StageError struct {
	Stage       Stage
	Err         error
	FailedPaths []string
}

func (e *StageError) Error() string {
	if len(e.FailedPaths) > 0 {
		return fmt.Sprintf("sync failed during %s: %v (%d paths failed)", e.Stage, e.Err, len(e.FailedPaths))
	}
	return fmt.Sprintf("sync failed during %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// stageErr builds a StageError.
func stageErr(stage Stage, err error, failed ...string) *StageError {
	return &StageError{Stage: stage, Err: err, FailedPaths: failed}
}
