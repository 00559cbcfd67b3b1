package github

import (
	"errors"
	"fmt"
)

// Common errors returned by the GitHub client.
var (
	// ErrNotFound indicates the repository, ref, or object was not found.
	ErrNotFound = errors.New("not found on GitHub")

	// ErrAuthError indicates an authentication failure (missing/expired token).
	ErrAuthError = errors.New("GitHub authentication error")

	// ErrRateLimited indicates the API rate limit has been exhausted.
	ErrRateLimited = errors.New("GitHub API rate limit exceeded")

	// ErrConflict indicates an optimistic-concurrency failure, e.g. a ref
	// that moved between read and update, or an empty-repository 409.
	ErrConflict = errors.New("GitHub state conflict")

	// ErrAPIError indicates a general API error.
	ErrAPIError = errors.New("GitHub API error")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with GitHub")

	// ErrInvalidResponse indicates an unexpected API response body.
	ErrInvalidResponse = errors.New("invalid response from GitHub")
)

// APIError represents an error response from the GitHub API.
// The status code is decided once, at the HTTP boundary; callers classify
// errors with the Is* helpers rather than inspecting messages.
type APIError struct {
	StatusCode int
	Message    string
	Resource   string // endpoint path for context, e.g. "repos/owner/repo/git/blobs"
}

func (e *APIError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("GitHub API error (status %d): %s (%s)", e.StatusCode, e.Message, e.Resource)
	}
	return fmt.Sprintf("GitHub API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error indicates a missing repo/ref/object.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

// IsAuthError returns true if the error indicates an authentication problem.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthError) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401
	}
	return false
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// IsConflict returns true if the error indicates a state conflict
// (rejected fast-forward update, 409, 422 on a ref update).
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 409 || apiErr.StatusCode == 422
	}
	return false
}

// IsTransient returns true for errors worth retrying with backoff:
// network failures and 5xx server responses.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetworkError) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
