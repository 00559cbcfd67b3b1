// Package github provides a typed, rate-limited client for the GitHub
// REST v3 API surface used by the sync engine: repositories, git data
// objects (blobs, trees, commits, refs), and commit listings.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// BaseURL is the GitHub REST API base URL.
	BaseURL = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	userAgent = "snapsync-cli"
)

// TokenSource supplies bearer credentials. Token is called before the
// first request; RefreshToken is called exactly once if a request comes
// back 401, and the failed request is retried with the new token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed token with no refresh.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

// RefreshToken always fails; a static token cannot be refreshed.
func (t StaticToken) RefreshToken(ctx context.Context) (string, error) {
	return "", fmt.Errorf("%w: static token cannot be refreshed", ErrAuthError)
}

// Client is a GitHub REST API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	limiter    *RateLimiter

	mu    sync.Mutex
	token string // cached bearer token
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithRateLimiter sets the limiter gating outbound calls.
func WithRateLimiter(l *RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a GitHub API client using the given credential source.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    BaseURL,
		tokens:     tokens,
		limiter:    NewRateLimiter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimiter returns the limiter gating this client's calls.
func (c *Client) RateLimiter() *RateLimiter { return c.limiter }

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthError, err)
	}
	c.token = tok
	return tok, nil
}

func (c *Client) refreshBearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	return tok, nil
}

// do issues one API call, refreshing the bearer token at most once on 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	err = c.doOnce(ctx, method, path, body, out, token)
	if err == nil || !IsAuthError(err) {
		return err
	}

	token, rerr := c.refreshBearer(ctx)
	if rerr != nil {
		return err // surface the original 401
	}
	return c.doOnce(ctx, method, path, body, out, token)
}

// doOnce issues a single HTTP request and decides the error taxonomy from
// the status code and rate-limit headers. All status interpretation lives
// here; callers use the Is* helpers.
func (c *Client) doOnce(ctx context.Context, method, path string, body, out any, token string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	c.limiter.Update(resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding %s: %v", ErrInvalidResponse, path, err)
		}
		return nil
	}

	return statusError(resp, path)
}

// statusError maps a non-2xx response to the error taxonomy.
func statusError(resp *http.Response, path string) error {
	msg := apiMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthError, msg)
	case http.StatusForbidden:
		// A 403 with the quota exhausted is rate limiting, not an
		// authorization failure.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return fmt.Errorf("%w: %s", ErrRateLimited, msg)
		}
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	}

	return &APIError{StatusCode: resp.StatusCode, Message: msg, Resource: strings.TrimPrefix(path, "/")}
}

// apiMessage extracts the "message" field from a GitHub error body.
func apiMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(data))
}

// ErrInvalidURL indicates an unparseable repository reference.
var ErrInvalidURL = errors.New("invalid GitHub URL format")

// urlPatterns for parsing GitHub repository references.
var (
	// Matches: https://github.com/owner/repo, https://github.com/owner/repo.git, github.com/owner/repo
	fullURLPattern = regexp.MustCompile(`^(?:https?://)?github\.com/([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+?)(?:\.git)?$`)
	// Matches: owner/repo
	shorthandPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+)$`)
)

// ParseRepoURL parses a GitHub URL or owner/repo shorthand and returns
// (owner, repo). Supported formats:
//   - https://github.com/owner/repo
//   - https://github.com/owner/repo.git
//   - github.com/owner/repo
//   - owner/repo
func ParseRepoURL(input string) (owner, repo string, err error) {
	input = strings.TrimSpace(input)

	if matches := fullURLPattern.FindStringSubmatch(input); matches != nil {
		return matches[1], matches[2], nil
	}
	if matches := shorthandPattern.FindStringSubmatch(input); matches != nil {
		return matches[1], matches[2], nil
	}
	return "", "", ErrInvalidURL
}
