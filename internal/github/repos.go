package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
)

// Repo contains the repository metadata the engine needs.
type Repo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// NewRepo describes a repository to create.
type NewRepo struct {
	Name     string `json:"name"`
	Private  bool   `json:"private"`
	AutoInit bool   `json:"auto_init"`
}

// GetRepo fetches repository metadata. A missing repository surfaces as
// IsNotFound.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	var r Repo
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	if err := c.do(ctx, "GET", path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// OwnerIsOrg reports whether owner resolves to an organization identity.
func (c *Client) OwnerIsOrg(ctx context.Context, owner string) (bool, error) {
	var u struct {
		Type string `json:"type"`
	}
	path := fmt.Sprintf("/users/%s", url.PathEscape(owner))
	if err := c.do(ctx, "GET", path, nil, &u); err != nil {
		return false, err
	}
	return u.Type == "Organization", nil
}

// CreateUserRepo creates a repository for the authenticated user.
func (c *Client) CreateUserRepo(ctx context.Context, spec NewRepo) (*Repo, error) {
	var r Repo
	if err := c.do(ctx, "POST", "/user/repos", spec, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateOrgRepo creates a repository in an organization.
func (c *Client) CreateOrgRepo(ctx context.Context, org string, spec NewRepo) (*Repo, error) {
	var r Repo
	path := fmt.Sprintf("/orgs/%s/repos", url.PathEscape(org))
	if err := c.do(ctx, "POST", path, spec, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListCommits returns up to perPage commit shas on the given branch.
// GitHub answers 409 for a repository with zero commits; that surfaces as
// IsConflict and callers treat it as "empty".
func (c *Client) ListCommits(ctx context.Context, owner, repo, branch string, perPage int) ([]string, error) {
	if perPage <= 0 {
		perPage = 1
	}
	path := fmt.Sprintf("/repos/%s/%s/commits?per_page=%d", owner, repo, perPage)
	if branch != "" {
		path += "&sha=" + url.QueryEscape(branch)
	}

	var raw []struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, "GET", path, nil, &raw); err != nil {
		return nil, err
	}

	shas := make([]string, len(raw))
	for i, r := range raw {
		shas[i] = r.SHA
	}
	return shas, nil
}

// CreateFile creates a single file through the contents API, committing it
// to the given branch. Used to bootstrap a ref in an empty repository.
func (c *Client) CreateFile(ctx context.Context, owner, repo, branch, path, message string, content []byte) error {
	body := struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch,omitempty"`
	}{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  branch,
	}

	apiPath := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path)
	return c.do(ctx, "PUT", apiPath, body, nil)
}
