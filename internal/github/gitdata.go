package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
)

// Tree entry modes used by the sync engine.
const (
	ModeBlob       = "100644"
	ModeExecutable = "100755"
	ModeTree       = "040000"
)

// TreeEntry is one path in a git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha,omitempty"`
}

// Tree is a git tree object.
type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Commit is a git commit object.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Tree    struct {
		SHA string `json:"sha"`
	} `json:"tree"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// Ref is a git reference (branch head).
type Ref struct {
	Ref    string `json:"ref"`
	Object struct {
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"object"`
}

// CreateBlob creates a blob object from raw content and returns its sha.
// Content is sent base64-encoded so binary files survive the JSON body.
func (c *Client) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	body := struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}{
		Content:  base64.StdEncoding.EncodeToString(content),
		Encoding: "base64",
	}

	var out struct {
		SHA string `json:"sha"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/blobs", owner, repo)
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// GetTree fetches the tree for the given sha. With recursive set, nested
// directories are flattened into path-qualified entries.
func (c *Client) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*Tree, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s", owner, repo, url.PathEscape(sha))
	if recursive {
		path += "?recursive=1"
	}

	var tree Tree
	if err := c.do(ctx, "GET", path, nil, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// CreateTree creates a tree from a full flat entry list. baseTreeSha is
// intentionally not sent: the engine always posts the complete merged tree,
// so deletions are expressed by omission.
func (c *Client) CreateTree(ctx context.Context, owner, repo string, entries []TreeEntry) (string, error) {
	body := struct {
		Tree []TreeEntry `json:"tree"`
	}{Tree: entries}

	var out struct {
		SHA string `json:"sha"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees", owner, repo)
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateCommit creates a commit object. An empty parentSha creates a root
// commit with no parents.
func (c *Client) CreateCommit(ctx context.Context, owner, repo, message, treeSha, parentSha string) (string, error) {
	body := struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}{
		Message: message,
		Tree:    treeSha,
		Parents: []string{},
	}
	if parentSha != "" {
		body.Parents = []string{parentSha}
	}

	var out struct {
		SHA string `json:"sha"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/commits", owner, repo)
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// GetCommit fetches a commit object by sha.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	var commit Commit
	path := fmt.Sprintf("/repos/%s/%s/git/commits/%s", owner, repo, url.PathEscape(sha))
	if err := c.do(ctx, "GET", path, nil, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// GetRef fetches the head of a branch. Missing refs surface as IsNotFound.
func (c *Client) GetRef(ctx context.Context, owner, repo, branch string) (*Ref, error) {
	var ref Ref
	path := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, url.PathEscape(branch))
	if err := c.do(ctx, "GET", path, nil, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// UpdateRef moves a branch head to sha as a fast-forward only update
// (force=false). A rejected update surfaces as IsConflict.
func (c *Client) UpdateRef(ctx context.Context, owner, repo, branch, sha string) error {
	body := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: sha, Force: false}

	path := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, url.PathEscape(branch))
	return c.do(ctx, "PATCH", path, body, nil)
}

// CreateRef creates a new branch pointing at sha.
func (c *Client) CreateRef(ctx context.Context, owner, repo, branch, sha string) error {
	body := struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}{Ref: "refs/heads/" + branch, SHA: sha}

	path := fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo)
	return c.do(ctx, "POST", path, body, nil)
}
