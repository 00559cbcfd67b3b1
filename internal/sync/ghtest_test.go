package sync

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/matsen/snapsync/internal/github"
	"github.com/matsen/snapsync/internal/snapshot"
)

// fakeGitHub is an in-memory stand-in for the git data API surface the
// engine touches: repos, blobs, trees, commits, refs, contents.
type fakeGitHub struct {
	t   *testing.T
	srv *httptest.Server

	mu      gosync.Mutex
	exists  bool
	ownerIs string // "User" or "Organization"
	blobs   map[string][]byte
	trees   map[string][]github.TreeEntry
	commits map[string]fakeCommit
	refs    map[string]string // branch → commit sha

	// Fault injection and instrumentation.
	blobFailures   map[string]int // blob sha → remaining 500s
	treeFailures   int            // remaining 500s on GET tree/ref
	commitFailures int            // remaining 500s on POST commits
	beforeCommit   func()         // runs before each commit creation
	blobDelay      time.Duration
	inflight       int
	maxInflight    int
	blobCalls      int
	commitsCreated int
	createdName    string // name of the last created repository
	createdPrivate bool
	createdViaOrg  bool
}

type fakeCommit struct {
	Tree    string
	Parents []string
	Message string
}

func newFakeGitHub(t *testing.T, exists bool) *fakeGitHub {
	g := &fakeGitHub{
		t:            t,
		exists:       exists,
		ownerIs:      "User",
		blobs:        make(map[string][]byte),
		trees:        make(map[string][]github.TreeEntry),
		commits:      make(map[string]fakeCommit),
		refs:         make(map[string]string),
		blobFailures: make(map[string]int),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

// client returns an engine client aimed at the fake, with pacing disabled.
func (g *fakeGitHub) client() *github.Client {
	limiter := github.NewRateLimiter()
	limiter.SetPace(1e6, 1000)
	return github.NewClient(github.StaticToken("test-token"),
		github.WithBaseURL(g.srv.URL),
		github.WithRateLimiter(limiter))
}

// seedCommit installs a commit with the given files as branch head.
func (g *fakeGitHub) seedCommit(branch string, files map[string]string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var entries []github.TreeEntry
	for path, content := range files {
		sha := snapshot.BlobSHA([]byte(content))
		g.blobs[sha] = []byte(content)
		entries = append(entries, github.TreeEntry{Path: path, Mode: github.ModeBlob, Type: "blob", SHA: sha})
	}
	treeSHA := g.storeTree(entries)

	var parents []string
	if head, ok := g.refs[branch]; ok {
		parents = []string{head}
	}
	commitSHA := g.storeCommit(fakeCommit{Tree: treeSHA, Parents: parents, Message: "seed"})
	g.refs[branch] = commitSHA
	return commitSHA
}

// headFiles returns path→content for the branch head's tree.
func (g *fakeGitHub) headFiles(branch string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	head, ok := g.refs[branch]
	if !ok {
		return nil
	}
	files := make(map[string]string)
	for _, e := range g.trees[g.commits[head].Tree] {
		files[e.Path] = string(g.blobs[e.SHA])
	}
	return files
}

func (g *fakeGitHub) head(branch string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs[branch]
}

// storeTree and storeCommit must be called with mu held.
func (g *fakeGitHub) storeTree(entries []github.TreeEntry) string {
	sorted := append([]github.TreeEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha1.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s %s %s\n", e.Mode, e.SHA, e.Path)
	}
	sha := hex.EncodeToString(h.Sum(nil))
	g.trees[sha] = sorted
	return sha
}

func (g *fakeGitHub) storeCommit(c fakeCommit) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %v %s %d\n", c.Tree, c.Parents, c.Message, g.commitsCreated)
	sha := hex.EncodeToString(h.Sum(nil))
	g.commits[sha] = c
	g.commitsCreated++
	return sha
}

func (g *fakeGitHub) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-RateLimit-Remaining", "4999")
	w.Header().Set("X-RateLimit-Reset", "4102444800")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == "GET" && parts[0] == "users":
		g.mu.Lock()
		kind := g.ownerIs
		g.mu.Unlock()
		writeJSON(w, 200, map[string]string{"type": kind})

	case r.Method == "POST" && parts[0] == "user" && parts[1] == "repos":
		g.handleCreateRepo(w, r, false)

	case r.Method == "POST" && parts[0] == "orgs":
		g.handleCreateRepo(w, r, true)

	case r.Method == "GET" && parts[0] == "repos" && len(parts) == 3:
		g.mu.Lock()
		exists := g.exists
		g.mu.Unlock()
		if !exists {
			writeJSON(w, 404, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, 200, map[string]any{"name": parts[2], "full_name": parts[1] + "/" + parts[2], "default_branch": "main"})

	case r.Method == "GET" && len(parts) == 4 && parts[3] == "commits":
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.refs) == 0 {
			// GitHub answers 409 for a repository with zero commits.
			writeJSON(w, 409, map[string]string{"message": "Git Repository is empty."})
			return
		}
		branch := r.URL.Query().Get("sha")
		if branch == "" {
			// No sha: listing starts from the default branch head.
			for _, head := range g.refs {
				writeJSON(w, 200, []map[string]string{{"sha": head}})
				return
			}
		}
		head, ok := g.refs[branch]
		if !ok {
			// GitHub answers 404 for an unknown sha/branch.
			writeJSON(w, 404, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, 200, []map[string]string{{"sha": head}})

	case r.Method == "PUT" && len(parts) >= 5 && parts[3] == "contents":
		g.handleContents(w, r, strings.Join(parts[4:], "/"))

	case r.Method == "POST" && len(parts) == 5 && parts[3] == "git" && parts[4] == "blobs":
		g.handleCreateBlob(w, r)

	case r.Method == "GET" && len(parts) >= 6 && parts[3] == "git" && parts[4] == "ref":
		g.handleGetRef(w, strings.Join(parts[6:], "/"))

	case r.Method == "GET" && len(parts) == 6 && parts[3] == "git" && parts[4] == "commits":
		g.mu.Lock()
		c, ok := g.commits[parts[5]]
		g.mu.Unlock()
		if !ok {
			writeJSON(w, 404, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, 200, commitJSON(parts[5], c))

	case r.Method == "GET" && len(parts) == 6 && parts[3] == "git" && parts[4] == "trees":
		g.mu.Lock()
		fail := g.treeFailures > 0
		if fail {
			g.treeFailures--
		}
		entries, ok := g.trees[parts[5]]
		g.mu.Unlock()
		if fail {
			writeJSON(w, 500, map[string]string{"message": "Server Error"})
			return
		}
		if !ok {
			writeJSON(w, 404, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, 200, map[string]any{"sha": parts[5], "tree": entries, "truncated": false})

	case r.Method == "POST" && len(parts) == 5 && parts[3] == "git" && parts[4] == "trees":
		var body struct {
			Tree []github.TreeEntry `json:"tree"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		for i := range body.Tree {
			body.Tree[i].Type = "blob"
		}
		sha := g.storeTree(body.Tree)
		g.mu.Unlock()
		writeJSON(w, 201, map[string]string{"sha": sha})

	case r.Method == "POST" && len(parts) == 5 && parts[3] == "git" && parts[4] == "commits":
		var body struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if g.beforeCommit != nil {
			g.beforeCommit()
		}
		g.mu.Lock()
		if g.commitFailures > 0 {
			g.commitFailures--
			g.mu.Unlock()
			writeJSON(w, 500, map[string]string{"message": "Server Error"})
			return
		}
		sha := g.storeCommit(fakeCommit{Tree: body.Tree, Parents: body.Parents, Message: body.Message})
		g.mu.Unlock()
		writeJSON(w, 201, map[string]string{"sha": sha})

	case r.Method == "PATCH" && len(parts) >= 6 && parts[3] == "git" && parts[4] == "refs":
		g.handleUpdateRef(w, r, strings.Join(parts[6:], "/"))

	case r.Method == "POST" && len(parts) == 5 && parts[3] == "git" && parts[4] == "refs":
		var body struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		branch := strings.TrimPrefix(body.Ref, "refs/heads/")
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.refs[branch]; ok {
			writeJSON(w, 422, map[string]string{"message": "Reference already exists"})
			return
		}
		g.refs[branch] = body.SHA
		writeJSON(w, 201, map[string]any{"ref": body.Ref})

	default:
		g.t.Errorf("fake GitHub: unhandled %s %s", r.Method, r.URL.Path)
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
	}
}

func (g *fakeGitHub) handleCreateBlob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeJSON(w, 400, map[string]string{"message": "bad encoding"})
		return
	}
	sha := snapshot.BlobSHA(content)

	g.mu.Lock()
	g.blobCalls++
	g.inflight++
	if g.inflight > g.maxInflight {
		g.maxInflight = g.inflight
	}
	delay := g.blobDelay
	fail := g.blobFailures[sha] > 0
	if fail {
		g.blobFailures[sha]--
	} else {
		g.blobs[sha] = content
	}
	g.mu.Unlock()

	// Hold the request open so overlapping uploads are observable.
	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()

	if fail {
		writeJSON(w, 500, map[string]string{"message": "Server Error"})
		return
	}
	writeJSON(w, 201, map[string]string{"sha": sha})
}

func (g *fakeGitHub) handleContents(w http.ResponseWriter, r *http.Request, path string) {
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	content, _ := base64.StdEncoding.DecodeString(body.Content)

	g.mu.Lock()
	defer g.mu.Unlock()

	// The contents API only creates a branch when the repository has zero
	// commits; otherwise the branch parameter must name an existing branch.
	head, branchExists := g.refs[body.Branch]
	if len(g.refs) > 0 && !branchExists {
		writeJSON(w, 422, map[string]string{"message": "Branch " + body.Branch + " not found"})
		return
	}

	sha := snapshot.BlobSHA(content)
	g.blobs[sha] = content

	entries := []github.TreeEntry{{Path: path, Mode: github.ModeBlob, Type: "blob", SHA: sha}}
	var parents []string
	if branchExists {
		for _, e := range g.trees[g.commits[head].Tree] {
			if e.Path != path {
				entries = append(entries, e)
			}
		}
		parents = []string{head}
	}
	treeSHA := g.storeTree(entries)
	commitSHA := g.storeCommit(fakeCommit{Tree: treeSHA, Parents: parents, Message: body.Message})
	g.refs[body.Branch] = commitSHA
	writeJSON(w, 201, map[string]any{"content": map[string]string{"path": path}})
}

func (g *fakeGitHub) handleCreateRepo(w http.ResponseWriter, r *http.Request, viaOrg bool) {
	var body struct {
		Name    string `json:"name"`
		Private bool   `json:"private"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	g.mu.Lock()
	g.exists = true
	g.createdName = body.Name
	g.createdPrivate = body.Private
	g.createdViaOrg = viaOrg
	g.mu.Unlock()
	writeJSON(w, 201, map[string]any{"name": body.Name, "private": body.Private})
}

func (g *fakeGitHub) handleGetRef(w http.ResponseWriter, branch string) {
	g.mu.Lock()
	fail := g.treeFailures > 0
	if fail {
		g.treeFailures--
	}
	head, ok := g.refs[branch]
	g.mu.Unlock()
	if fail {
		writeJSON(w, 500, map[string]string{"message": "Server Error"})
		return
	}
	if !ok {
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, 200, map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"type": "commit", "sha": head},
	})
}

func (g *fakeGitHub) handleUpdateRef(w http.ResponseWriter, r *http.Request, branch string) {
	var body struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	g.mu.Lock()
	defer g.mu.Unlock()
	head, ok := g.refs[branch]
	if !ok {
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
		return
	}
	c, ok := g.commits[body.SHA]
	if !ok {
		writeJSON(w, 422, map[string]string{"message": "Object does not exist"})
		return
	}
	// force=false: the new commit must descend directly from the head.
	if !body.Force && (len(c.Parents) == 0 || c.Parents[0] != head) {
		writeJSON(w, 422, map[string]string{"message": "Update is not a fast forward"})
		return
	}
	g.refs[branch] = body.SHA
	writeJSON(w, 200, map[string]any{"ref": "refs/heads/" + branch})
}

func commitJSON(sha string, c fakeCommit) map[string]any {
	parents := make([]map[string]string, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = map[string]string{"sha": p}
	}
	return map[string]any{
		"sha":     sha,
		"message": c.Message,
		"tree":    map[string]string{"sha": c.Tree},
		"parents": parents,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
