package sync

import (
	"context"
	"testing"

	"github.com/matsen/snapsync/internal/snapshot"
)

func snapOf(files map[string]string) snapshot.Snapshot {
	raw := make(map[string][]byte, len(files))
	for p, c := range files {
		raw[p] = []byte(c)
	}
	return snapshot.Normalize(raw)
}

func newTestDetector(gh *fakeGitHub) *Detector {
	client := gh.client()
	return NewDetector(client, fastPolicy(client))
}

func statusOf(t *testing.T, det *Detection, path string) ChangeStatus {
	t.Helper()
	for _, ch := range det.Changes {
		if ch.Path == path {
			return ch.Status
		}
	}
	t.Fatalf("path %s not classified", path)
	return ""
}

func TestDetectAgainstRemoteTree(t *testing.T) {
	gh := newFakeGitHub(t, true)
	gh.seedCommit("main", map[string]string{"a.txt": "1", "b.txt": "2"})

	d := newTestDetector(gh)
	det, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"a.txt": "1", "c.txt": "3"}), nil, false)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if got := statusOf(t, det, "a.txt"); got != StatusUnchanged {
		t.Errorf("a.txt = %s, want unchanged", got)
	}
	if got := statusOf(t, det, "b.txt"); got != StatusDeleted {
		t.Errorf("b.txt = %s, want deleted", got)
	}
	if got := statusOf(t, det, "c.txt"); got != StatusAdded {
		t.Errorf("c.txt = %s, want added", got)
	}
	if det.ParentSHA == "" || det.BaseTreeSHA == "" {
		t.Error("Detect() did not capture the base commit/tree")
	}
	if det.Degraded {
		t.Error("Detect() flagged degraded on a healthy remote")
	}
}

func TestDetectClassificationPartitionsUnion(t *testing.T) {
	tests := []struct {
		name string
		old  map[string]string
		new  map[string]string
	}{
		{"disjoint", map[string]string{"a": "1"}, map[string]string{"b": "2"}},
		{"identical", map[string]string{"a": "1", "b": "2"}, map[string]string{"a": "1", "b": "2"}},
		{"all modified", map[string]string{"a": "1", "b": "2"}, map[string]string{"a": "x", "b": "y"}},
		{"empty old", map[string]string{}, map[string]string{"a": "1"}},
		{"empty new", map[string]string{"a": "1"}, map[string]string{}},
		{"mixed", map[string]string{"a": "1", "b": "2", "c": "3"}, map[string]string{"b": "2", "c": "9", "d": "4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub(t, true)
			if len(tt.old) > 0 {
				gh.seedCommit("main", tt.old)
			} else {
				gh.seedCommit("main", map[string]string{"placeholder": "x"})
				tt.old = map[string]string{"placeholder": "x"}
			}

			d := newTestDetector(gh)
			det, err := d.Detect(context.Background(), "o", "r", "main", snapOf(tt.new), nil, false)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}

			union := make(map[string]bool)
			for p := range tt.old {
				union[p] = true
			}
			for p := range tt.new {
				union[p] = true
			}

			seen := make(map[string]int)
			for _, ch := range det.Changes {
				seen[ch.Path]++
			}
			if len(seen) != len(union) {
				t.Errorf("classified %d paths, union has %d", len(seen), len(union))
			}
			for p, n := range seen {
				if n != 1 {
					t.Errorf("path %s classified %d times", p, n)
				}
				if !union[p] {
					t.Errorf("path %s not in the union of old and new", p)
				}
			}
			if det.Counts.Total() != len(union) {
				t.Errorf("counts total = %d, want %d", det.Counts.Total(), len(union))
			}
		})
	}
}

func TestDetectMissingRefMeansAllAdded(t *testing.T) {
	// Remote fetch 404s (no such branch): every path is an add, and no
	// error is surfaced. This is the new-repository path.
	gh := newFakeGitHub(t, true)
	gh.seedCommit("other", map[string]string{"x": "1"})

	d := newTestDetector(gh)
	det, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"a.txt": "1", "b.txt": "2"}), nil, false)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if det.Counts.Added != 2 || det.Counts.Total() != 2 {
		t.Errorf("counts = %+v, want 2 added", det.Counts)
	}
	if det.Degraded {
		t.Error("404 must not set the degraded flag")
	}
	if det.ParentSHA != "" {
		t.Errorf("ParentSHA = %q, want empty for a missing ref", det.ParentSHA)
	}
}

func TestDetectFallsBackToCacheOnRemoteError(t *testing.T) {
	gh := newFakeGitHub(t, true)
	gh.seedCommit("main", map[string]string{"a.txt": "1"})
	gh.treeFailures = 10 // every remote read fails with 500

	cached := &BaseState{
		HeadSHA: "cachedhead",
		Files: map[string]string{
			"a.txt": snapshot.BlobSHA([]byte("1")),
			"b.txt": snapshot.BlobSHA([]byte("2")),
		},
	}

	d := newTestDetector(gh)
	det, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"a.txt": "1", "c.txt": "3"}), cached, false)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if !det.Degraded {
		t.Fatal("Detect() did not flag the cache fallback")
	}
	if det.Warning == "" {
		t.Error("Detect() degraded without a warning")
	}
	if got := statusOf(t, det, "a.txt"); got != StatusUnchanged {
		t.Errorf("a.txt = %s, want unchanged (from cache)", got)
	}
	if got := statusOf(t, det, "b.txt"); got != StatusDeleted {
		t.Errorf("b.txt = %s, want deleted (from cache)", got)
	}
	if det.ParentSHA != "cachedhead" {
		t.Errorf("ParentSHA = %q, want cached head", det.ParentSHA)
	}
}

func TestDetectRetriesTransientRefFetch(t *testing.T) {
	// A single 500 on the ref read is absorbed by the retry policy; the
	// comparison still runs against the remote, not the cache.
	gh := newFakeGitHub(t, true)
	gh.seedCommit("main", map[string]string{"a.txt": "1"})
	gh.treeFailures = 1

	d := newTestDetector(gh)
	det, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"a.txt": "1"}), nil, false)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if det.Degraded {
		t.Error("Detect() degraded after a recoverable blip")
	}
	if got := statusOf(t, det, "a.txt"); got != StatusUnchanged {
		t.Errorf("a.txt = %s, want unchanged from the remote tree", got)
	}
}

func TestDetectSurfacesRemoteErrorWithoutCache(t *testing.T) {
	// A non-404 remote failure with no cache must not degrade to
	// "all added"; it is reported upward.
	gh := newFakeGitHub(t, true)
	gh.seedCommit("main", map[string]string{"a.txt": "1"})
	gh.treeFailures = 10

	d := newTestDetector(gh)
	_, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"a.txt": "1"}), nil, false)
	if err == nil {
		t.Fatal("Detect() swallowed a non-404 remote failure")
	}
}

func TestDetectEmptyRepo(t *testing.T) {
	gh := newFakeGitHub(t, true)

	d := newTestDetector(gh)
	det, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"a.txt": "1"}), nil, true)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if det.Counts.Added != 1 || det.ParentSHA != "" || len(det.BaseEntries) != 0 {
		t.Errorf("empty repo detection = %+v, want one add with no base", det)
	}
}

func TestDetectUnchangedPathsKeepContentOut(t *testing.T) {
	gh := newFakeGitHub(t, true)
	gh.seedCommit("main", map[string]string{"big.bin": "payload"})

	d := newTestDetector(gh)
	det, err := d.Detect(context.Background(), "o", "r", "main",
		snapOf(map[string]string{"big.bin": "payload"}), nil, false)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	for _, ch := range det.Changes {
		if ch.Status == StatusUnchanged && ch.Content != nil {
			t.Errorf("unchanged path %s still carries content", ch.Path)
		}
		if ch.Status == StatusUnchanged && ch.BlobSHA == "" {
			t.Errorf("unchanged path %s lost its blob sha", ch.Path)
		}
	}
}
