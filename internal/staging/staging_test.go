package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeJobDir(t *testing.T, root, jobID string, age time.Duration) string {
	t.Helper()
	dir := JobDir(root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "artifact.bin"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	return dir
}

func TestJobDirNaming(t *testing.T) {
	dir := JobDir("/tmp/staging", "abc123")
	if filepath.Base(dir) != "job-abc123" {
		t.Fatalf("unexpected job dir name: %s", dir)
	}
	if jobIDFromDir("job-abc123") != "abc123" {
		t.Fatal("job id round trip failed")
	}
	if jobIDFromDir("unrelated") != "" {
		t.Fatal("expected empty id for foreign directory")
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	root := t.TempDir()
	old := makeJobDir(t, root, "old", 48*time.Hour)
	fresh := makeJobDir(t, root, "fresh", 0)

	result := CleanStale(root, 24*time.Hour, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh directory should survive: %v", err)
	}
}

func TestCleanOrphanedKeepsActiveJobs(t *testing.T) {
	root := t.TempDir()
	active := makeJobDir(t, root, "active", 0)
	orphan := makeJobDir(t, root, "orphan", 0)
	foreign := filepath.Join(root, "downloads")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatalf("mkdir foreign: %v", err)
	}

	result := CleanOrphaned(root, map[string]struct{}{"active": {}}, nil)
	if len(result.Removed) != 1 || result.Removed[0] != orphan {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(active); err != nil {
		t.Fatalf("active directory should survive: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("foreign directory should survive: %v", err)
	}
}

func TestCleanHandlesMissingRoot(t *testing.T) {
	result := CleanStale(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if res := CleanStale("", time.Hour, nil); len(res.Removed) != 0 || len(res.Errors) != 0 {
		t.Fatalf("expected empty result for blank root, got %+v", res)
	}
}

func TestListDirectories(t *testing.T) {
	root := t.TempDir()
	makeJobDir(t, root, "one", 0)
	makeJobDir(t, root, "two", 0)

	dirs, err := ListDirectories(root)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 directories, got %d", len(dirs))
	}
	for _, dir := range dirs {
		if dir.JobID == "" {
			t.Fatalf("missing job id for %s", dir.Name)
		}
		if dir.Size == 0 {
			t.Fatalf("expected nonzero size for %s", dir.Name)
		}
	}

	missing, err := ListDirectories(filepath.Join(root, "absent"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil result for missing root, got %v, %v", missing, err)
	}
}
