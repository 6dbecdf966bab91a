package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/vaultkeeper/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestCreateAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("---\nentity: Me\n---\n")
	if err := s.CompareAndSwap("me.md", "", content); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	got, version, err := s.Read("me.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
	if version != VersionOf(content) {
		t.Errorf("version = %q, want %q", version, VersionOf(content))
	}
}

func TestCreateExclusive(t *testing.T) {
	s := tempVault(t)
	if err := s.CompareAndSwap("a.md", "", []byte("first")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CompareAndSwap("a.md", "", []byte("second"))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("second create err = %v, want ErrVersionMismatch", err)
	}
	got, _, _ := s.Read("a.md")
	if string(got) != "first" {
		t.Errorf("content = %q, want first", got)
	}
}

func TestCompareAndSwap_StaleVersion(t *testing.T) {
	s := tempVault(t)
	_ = s.CompareAndSwap("n.md", "", []byte("v1"))
	_, v1, _ := s.Read("n.md")

	if err := s.CompareAndSwap("n.md", v1, []byte("v2")); err != nil {
		t.Fatalf("swap v1->v2: %v", err)
	}
	err := s.CompareAndSwap("n.md", v1, []byte("v3"))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("stale swap err = %v, want ErrVersionMismatch", err)
	}
	got, _, _ := s.Read("n.md")
	if string(got) != "v2" {
		t.Errorf("content = %q, want v2", got)
	}
}

func TestCompareAndSwap_Concurrent(t *testing.T) {
	s := tempVault(t)
	_ = s.CompareAndSwap("c.md", "", []byte("base"))
	_, base, _ := s.Read("c.md")

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.CompareAndSwap("c.md", base, []byte{byte('a' + i)}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempVault(t)
	_, _, err := s.Read("nope.md")
	if !apperr.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempVault(t)
	if err := s.CompareAndSwap("a/b/c.md", "", []byte("deep")); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if !s.Exists("a/b/c.md") {
		t.Error("expected file to exist")
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.CompareAndSwap("a.md", "", []byte("a"))
	_ = s.CompareAndSwap("sub/b.md", "", []byte("b"))
	_ = s.CompareAndSwap("readme.txt", "", []byte("not md"))
	_ = s.CompareAndSwap(".obsidian/workspace.md", "", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Path == "sub/b.md" && it.Version != VersionOf([]byte("b")) {
			t.Errorf("version for sub/b.md = %q", it.Version)
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.CompareAndSwap(p, "", []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempVault(t)
	_ = s.CompareAndSwap("atomic.md", "", []byte("original content"))
	_, v, _ := s.Read("atomic.md")

	if err := s.CompareAndSwap("atomic.md", v, []byte("updated content")); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	_ = s.CompareAndSwap("atomic.md", v, []byte("lost update"))

	got, _, _ := s.Read("atomic.md")
	if string(got) != "updated content" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".vaultkeeper-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "vaultkeeper-test-*")
	_ = f.Close()
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
