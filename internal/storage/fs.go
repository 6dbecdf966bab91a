package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/vaultkeeper/internal/apperr"
)

const tmpPattern = ".vaultkeeper-tmp-*"

// FS implements Provider backed by the local file system.
type FS struct {
	root  string // absolute path to vault directory
	locks sync.Map
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string {
	return f.root
}

// VersionOf returns the version token for file contents.
func VersionOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// List walks dir (relative to root) and returns metadata for every .md file.
// Hidden files and directories are skipped.
func (f *FS) List(dir string) ([]Meta, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []Meta
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if strings.HasPrefix(d.Name(), ".") && p != base {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, Meta{
			Path:      filepath.ToSlash(rel),
			Version:   VersionOf(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, apperr.VaultIO(err, "storage: list")
	}
	return out, nil
}

// Read returns the raw bytes of a vault file and their version token.
func (f *FS) Read(path string) ([]byte, string, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", apperr.Mark(apperr.Wrapf(err, "storage: read %s", path), apperr.ErrNotFound)
		}
		return nil, "", apperr.VaultIO(err, "storage: read "+path)
	}
	return data, VersionOf(data), nil
}

// Exists reports whether a file is present at path.
func (f *FS) Exists(path string) bool {
	abs, err := f.safePath(path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(abs)
	return err == nil
}

// CompareAndSwap atomically replaces the file at path with content, but only
// if its current version is expected. An empty expected version means the
// file must not exist yet; that case uses a hard link so a concurrent
// creator in another process cannot be overwritten either.
//
// A mismatch returns ErrVersionMismatch and leaves the file untouched.
func (f *FS) CompareAndSwap(path, expected string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	unlock := f.lock(abs)
	defer unlock()

	if expected != "" {
		current, err := os.ReadFile(abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s was removed", ErrVersionMismatch, path)
			}
			return apperr.VaultIO(err, "storage: reread "+path)
		}
		if VersionOf(current) != expected {
			return fmt.Errorf("%w: %s", ErrVersionMismatch, path)
		}
	}

	return f.writeAtomic(abs, content, expected == "")
}

func (f *FS) lock(abs string) func() {
	v, _ := f.locks.LoadOrStore(abs, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// writeAtomic writes content via tmp file → fsync → rename (or link when
// exclusive is set).
func (f *FS) writeAtomic(abs string, content []byte, exclusive bool) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.VaultIO(err, "storage: mkdir")
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return apperr.VaultIO(err, "storage: create temp")
	}
	tmpName := tmp.Name()

	// The temp file never outlives this call: it is either renamed into
	// place or removed.
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return apperr.VaultIO(err, "storage: write temp")
	}
	if err := tmp.Sync(); err != nil {
		return apperr.VaultIO(err, "storage: fsync")
	}
	if err := tmp.Close(); err != nil {
		return apperr.VaultIO(err, "storage: close temp")
	}

	if exclusive {
		if err := os.Link(tmpName, abs); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%w: %s already exists", ErrVersionMismatch, filepath.Base(abs))
			}
			return apperr.VaultIO(err, "storage: link")
		}
		return nil
	}

	if err := os.Rename(tmpName, abs); err != nil {
		return apperr.VaultIO(err, "storage: rename")
	}
	renamed = true
	return nil
}

// Meta is a lightweight listing entry.
type Meta struct {
	Path      string
	Version   string
	UpdatedAt time.Time
}
