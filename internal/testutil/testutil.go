// Package testutil provides shared test helpers for setting up vaults,
// databases and a scripted language capability.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/storage"
	"github.com/starford/vaultkeeper/internal/vault"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "vaultkeeper-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.FS.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	fs, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, fs
}

// Quiet returns a logger that discards everything.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Env is a vault store wired to a fresh index.
type Env struct {
	Dir   string
	FS    *storage.FS
	DB    *index.DB
	Store *vault.Store
}

// NewEnv creates a temp vault, a temp index and a Store committing into both.
func NewEnv(t *testing.T, opts ...vault.Option) *Env {
	t.Helper()
	dir, fs := TestVault(t)
	db := TestDB(t)
	opts = append([]vault.Option{vault.WithIndex(db), vault.WithLogger(Quiet())}, opts...)
	return &Env{Dir: dir, FS: fs, DB: db, Store: vault.New(fs, opts...)}
}

// Files lists the note paths currently in the vault.
func (e *Env) Files(t *testing.T) []string {
	t.Helper()
	metas, err := e.FS.List("")
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.Path
	}
	return out
}

// Snapshot returns every note's raw bytes keyed by path.
func (e *Env) Snapshot(t *testing.T) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, p := range e.Files(t) {
		data, _, err := e.FS.Read(p)
		if err != nil {
			t.Fatal(err)
		}
		out[p] = string(data)
	}
	return out
}

// FakeCapability answers from scripted tables and falls back to the
// rule-based capability for anything unscripted.
type FakeCapability struct {
	Intents map[string]models.Intent
	Facts   map[string][]models.Candidate
	Targets map[string]string

	// Err, when set, is returned by every call.
	Err error
	// Block makes every call wait for its context to end.
	Block bool

	mu    sync.Mutex
	calls map[string]int
	rules capability.Rules
}

var _ capability.Capability = (*FakeCapability)(nil)

// Calls reports how often op ("classify", "extract", "target") was invoked.
func (f *FakeCapability) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeCapability) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	f.mu.Unlock()
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Err
}

// Classify implements capability.Capability.
func (f *FakeCapability) Classify(ctx context.Context, text string) (models.Intent, error) {
	if err := f.enter(ctx, "classify"); err != nil {
		return models.IntentUnknown, err
	}
	if in, ok := f.Intents[text]; ok {
		return in, nil
	}
	return f.rules.Classify(ctx, text)
}

// ExtractFacts implements capability.Capability.
func (f *FakeCapability) ExtractFacts(ctx context.Context, text string) ([]models.Candidate, error) {
	if err := f.enter(ctx, "extract"); err != nil {
		return nil, err
	}
	if c, ok := f.Facts[text]; ok {
		return c, nil
	}
	return f.rules.ExtractFacts(ctx, text)
}

// ExtractQueryTarget implements capability.Capability.
func (f *FakeCapability) ExtractQueryTarget(ctx context.Context, text string) (string, bool, error) {
	if err := f.enter(ctx, "target"); err != nil {
		return "", false, err
	}
	if name, ok := f.Targets[text]; ok {
		return name, name != "", nil
	}
	return f.rules.ExtractQueryTarget(ctx, text)
}
