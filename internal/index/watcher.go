package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/vaultkeeper/internal/storage"
)

// Event kinds reported to an EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change.
type EventCallback func(kind string, path string)

const settleDelay = 150 * time.Millisecond

// Watch follows edits made to the vault by other tools (an editor, a sync
// client) and keeps the index current until ctx is cancelled.
//
// Events are coalesced per path and processed once the path has been quiet
// for a short delay, so editors that save in several steps cause a single
// reindex. A note whose version already matches the index (for example one
// committed by this process) is skipped without a callback.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	pending := make(map[string]struct{})
	timer := time.NewTimer(settleDelay)
	timer.Stop()
	reconcile := false

	mark := func(rel string) {
		pending[rel] = struct{}{}
		timer.Reset(settleDelay)
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			for rel := range pending {
				applyPath(db, store, rel, logger, cb)
			}
			clear(pending)
			if reconcile {
				reconcile = false
				reconcileAll(db, store, logger, cb)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs := ev.Name
			if strings.HasPrefix(filepath.Base(abs), ".") {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, abs); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", abs),
							slog.String("error", addErr.Error()))
					}
					// Files may have landed before the directory was watched.
					reconcile = true
					timer.Reset(settleDelay)
					continue
				}
			}

			if !strings.HasSuffix(abs, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(vaultRoot, abs)
			if relErr != nil {
				continue
			}
			mark(filepath.ToSlash(rel))
			if ev.Op&fsnotify.Rename != 0 {
				// Only the old name is reported; the new one may sit outside
				// any event we receive.
				reconcile = true
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// applyPath reindexes or drops one note depending on whether it still exists.
func applyPath(db *DB, store storage.Provider, rel string, logger *slog.Logger, cb EventCallback) {
	indexed, err := db.GetVersion(rel)
	if err != nil {
		logger.Warn("watcher: version lookup failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	if !store.Exists(rel) {
		if indexed == "" {
			return
		}
		if err := db.DeletePath(rel); err != nil {
			logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: deleted", slog.String("path", rel))
		notify(cb, EventDeleted, rel)
		return
	}

	data, version, err := store.Read(rel)
	if err != nil {
		logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if version == indexed {
		return
	}
	if err := IndexFile(db, rel, data, version); err != nil {
		logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := EventUpdated
	if indexed == "" {
		kind = EventCreated
	}
	logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	notify(cb, kind, rel)
}

// reconcileAll diffs disk against the index: stale entries are removed and
// new or changed notes are indexed.
func reconcileAll(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	versions, err := db.AllVersions()
	if err != nil {
		logger.Warn("reconcile: all versions failed", slog.String("error", err.Error()))
		return
	}
	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Version
	}
	for p := range versions {
		if _, ok := disk[p]; !ok {
			applyPath(db, store, p, logger, cb)
		}
	}
	for p, v := range disk {
		if versions[p] != v {
			applyPath(db, store, p, logger, cb)
		}
	}
}

func notify(cb EventCallback, kind, path string) {
	if cb != nil {
		cb(kind, path)
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
