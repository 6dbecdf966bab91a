package index

import (
	"log/slog"

	"github.com/starford/vaultkeeper/internal/parser"
	"github.com/starford/vaultkeeper/internal/storage"
)

// Sync walks the vault and brings the index up to date:
//   - new/changed notes are parsed and upserted
//   - notes removed from disk are deleted from the index
//
// Notes whose front matter cannot be parsed are logged and left out; they
// are picked up again once fixed.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	versions, err := db.AllVersions()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	indexed := 0
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if versions[m.Path] == m.Version {
			continue
		}

		data, version, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data, version); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		indexed++
	}

	removed := 0
	for p := range versions {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeletePath(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	logger.Debug("sync: done",
		slog.Int("notes", len(metas)),
		slog.Int("indexed", indexed),
		slog.Int("removed", removed))
	return nil
}

// IndexFile parses a note file and upserts it.
func IndexFile(db *DB, path string, data []byte, version string) error {
	n, err := parser.Parse(path, data)
	if err != nil {
		return err
	}
	return db.UpsertNote(n, version)
}
