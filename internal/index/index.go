package index

import "github.com/starford/vaultkeeper/internal/models"

// Reader is the read side of the index used by resolution and queries.
// Consumers depend on it rather than *DB so tests can substitute fakes.
type Reader interface {
	ByName(key string) ([]string, error)
	ByAlias(key string) ([]string, error)
	Names() ([]NameRow, error)
	Entity(id string) (*EntityRow, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target string) ([]BacklinkRow, error)
}

// Writer is the write side used by the vault after each commit.
type Writer interface {
	UpsertNote(n *models.Note, version string) error
}

var (
	_ Reader = (*DB)(nil)
	_ Writer = (*DB)(nil)
)
