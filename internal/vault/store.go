// Package vault is the read/modify/write layer over the note files. Write is
// the only mutation primitive: it applies a mutator to a fresh copy of a note
// and commits with compare-and-swap on the note's version token, retrying a
// bounded number of times when another writer got there first.
package vault

import (
	"bytes"
	"context"
	"log/slog"
	"sort"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/parser"
	"github.com/starford/vaultkeeper/internal/storage"
)

// DefaultMaxAttempts bounds the optimistic retry loop.
const DefaultMaxAttempts = 5

// ErrNoChange may be returned by a Mutator to finish without committing.
var ErrNoChange = apperr.New("vault: no change")

// Mutator edits a note in place. It can run more than once for one Write
// (once per attempt) and always receives a fresh copy, so it must not keep
// state between calls.
type Mutator func(n *models.Note) error

// Change describes one committed note.
type Change struct {
	Note    *models.Note
	Created bool
}

// Observer is notified after every commit. It runs on the writer's
// goroutine and must not block.
type Observer func(Change)

// Store coordinates the file provider, the index and commit observers.
type Store struct {
	fs          storage.Provider
	idx         index.Writer
	logger      *slog.Logger
	maxAttempts int
	observers   []Observer
}

// Option configures a Store.
type Option func(*Store)

// WithIndex keeps idx in step with every commit.
func WithIndex(idx index.Writer) Option {
	return func(s *Store) { s.idx = idx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxAttempts sets the retry budget for Write.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithObserver registers a commit observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// New creates a Store over fs.
func New(fs storage.Provider, opts ...Option) *Store {
	s := &Store{
		fs:          fs,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists reports whether the note for id is present.
func (s *Store) Exists(id string) bool {
	return s.fs.Exists(models.PathFor(id))
}

// Read loads the note for id together with its version token.
func (s *Store) Read(ctx context.Context, id string) (*models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := models.PathFor(id)
	data, version, err := s.fs.Read(path)
	if err != nil {
		return nil, err
	}
	n, err := parser.Parse(path, data)
	if err != nil {
		return nil, apperr.VaultIO(err, "vault: read "+id)
	}
	n.Version = version
	return n, nil
}

// Write applies mut to the note for id and commits the result. The commit
// only happens if the note is unchanged since it was read; otherwise the
// note is re-read and mut re-applied, up to the configured attempt budget,
// after which ErrStorageConflict is returned. A cancelled ctx stops the loop
// before anything is committed.
//
// The returned note is the committed state (or the current state when the
// mutator made no change).
func (s *Store) Write(ctx context.Context, id string, mut Mutator) (*models.Note, error) {
	path := models.PathFor(id)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, version, err := s.fs.Read(path)
		if err != nil {
			return nil, err
		}
		current, err := parser.Parse(path, data)
		if err != nil {
			return nil, apperr.VaultIO(err, "vault: parse "+id)
		}
		current.Version = version

		next := current.Clone()
		if err := mut(next); err != nil {
			if apperr.Is(err, ErrNoChange) {
				return current, nil
			}
			return nil, err
		}
		out, err := parser.Serialize(next)
		if err != nil {
			return nil, apperr.VaultIO(err, "vault: serialize "+id)
		}
		if bytes.Equal(out, data) {
			return current, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err = s.fs.CompareAndSwap(path, version, out)
		if apperr.Is(err, storage.ErrVersionMismatch) {
			s.logger.Debug("vault: write conflict, retrying",
				slog.String("id", id),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		next.Version = storage.VersionOf(out)
		s.committed(next, false)
		return next, nil
	}

	s.logger.Warn("vault: write retries exhausted", slog.String("id", id), slog.Int("attempts", s.maxAttempts))
	return nil, apperr.Wrapf(apperr.ErrStorageConflict, "vault: %s changed on every attempt", id)
}

// Create commits n as a brand-new note. If a note already exists at the
// same path the call fails with ErrAlreadyExists and nothing is written.
func (s *Store) Create(ctx context.Context, n *models.Note) (*models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.Path == "" {
		n.Path = models.PathFor(n.ID)
	}
	out, err := parser.Serialize(n)
	if err != nil {
		return nil, apperr.VaultIO(err, "vault: serialize "+n.ID)
	}
	if err := s.fs.CompareAndSwap(n.Path, "", out); err != nil {
		if apperr.Is(err, storage.ErrVersionMismatch) {
			return nil, apperr.Wrapf(apperr.ErrAlreadyExists, "vault: %s", n.ID)
		}
		return nil, err
	}
	created := n.Clone()
	created.Version = storage.VersionOf(out)
	s.committed(created, true)
	return created, nil
}

// Refresh reads the note for id and pushes it to the index. Observers are
// not notified: nothing was committed.
func (s *Store) Refresh(ctx context.Context, id string) (*models.Note, error) {
	n, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.idx != nil {
		if err := s.idx.UpsertNote(n, n.Version); err != nil {
			return nil, apperr.Wrapf(err, "vault: refresh %s", id)
		}
	}
	return n, nil
}

// List parses every note in the vault, ordered by id. Notes that fail to
// parse are logged and skipped.
func (s *Store) List(ctx context.Context) ([]*models.Note, error) {
	metas, err := s.fs.List("")
	if err != nil {
		return nil, err
	}
	out := make([]*models.Note, 0, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, version, err := s.fs.Read(m.Path)
		if err != nil {
			if apperr.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		n, err := parser.Parse(m.Path, data)
		if err != nil {
			s.logger.Warn("vault: skipping unparsable note", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		n.Version = version
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) committed(n *models.Note, created bool) {
	if s.idx != nil {
		if err := s.idx.UpsertNote(n, n.Version); err != nil {
			// The vault is authoritative; the next Sync repairs the index.
			s.logger.Warn("vault: index update failed", slog.String("id", n.ID), slog.String("error", err.Error()))
		}
	}
	s.logger.Debug("vault: committed",
		slog.String("id", n.ID),
		slog.Bool("created", created),
		slog.String("version", n.Version))
	for _, o := range s.observers {
		o(Change{Note: n, Created: created})
	}
}
