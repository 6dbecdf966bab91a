// Package resolver maps free-text names to canonical entities.
//
// Matching is exact name, then exact alias, then fuzzy similarity over
// every known name. Only Resolve may create an entity; Lookup never does.
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/singleflight"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/slug"
	"github.com/starford/vaultkeeper/internal/vault"
)

// DefaultFuzzyThreshold is the similarity a fuzzy match needs by default.
const DefaultFuzzyThreshold = 0.8

// createAttempts bounds slug collisions with foreign notes during creation.
const createAttempts = 5

// Options configures a Resolver.
type Options struct {
	FuzzyThreshold float64
	// SelfEntity is the canonical name of the user's own note.
	SelfEntity string
	// SelfAliases are stored on the self note when it is first created.
	SelfAliases []string
}

// Resolver resolves names against the vault through the index.
type Resolver struct {
	store  *vault.Store
	idx    index.Reader
	opts   Options
	group  singleflight.Group
	logger *slog.Logger
}

// New returns a Resolver.
func New(store *vault.Store, idx index.Reader, opts Options, logger *slog.Logger) *Resolver {
	if opts.FuzzyThreshold <= 0 || opts.FuzzyThreshold > 1 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if opts.SelfEntity == "" {
		opts.SelfEntity = "Me"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, idx: idx, opts: opts, logger: logger}
}

// Lookup resolves name without side effects. It returns apperr.ErrNotFound
// when nothing matches and *apperr.AmbiguityError when several entities do.
func (r *Resolver) Lookup(ctx context.Context, name string) (models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return models.Entity{}, err
	}
	return r.match(ctx, r.canonical(name))
}

// Resolve is Lookup plus creation: an unknown name gets a new entity and
// an empty note. created reports whether this call created it.
func (r *Resolver) Resolve(ctx context.Context, name string) (e models.Entity, created bool, err error) {
	name = r.canonical(name)
	e, err = r.match(ctx, name)
	if err == nil || !apperr.Is(err, apperr.ErrNotFound) {
		return e, false, err
	}

	key := slug.Fold(name)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.create(ctx, name)
	})
	if err != nil {
		return models.Entity{}, false, err
	}
	res := v.(creation)
	return res.entity, res.created, nil
}

type creation struct {
	entity  models.Entity
	created bool
}

func (r *Resolver) create(ctx context.Context, name string) (creation, error) {
	// Another flight may have finished between our miss and this call.
	if e, err := r.match(ctx, name); err == nil {
		return creation{entity: e}, nil
	} else if !apperr.Is(err, apperr.ErrNotFound) {
		return creation{}, err
	}

	key := slug.Fold(name)
	for range createAttempts {
		if err := ctx.Err(); err != nil {
			return creation{}, err
		}
		// A taken stem may hold this very entity while the index lags
		// behind the vault; only a different entity forces a suffix.
		var found *models.Entity
		id := slug.Unique(slug.Make(name), func(stem string) bool {
			if found != nil || !r.store.Exists(stem) {
				return false
			}
			if e, ok := r.adopt(ctx, stem, key); ok {
				found = &e
				return false
			}
			return true
		})
		if found != nil {
			return creation{entity: *found}, nil
		}
		n := models.NewNote(id, name)
		if key == slug.Fold(r.opts.SelfEntity) {
			n.Aliases = append(n.Aliases, r.opts.SelfAliases...)
		}

		committed, err := r.store.Create(ctx, n)
		if err == nil {
			r.logger.Info("resolver: entity created", slog.String("id", id), slog.String("name", name))
			return creation{entity: committed.Entity(), created: true}, nil
		}
		if !apperr.Is(err, apperr.ErrAlreadyExists) {
			return creation{}, err
		}
		// Lost a race for the file: if the winner created the same entity,
		// it is ours too.
		existing, rerr := r.store.Read(ctx, id)
		if rerr == nil && slug.Fold(existing.Name) == key {
			return creation{entity: existing.Entity()}, nil
		}
	}
	return creation{}, apperr.Wrapf(apperr.ErrStorageConflict, "resolver: could not allocate a note for %q", name)
}

// adopt returns the entity stored at stem when its name folds to key,
// re-indexing it so later lookups find it without the file scan.
func (r *Resolver) adopt(ctx context.Context, stem, key string) (models.Entity, bool) {
	n, err := r.store.Refresh(ctx, stem)
	if err != nil {
		r.logger.Warn("resolver: reindex failed", slog.String("id", stem), slog.String("error", err.Error()))
		if n, err = r.store.Read(ctx, stem); err != nil {
			return models.Entity{}, false
		}
	}
	if slug.Fold(n.Name) != key {
		return models.Entity{}, false
	}
	r.logger.Info("resolver: adopted unindexed note", slog.String("id", stem), slog.String("name", n.Name))
	return n.Entity(), true
}

// canonical maps the configured self aliases onto the self entity.
func (r *Resolver) canonical(name string) string {
	key := slug.Fold(name)
	for _, a := range r.opts.SelfAliases {
		if slug.Fold(a) == key {
			return r.opts.SelfEntity
		}
	}
	return name
}

func (r *Resolver) match(ctx context.Context, name string) (models.Entity, error) {
	key := slug.Fold(name)
	if key == "" {
		return models.Entity{}, apperr.Wrap(apperr.ErrNotFound, "resolver: empty name")
	}

	ids, err := r.idx.ByName(key)
	if err != nil {
		return models.Entity{}, err
	}
	if len(ids) == 0 {
		if ids, err = r.idx.ByAlias(key); err != nil {
			return models.Entity{}, err
		}
	}
	if len(ids) == 0 {
		return r.fuzzy(ctx, name, key)
	}
	if len(ids) > 1 {
		cands := make([]apperr.Candidate, 0, len(ids))
		for _, id := range ids {
			cands = append(cands, apperr.Candidate{ID: id, Name: r.displayName(id), Score: 1})
		}
		return models.Entity{}, &apperr.AmbiguityError{Name: name, Candidates: cands}
	}
	return r.load(ctx, ids[0])
}

func (r *Resolver) fuzzy(ctx context.Context, name, key string) (models.Entity, error) {
	rows, err := r.idx.Names()
	if err != nil {
		return models.Entity{}, err
	}
	best := map[string]apperr.Candidate{}
	for _, row := range rows {
		score := Similarity(key, row.Key)
		if score < r.opts.FuzzyThreshold {
			continue
		}
		if c, ok := best[row.EntityID]; !ok || score > c.Score {
			best[row.EntityID] = apperr.Candidate{ID: row.EntityID, Name: row.Name, Score: score}
		}
	}

	switch len(best) {
	case 0:
		return models.Entity{}, apperr.Wrapf(apperr.ErrNotFound, "resolver: %q", name)
	case 1:
		for id := range best {
			return r.load(ctx, id)
		}
	}

	cands := make([]apperr.Candidate, 0, len(best))
	for _, c := range best {
		c.Name = r.displayName(c.ID)
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ID < cands[j].ID
	})
	r.logger.Debug("resolver: ambiguous name", slog.String("name", name), slog.Int("candidates", len(cands)))
	return models.Entity{}, &apperr.AmbiguityError{Name: name, Candidates: cands}
}

// load reads the entity from its note. A note the index still lists but
// that is gone from disk counts as no match.
func (r *Resolver) load(ctx context.Context, id string) (models.Entity, error) {
	n, err := r.store.Read(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return models.Entity{}, apperr.Wrapf(apperr.ErrNotFound, "resolver: %s", id)
		}
		return models.Entity{}, err
	}
	return n.Entity(), nil
}

func (r *Resolver) displayName(id string) string {
	row, err := r.idx.Entity(id)
	if err != nil || row == nil {
		return id
	}
	return row.Name
}

// Similarity is the normalized Levenshtein similarity of two folded keys,
// in [0, 1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}
