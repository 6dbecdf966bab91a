// Package linkgraph keeps backlinks in target notes consistent with the
// entity-valued facts that point at them.
package linkgraph

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/vault"
)

// FactChange describes one committed fact transition on Subject. New is
// nil when a fact was removed; Old is nil when nothing was superseded.
type FactChange struct {
	Subject string
	New     *models.Fact
	Old     *models.Fact
}

// BacklinkChange is one edge added to or removed from Target.
type BacklinkChange struct {
	Target   string          `json:"target"`
	Backlink models.Backlink `json:"backlink"`
	Added    bool            `json:"added"`
}

// Maintainer applies fact changes to the link graph.
type Maintainer struct {
	store  *vault.Store
	logger *slog.Logger
}

// New returns a Maintainer.
func New(store *vault.Store, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{store: store, logger: logger}
}

// Apply adds the backlink for an entity-valued new fact and removes the
// backlink of the fact it superseded. When both point at the same note
// the removal and the addition are a single write.
func (m *Maintainer) Apply(ctx context.Context, ch FactChange) ([]BacklinkChange, error) {
	var removeFrom, addTo string
	if ch.Old != nil && ch.Old.IsLink() {
		removeFrom = ch.Old.Target
	}
	if ch.New != nil && ch.New.IsLink() {
		addTo = ch.New.Target
	}
	if removeFrom == "" && addTo == "" {
		return nil, nil
	}

	if removeFrom != "" && removeFrom == addTo {
		return m.edit(ctx, addTo, ch.Old, ch.New, ch.Subject)
	}

	var out []BacklinkChange
	if removeFrom != "" {
		changes, err := m.edit(ctx, removeFrom, ch.Old, nil, ch.Subject)
		if err != nil {
			return out, err
		}
		out = append(out, changes...)
	}
	if addTo != "" {
		changes, err := m.edit(ctx, addTo, nil, ch.New, ch.Subject)
		if err != nil {
			return out, err
		}
		out = append(out, changes...)
	}
	return out, nil
}

func (m *Maintainer) edit(ctx context.Context, target string, remove, add *models.Fact, subject string) ([]BacklinkChange, error) {
	var changes []BacklinkChange
	_, err := m.store.Write(ctx, target, func(n *models.Note) error {
		changes = changes[:0]
		if remove != nil && n.RemoveBacklink(remove.ID) {
			changes = append(changes, BacklinkChange{
				Target:   target,
				Backlink: backlink(subject, *remove),
			})
		}
		if add != nil {
			b := backlink(subject, *add)
			if n.AddBacklink(b) {
				changes = append(changes, BacklinkChange{Target: target, Backlink: b, Added: true})
			}
		}
		if len(changes) == 0 {
			return vault.ErrNoChange
		}
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) && add == nil {
			// Nothing to detach from a note that no longer exists.
			m.logger.Warn("linkgraph: backlink target missing", slog.String("target", target))
			return nil, nil
		}
		return nil, err
	}
	for _, c := range changes {
		m.logger.Debug("linkgraph: backlink changed",
			slog.String("target", c.Target),
			slog.String("source", c.Backlink.Entity),
			slog.String("fact", c.Backlink.Fact),
			slog.Bool("added", c.Added))
	}
	return changes, nil
}

func backlink(subject string, f models.Fact) models.Backlink {
	return models.Backlink{Entity: subject, Fact: f.ID, Predicate: f.Predicate}
}

// RepairReport summarizes a Repair run.
type RepairReport struct {
	Notes   int `json:"notes"`
	Removed int `json:"removed"`
	Added   int `json:"added"`
}

// Repair rebuilds every note's backlinks from the facts in the vault:
// backlinks whose fact no longer exists (or no longer points here) are
// removed and missing ones are added.
func (m *Maintainer) Repair(ctx context.Context) (RepairReport, error) {
	notes, err := m.store.List(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	expected := expectedBacklinks(notes)

	report := RepairReport{Notes: len(notes)}
	for _, n := range notes {
		removed, added, err := m.reconcile(ctx, n.ID, expected[n.ID])
		if apperr.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return report, apperr.Wrapf(err, "linkgraph: repair %s", n.ID)
		}
		report.Removed += removed
		report.Added += added
	}
	return report, nil
}

// RepairTarget reconciles the backlinks of a single note against every
// fact in the vault that points at it. A missing note is not an error.
func (m *Maintainer) RepairTarget(ctx context.Context, id string) (RepairReport, error) {
	notes, err := m.store.List(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	removed, added, err := m.reconcile(ctx, id, expectedBacklinks(notes)[id])
	if apperr.Is(err, apperr.ErrNotFound) {
		return RepairReport{}, nil
	}
	if err != nil {
		return RepairReport{}, apperr.Wrapf(err, "linkgraph: repair %s", id)
	}
	return RepairReport{Notes: 1, Removed: removed, Added: added}, nil
}

// expectedBacklinks maps target id to fact id to the backlink that fact
// requires.
func expectedBacklinks(notes []*models.Note) map[string]map[string]models.Backlink {
	expected := map[string]map[string]models.Backlink{}
	for _, n := range notes {
		for _, f := range n.AllFacts() {
			if !f.IsLink() {
				continue
			}
			if expected[f.Target] == nil {
				expected[f.Target] = map[string]models.Backlink{}
			}
			expected[f.Target][f.ID] = backlink(n.ID, f)
		}
	}
	return expected
}

// reconcile makes the backlinks of id equal to want.
func (m *Maintainer) reconcile(ctx context.Context, id string, want map[string]models.Backlink) (removed, added int, err error) {
	_, err = m.store.Write(ctx, id, func(cur *models.Note) error {
		removed, added = 0, 0
		kept := cur.Backlinks[:0:0]
		for _, b := range cur.Backlinks {
			if w, ok := want[b.Fact]; ok && w.Entity == b.Entity {
				kept = append(kept, b)
				continue
			}
			removed++
		}
		cur.Backlinks = kept
		for _, f := range slices.Sorted(maps.Keys(want)) {
			if cur.AddBacklink(want[f]) {
				added++
			}
		}
		if len(cur.Backlinks) == 0 {
			cur.Backlinks = nil
		}
		if removed == 0 && added == 0 {
			return vault.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if removed+added > 0 {
		m.logger.Info("linkgraph: repaired",
			slog.String("id", id),
			slog.Int("removed", removed),
			slog.Int("added", added))
	}
	return removed, added, nil
}
