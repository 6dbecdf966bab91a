// Package remember runs the write path: extract candidate facts, resolve
// their entities, merge them into notes and keep the link graph in step.
package remember

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/extractor"
	"github.com/starford/vaultkeeper/internal/linkgraph"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/resolver"
	"github.com/starford/vaultkeeper/internal/slug"
	"github.com/starford/vaultkeeper/internal/vault"
)

// Outcome says what a remembered fact did to its note.
type Outcome string

const (
	// OutcomeAdded means a new value was appended.
	OutcomeAdded Outcome = "added"
	// OutcomeRestated means the value was already known; only its
	// timestamp and seen count moved.
	OutcomeRestated Outcome = "restated"
	// OutcomeReplaced means a single-valued predicate was overwritten.
	OutcomeReplaced Outcome = "replaced"
)

// Recorded is one fact as committed.
type Recorded struct {
	Subject     models.Entity `json:"subject"`
	Fact        models.Fact   `json:"fact"`
	Outcome     Outcome       `json:"outcome"`
	Replaced    []models.Fact `json:"replaced,omitempty"`
	TargetIsNew bool          `json:"target_is_new,omitempty"`
}

// Result is everything one utterance changed.
type Result struct {
	UtteranceID string                     `json:"utterance_id"`
	Facts       []Recorded                 `json:"facts"`
	Created     []models.Entity            `json:"created,omitempty"`
	Backlinks   []linkgraph.BacklinkChange `json:"backlinks,omitempty"`
}

// Options configures predicate cardinality.
type Options struct {
	// Single lists predicates that hold one value; a new value replaces
	// the old one. Every other predicate accumulates values.
	Single []string
}

// Service is the remember path.
type Service struct {
	extractor *extractor.Extractor
	resolver  *resolver.Resolver
	store     *vault.Store
	links     *linkgraph.Maintainer
	single    map[string]bool
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Service.
func New(ex *extractor.Extractor, res *resolver.Resolver, store *vault.Store, links *linkgraph.Maintainer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	single := make(map[string]bool, len(opts.Single))
	for _, p := range opts.Single {
		single[extractor.Predicate(p)] = true
	}
	return &Service{
		extractor: ex,
		resolver:  res,
		store:     store,
		links:     links,
		single:    single,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Remember extracts the facts stated in u and commits them. Ambiguous
// names abort the whole utterance before anything is written.
func (s *Service) Remember(ctx context.Context, u models.Utterance) (*Result, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cands, err := s.extractor.Extract(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := s.plan(ctx, cands); err != nil {
		return nil, err
	}

	res := &Result{UtteranceID: u.ID}
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := s.commit(ctx, u, c, res)
		if err != nil {
			return res, err
		}
		res.Facts = append(res.Facts, rec)
	}
	s.logger.Info("remember: committed",
		slog.String("utterance", u.ID),
		slog.Int("facts", len(res.Facts)),
		slog.Int("created", len(res.Created)))
	return res, nil
}

// plan resolves every name read-only so an ambiguity is reported before
// the first write.
func (s *Service) plan(ctx context.Context, cands []models.Candidate) error {
	for _, c := range cands {
		names := []string{c.Entity}
		if c.ValueIsEntity {
			names = append(names, c.Value)
		}
		for _, name := range names {
			_, err := s.resolver.Lookup(ctx, name)
			if err != nil && !apperr.Is(err, apperr.ErrNotFound) {
				return err
			}
		}
	}
	return nil
}

func (s *Service) commit(ctx context.Context, u models.Utterance, c models.Candidate, res *Result) (Recorded, error) {
	subject, created, err := s.resolver.Resolve(ctx, c.Entity)
	if err != nil {
		return Recorded{}, err
	}
	if created {
		res.Created = append(res.Created, subject)
	}

	value, target := c.Value, ""
	targetIsNew := false
	if c.ValueIsEntity {
		t, created, err := s.resolver.Resolve(ctx, c.Value)
		if err != nil {
			return Recorded{}, err
		}
		if created {
			res.Created = append(res.Created, t)
		}
		value, target, targetIsNew = t.Name, t.ID, created
	}

	incoming := models.Fact{
		Subject:    subject.ID,
		Predicate:  c.Predicate,
		Value:      value,
		Target:     target,
		Source:     u.ID,
		Confidence: c.Confidence,
	}

	var rec Recorded
	_, err = s.store.Write(ctx, subject.ID, func(n *models.Note) error {
		rec = s.merge(n, incoming)
		return nil
	})
	if err != nil {
		return Recorded{}, err
	}
	rec.Subject = subject
	rec.TargetIsNew = targetIsNew

	// The fact is committed; finish the graph even if the caller gives up.
	linkCtx := context.WithoutCancel(ctx)
	changes, err := s.applyLinks(linkCtx, subject.ID, rec)
	res.Backlinks = append(res.Backlinks, changes...)
	if err != nil {
		if rerr := s.reconcileTargets(linkCtx, rec); rerr != nil {
			s.logger.Error("remember: link graph left inconsistent",
				slog.String("fact", rec.Fact.ID),
				slog.String("error", err.Error()),
				slog.String("repair_error", rerr.Error()))
			return rec, apperr.Wrapf(err, "remember: backlinks for %s", rec.Fact.ID)
		}
		s.logger.Warn("remember: backlink update failed, targets reconciled",
			slog.String("fact", rec.Fact.ID),
			slog.String("error", err.Error()))
	}
	return rec, nil
}

// reconcileTargets rebuilds the backlinks of every note rec touches from
// the committed facts. It runs when an incremental update failed half way.
func (s *Service) reconcileTargets(ctx context.Context, rec Recorded) error {
	var targets []string
	if rec.Fact.IsLink() {
		targets = append(targets, rec.Fact.Target)
	}
	for _, f := range rec.Replaced {
		if f.IsLink() && !slices.Contains(targets, f.Target) {
			targets = append(targets, f.Target)
		}
	}
	for _, id := range targets {
		if _, err := s.links.RepairTarget(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// merge folds f into n. Restating a known value bumps it; a declared
// single-valued predicate is overwritten; anything else accumulates.
func (s *Service) merge(n *models.Note, f models.Fact) Recorded {
	now := s.now()
	if n.Facts == nil {
		n.Facts = map[string][]models.Fact{}
	}
	existing := n.Facts[f.Predicate]

	for i, cur := range existing {
		if !sameValue(cur, f) {
			continue
		}
		cur.Seen = max(cur.Seen, 1) + 1
		cur.RecordedAt = now
		cur.Source = f.Source
		cur.Confidence = max(cur.Confidence, f.Confidence)
		if cur.Target == "" {
			cur.Target = f.Target
		}
		existing[i] = cur
		cur.Subject, cur.Predicate = n.ID, f.Predicate
		return Recorded{Fact: cur, Outcome: OutcomeRestated}
	}

	f.ID = uuid.NewString()
	f.RecordedAt = now
	f.Seen = 1
	f.Subject = n.ID

	if s.single[f.Predicate] && len(existing) > 0 {
		replaced := make([]models.Fact, len(existing))
		copy(replaced, existing)
		n.Facts[f.Predicate] = []models.Fact{f}
		return Recorded{Fact: f, Outcome: OutcomeReplaced, Replaced: replaced}
	}
	n.Facts[f.Predicate] = append(existing, f)
	return Recorded{Fact: f, Outcome: OutcomeAdded}
}

func (s *Service) applyLinks(ctx context.Context, subject string, rec Recorded) ([]linkgraph.BacklinkChange, error) {
	fact := rec.Fact
	if len(rec.Replaced) == 0 {
		return s.links.Apply(ctx, linkgraph.FactChange{Subject: subject, New: &fact})
	}
	var out []linkgraph.BacklinkChange
	for i := range rec.Replaced {
		ch := linkgraph.FactChange{Subject: subject, Old: &rec.Replaced[i]}
		if i == 0 {
			ch.New = &fact
		}
		changes, err := s.links.Apply(ctx, ch)
		out = append(out, changes...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func sameValue(a, b models.Fact) bool {
	if a.Target != "" && b.Target != "" {
		return a.Target == b.Target
	}
	return slug.Fold(a.Value) == slug.Fold(b.Value)
}
