// Package models defines the domain types shared across the vault engine.
package models

import (
	"maps"
	"slices"
	"sort"
	"strings"
)

// Note is the persisted form of one Entity: a structured section holding
// facts and backlinks, plus a free-form prose body that merges never touch.
type Note struct {
	ID        string            `json:"id"`
	Path      string            `json:"path"`
	Name      string            `json:"name"`
	Aliases   []string          `json:"aliases,omitempty"`
	Facts     map[string][]Fact `json:"facts,omitempty"`
	Backlinks []Backlink        `json:"backlinks,omitempty"`
	Body      string            `json:"body,omitempty"`

	// Extra keeps front matter keys owned by other tools. Values are
	// opaque to the engine and written back untouched.
	Extra map[string]any `json:"-"`

	// Version is the token observed when the note was read. Empty for
	// notes that have never been committed.
	Version string `json:"version,omitempty"`
}

// NewNote returns an empty note for a freshly created entity.
func NewNote(id, name string) *Note {
	return &Note{
		ID:   id,
		Path: PathFor(id),
		Name: name,
	}
}

// PathFor returns the vault-relative file name for an entity id.
func PathFor(id string) string {
	return id + ".md"
}

// IDFromPath is the inverse of PathFor.
func IDFromPath(path string) string {
	return strings.TrimSuffix(strings.ReplaceAll(path, "\\", "/"), ".md")
}

// Entity returns the entity described by the note.
func (n *Note) Entity() Entity {
	return Entity{
		ID:      n.ID,
		Name:    n.Name,
		Aliases: slices.Clone(n.Aliases),
		Path:    n.Path,
	}
}

// Clone returns a deep copy so mutators can work without touching the
// caller's snapshot.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	out := *n
	out.Aliases = slices.Clone(n.Aliases)
	out.Backlinks = slices.Clone(n.Backlinks)
	out.Extra = maps.Clone(n.Extra)
	if n.Facts != nil {
		out.Facts = make(map[string][]Fact, len(n.Facts))
		for p, vs := range n.Facts {
			out.Facts[p] = slices.Clone(vs)
		}
	}
	return &out
}

// Predicates returns the note's predicates in sorted order.
func (n *Note) Predicates() []string {
	out := make([]string, 0, len(n.Facts))
	for p := range n.Facts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// AllFacts flattens the structured section in predicate order.
func (n *Note) AllFacts() []Fact {
	var out []Fact
	for _, p := range n.Predicates() {
		out = append(out, n.Facts[p]...)
	}
	return out
}

// FactByID finds a fact by id.
func (n *Note) FactByID(id string) (Fact, bool) {
	for _, vs := range n.Facts {
		for _, f := range vs {
			if f.ID == id {
				return f, true
			}
		}
	}
	return Fact{}, false
}

// HasBacklink reports whether a backlink for factID is present.
func (n *Note) HasBacklink(factID string) bool {
	return slices.ContainsFunc(n.Backlinks, func(b Backlink) bool { return b.Fact == factID })
}

// AddBacklink appends b unless a backlink for the same fact already exists.
// It reports whether the note changed.
func (n *Note) AddBacklink(b Backlink) bool {
	if n.HasBacklink(b.Fact) {
		return false
	}
	n.Backlinks = append(n.Backlinks, b)
	return true
}

// RemoveBacklink drops the backlink created for factID.
func (n *Note) RemoveBacklink(factID string) bool {
	before := len(n.Backlinks)
	n.Backlinks = slices.DeleteFunc(n.Backlinks, func(b Backlink) bool { return b.Fact == factID })
	if len(n.Backlinks) == 0 {
		n.Backlinks = nil
	}
	return len(n.Backlinks) != before
}

// Backlink is a directed edge stored in the target note: Entity names the
// source entity id and Fact the fact that produced the edge.
type Backlink struct {
	Entity    string `json:"entity" yaml:"entity"`
	Fact      string `json:"fact" yaml:"fact"`
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}
