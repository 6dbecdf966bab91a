package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/slug"
)

// EntityRow is one indexed entity.
type EntityRow struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NameRow is one resolvable name: a canonical name or an alias.
type NameRow struct {
	EntityID string
	Name     string
	Key      string
	Alias    bool
}

// BacklinkRow is one edge pointing at an entity.
type BacklinkRow struct {
	Source    string `json:"source"`
	Fact      string `json:"fact"`
	Predicate string `json:"predicate,omitempty"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string  `json:"id"`
	Path    string  `json:"path"`
	Name    string  `json:"name"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// GraphNode is an entity in the graph export.
type GraphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GraphLink is a backlink edge in the graph export.
type GraphLink struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Predicate string `json:"predicate,omitempty"`
}

// UpsertNote replaces everything indexed for n within one transaction.
func (db *DB) UpsertNote(n *models.Note, version string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	factsText := FactsText(n)
	_, err = tx.Exec(`
		INSERT INTO entities (id, path, name, name_key, version, facts_text, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path       = excluded.path,
			name       = excluded.name,
			name_key   = excluded.name_key,
			version    = excluded.version,
			facts_text = excluded.facts_text,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, n.ID, n.Path, n.Name, slug.Fold(n.Name), version, factsText, n.Body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: upsert entity: %w", err)
	}

	if err := ftsUpsert(tx, n.ID, n.Name, factsText, n.Body); err != nil {
		return err
	}

	for _, q := range []string{
		`DELETE FROM aliases WHERE entity_id = ?`,
		`DELETE FROM facts WHERE subject = ?`,
		`DELETE FROM backlinks WHERE target = ?`,
	} {
		if _, err := tx.Exec(q, n.ID); err != nil {
			return fmt.Errorf("index: clear rows: %w", err)
		}
	}

	for _, a := range n.Aliases {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO aliases (entity_id, alias, alias_key) VALUES (?, ?, ?)`,
			n.ID, a, slug.Fold(a)); err != nil {
			return fmt.Errorf("index: insert alias: %w", err)
		}
	}

	if len(n.Facts) > 0 {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO facts (id, subject, predicate, value, target, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare fact insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range n.AllFacts() {
			if _, err := stmt.Exec(f.ID, n.ID, f.Predicate, f.Value, f.Target, f.RecordedAt); err != nil {
				return fmt.Errorf("index: insert fact: %w", err)
			}
		}
	}

	for _, b := range n.Backlinks {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO backlinks (target, source, fact, predicate) VALUES (?, ?, ?, ?)`,
			n.ID, b.Entity, b.Fact, b.Predicate); err != nil {
			return fmt.Errorf("index: insert backlink: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteNote removes an entity and everything hanging off it.
func (db *DB) DeleteNote(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.Exec(`DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete entity: %w", err)
	}
	return tx.Commit()
}

// GetVersion returns the indexed version for a note path, or "" if the
// path is not indexed.
func (db *DB) GetVersion(path string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT version FROM entities WHERE path = ?`, path).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get version: %w", err)
	}
	return v, nil
}

// AllVersions maps every indexed path to its version.
func (db *DB) AllVersions() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, version FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("index: all versions: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		out[p] = v
	}
	return out, rows.Err()
}

// DeletePath removes the entity indexed at path, if any.
func (db *DB) DeletePath(path string) error {
	var id string
	err := db.conn.QueryRow(`SELECT id FROM entities WHERE path = ?`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: lookup path: %w", err)
	}
	return db.DeleteNote(id)
}

// Entity returns one indexed entity.
func (db *DB) Entity(id string) (*EntityRow, error) {
	var r EntityRow
	err := db.conn.QueryRow(`SELECT id, path, name, version, updated_at FROM entities WHERE id = ?`, id).
		Scan(&r.ID, &r.Path, &r.Name, &r.Version, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: entity: %w", err)
	}
	return &r, nil
}

// Entities lists indexed entities ordered by name.
func (db *DB) Entities(limit, offset int) ([]EntityRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entities`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count entities: %w", err)
	}
	rows, err := db.conn.Query(`SELECT id, path, name, version, updated_at FROM entities ORDER BY name_key LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list entities: %w", err)
	}
	defer rows.Close()
	var out []EntityRow
	for rows.Next() {
		var r EntityRow
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &r.Version, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Names returns every canonical name and alias, for matching.
func (db *DB) Names() ([]NameRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, name_key, 0 FROM entities
		UNION ALL
		SELECT entity_id, alias, alias_key, 1 FROM aliases
	`)
	if err != nil {
		return nil, fmt.Errorf("index: names: %w", err)
	}
	defer rows.Close()
	var out []NameRow
	for rows.Next() {
		var r NameRow
		if err := rows.Scan(&r.EntityID, &r.Name, &r.Key, &r.Alias); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByName returns entity ids whose canonical name folds to key.
func (db *DB) ByName(key string) ([]string, error) {
	return db.ids(`SELECT id FROM entities WHERE name_key = ? ORDER BY id`, key)
}

// ByAlias returns entity ids that carry an alias folding to key.
func (db *DB) ByAlias(key string) ([]string, error) {
	return db.ids(`SELECT DISTINCT entity_id FROM aliases WHERE alias_key = ? ORDER BY entity_id`, key)
}

// Backlinks returns the edges stored on target.
func (db *DB) Backlinks(target string) ([]BacklinkRow, error) {
	rows, err := db.conn.Query(`SELECT source, fact, predicate FROM backlinks WHERE target = ? ORDER BY source, fact`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []BacklinkRow
	for rows.Next() {
		var b BacklinkRow
		if err := rows.Scan(&b.Source, &b.Fact, &b.Predicate); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Graph returns all entities and backlink edges.
func (db *DB) Graph() ([]GraphNode, []GraphLink, error) {
	rows, err := db.conn.Query(`SELECT id, name FROM entities ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: graph nodes: %w", err)
	}
	nodes := []GraphNode{}
	for rows.Next() {
		var n GraphNode
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			rows.Close()
			return nil, nil, err
		}
		nodes = append(nodes, n)
	}
	rows.Close()

	rows, err = db.conn.Query(`SELECT source, target, predicate FROM backlinks ORDER BY source, target`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: graph links: %w", err)
	}
	defer rows.Close()
	links := []GraphLink{}
	for rows.Next() {
		var l GraphLink
		if err := rows.Scan(&l.Source, &l.Target, &l.Predicate); err != nil {
			return nil, nil, err
		}
		links = append(links, l)
	}
	return nodes, links, rows.Err()
}

func (db *DB) ids(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: lookup: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FactsText renders facts as searchable "predicate value" lines.
func FactsText(n *models.Note) string {
	var b strings.Builder
	for _, f := range n.AllFacts() {
		b.WriteString(strings.ReplaceAll(f.Predicate, "_", " "))
		b.WriteByte(' ')
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	return b.String()
}
