//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search scans entities.name/facts_text/body with LIKE.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error {
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search matches any query term with LIKE and ranks entities by how many
// distinct terms they contain.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*3)
	for _, t := range terms {
		like := "%" + t + "%"
		clauses = append(clauses, "(name_key LIKE ? OR lower(facts_text) LIKE ? OR lower(body) LIKE ?)")
		args = append(args, like, like, like)
	}
	rows, err := db.conn.Query(`
		SELECT id, path, name, facts_text, body
		FROM entities
		WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var facts, body string
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &facts, &body); err != nil {
			return nil, err
		}
		hay := strings.ToLower(r.Name + "\n" + facts + "\n" + body)
		for _, t := range terms {
			if strings.Contains(hay, t) {
				r.Score++
			}
		}
		r.Score /= float64(len(terms))
		r.Snippet = snippet(facts+body, terms)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// snippet returns the first line of text mentioning any term.
func snippet(text string, terms []string) string {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				return strings.TrimSpace(line)
			}
		}
	}
	if len(text) > 200 {
		return text[:200]
	}
	return strings.TrimSpace(text)
}
