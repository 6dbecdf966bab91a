//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
			id UNINDEXED,
			name,
			facts,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, name, facts, body string) error {
	_, _ = tx.Exec(`DELETE FROM entities_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO entities_fts (id, name, facts, body) VALUES (?, ?, ?, ?)`,
		id, name, facts, body)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM entities_fts WHERE id = ?`, id)
}

// Search runs an FTS5 OR-query over the query terms, best matches first.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}

	rows, err := db.conn.Query(`
		SELECT entities_fts.id,
		       e.path,
		       e.name,
		       snippet(entities_fts, -1, '', '', '...', 24),
		       -bm25(entities_fts)
		FROM entities_fts
		JOIN entities e ON e.id = entities_fts.id
		WHERE entities_fts MATCH ?
		ORDER BY bm25(entities_fts)
		LIMIT ?
	`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &r.Snippet, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
