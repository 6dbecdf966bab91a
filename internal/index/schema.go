// Package index keeps a SQLite projection of the vault: entity names and
// aliases for resolution, facts and backlinks for graph queries, and an
// optional FTS5 table for full-text search. The vault stays the source of
// truth; everything here can be rebuilt with Sync.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	name_key   TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '',
	facts_text TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS aliases (
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	alias     TEXT NOT NULL,
	alias_key TEXT NOT NULL,
	UNIQUE(entity_id, alias_key)
);

CREATE TABLE IF NOT EXISTS facts (
	id          TEXT NOT NULL,
	subject     TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	predicate   TEXT NOT NULL,
	value       TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME,
	PRIMARY KEY(subject, id)
);

CREATE TABLE IF NOT EXISTS backlinks (
	target    TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	source    TEXT NOT NULL,
	fact      TEXT NOT NULL,
	predicate TEXT NOT NULL DEFAULT '',
	UNIQUE(target, fact)
);

CREATE INDEX IF NOT EXISTS idx_entities_name_key ON entities(name_key);
CREATE INDEX IF NOT EXISTS idx_aliases_key ON aliases(alias_key);
CREATE INDEX IF NOT EXISTS idx_facts_target ON facts(target);
CREATE INDEX IF NOT EXISTS idx_backlinks_source ON backlinks(source);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
