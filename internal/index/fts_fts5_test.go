//go:build sqlite_fts5

package index

import (
	"testing"

	"github.com/starford/vaultkeeper/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entities_fts`).Scan(&count); err != nil {
		t.Fatalf("entities_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	n := models.NewNote("fts", "FTS Entity")
	n.Body = "Vaultkeeper provides powerful full-text search capabilities."
	if err := db.UpsertNote(n, "v1"); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "fts" {
		t.Errorf("id = %q", results[0].ID)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	n := models.NewNote("gone", "Gone")
	n.Body = "vanishing content"
	_ = db.UpsertNote(n, "v1")
	_ = db.DeleteNote("gone")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.ID == "gone" {
			t.Error("deleted note still in FTS index")
		}
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	n := models.NewNote("evo", "Old")
	n.Body = "original text"
	_ = db.UpsertNote(n, "1")
	n.Name = "New"
	n.Body = "replacement text"
	_ = db.UpsertNote(n, "2")

	if results, _ := db.Search("original", 10); len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ := db.Search("replacement", 10)
	if len(results) != 1 || results[0].Name != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
