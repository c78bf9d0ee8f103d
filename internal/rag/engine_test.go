package rag

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "nested", "rag.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineEmbeddingLookupAndOverwrite(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, ok, err := e.LookupEmbedding(ctx, "h1"); err != nil || ok {
		t.Fatalf("lookup miss = %v, %v", ok, err)
	}
	if err := e.StoreEmbedding(ctx, "h1", "text", []float32{1, 2}); err != nil {
		t.Fatalf("StoreEmbedding error: %v", err)
	}
	if err := e.StoreEmbedding(ctx, "h1", "text", []float32{3, 4}); err != nil {
		t.Fatalf("second StoreEmbedding error: %v", err)
	}
	vec, ok, err := e.LookupEmbedding(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("lookup = %v, %v", ok, err)
	}
	assertVector(t, vec, []float32{3, 4})
}

func TestEngineQueryRanksAndScopes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	docs := []struct {
		id, account, agent string
		vec                []float32
	}{
		{"d-far", "acct", "sup", []float32{0, 1}},
		{"d-near", "acct", "sup", []float32{1, 0.1}},
		{"d-mid", "acct", "sup", []float32{1, 1}},
		{"d-other-agent", "acct", "sales", []float32{1, 0}},
		{"d-other-account", "acct-2", "sup", []float32{1, 0}},
		{"d-pending", "acct", "sup", nil},
	}
	for _, d := range docs {
		err := e.InsertDocument(ctx, DocumentInfo{
			ID: d.id, AccountID: d.account, AgentID: d.agent,
			Ref: d.account + "/" + d.agent + "/" + d.id + ".txt", Filename: d.id + ".txt", UploadDate: "2025-01-01T00:00:00",
		}, d.vec)
		if err != nil {
			t.Fatalf("InsertDocument %s: %v", d.id, err)
		}
	}

	got, err := e.Query(ctx, []float32{1, 0}, "acct", "sup", 2)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Metadata.Filename != "d-near.txt" || got[1].Metadata.Filename != "d-mid.txt" {
		t.Fatalf("order = %s, %s", got[0].Metadata.Filename, got[1].Metadata.Filename)
	}
	if got[0].Score < got[1].Score {
		t.Fatal("scores should be descending")
	}

	all, err := e.Query(ctx, []float32{1, 0}, "acct", "", 10)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("account-wide query = %d, want 4 (pending excluded)", len(all))
	}
}

func TestEngineDocumentLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	doc := DocumentInfo{ID: "d1", AccountID: "acct", AgentID: "sup", Ref: "acct/sup/x.txt", Filename: "x.txt", UploadDate: "2025-01-01"}
	if err := e.InsertDocument(ctx, doc, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 1 || stats.PendingDocuments != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	pending, err := e.documentsMissingEmbeddings(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != "d1" {
		t.Fatalf("pending = %+v, %v", pending, err)
	}

	if err := e.UpdateDocumentEmbedding(ctx, "d1", []float32{1, 0}); err != nil {
		t.Fatalf("UpdateDocumentEmbedding error: %v", err)
	}
	got, err := e.GetDocument(ctx, "acct", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Embedded || got.Type != "rag" {
		t.Fatalf("doc = %+v", got)
	}

	if _, err := e.GetDocument(ctx, "acct-2", "d1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("cross-account get: %v", err)
	}
	if err := e.DeleteDocument(ctx, "acct", "d1"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteDocument(ctx, "acct", "d1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := e.UpdateDocumentEmbedding(ctx, "d1", []float32{1}); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestEngineUpgradesOlderDocumentTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE rag_documents (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		filename TEXT NOT NULL,
		doc_type TEXT NOT NULL DEFAULT 'rag',
		upload_date TEXT NOT NULL,
		embedding BLOB,
		embedding_dim INTEGER NOT NULL DEFAULT 0,
		embedding_updated_at TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO rag_documents (id, account_id, file_path, filename, upload_date) VALUES ('d1', 'acct', 'acct/f.txt', 'f.txt', 'now')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	e, err := NewEngine(path)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	defer e.Close()
	pending, err := e.documentsMissingEmbeddings(context.Background(), 10)
	if err != nil || len(pending) != 1 || pending[0].ID != "d1" {
		t.Fatalf("pending = %+v, %v", pending, err)
	}
}
