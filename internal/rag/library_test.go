package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestLibrary(t *testing.T, model Embedder) (*Library, *Engine, *FSBlobStore) {
	t.Helper()
	engine := newTestEngine(t)
	blobs, err := NewFSBlobStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	lib := NewLibrary(engine, blobs, model, 64)
	lib.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 890000000, time.UTC) }
	return lib, engine, blobs
}

func TestLibraryAddIndexesAndRetrieves(t *testing.T) {
	model := newFakeEmbedder()
	lib, engine, blobs := newTestLibrary(t, model)
	ctx := context.Background()

	doc, err := lib.Add(ctx, "acct", "sup", "faq.txt", []byte("returns ok"))
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if doc.Ref != "acct/sup/2025-03-04T05:06:07.890000_faq.txt" {
		t.Fatalf("ref = %q", doc.Ref)
	}
	if !doc.Embedded {
		t.Fatal("document should be embedded")
	}

	r := NewRetriever(NewEmbeddingCache(engine, model), engine, NewDocumentStore(blobs), 3)
	got := r.Search(ctx, "returns ok", "acct", "sup", 3)
	if len(got) != 1 || got[0].Content != "returns ok" || got[0].Metadata.Filename != "faq.txt" {
		t.Fatalf("search = %+v", got)
	}
}

func TestLibraryAddLimits(t *testing.T) {
	lib, _, _ := newTestLibrary(t, newFakeEmbedder())
	ctx := context.Background()

	if _, err := lib.Add(ctx, "acct", "sup", "big.txt", []byte(strings.Repeat("x", 65))); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
	if _, err := lib.Add(ctx, "acct", "sup", "bin.txt", []byte{0xff}); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("err = %v, want ErrInvalidEncoding", err)
	}
	if _, err := lib.Add(ctx, "acct", "sup", "  ", []byte("x")); err == nil {
		t.Fatal("expected missing filename error")
	}
	docs, _ := lib.List(ctx, "acct")
	if len(docs) != 0 {
		t.Fatalf("rejected uploads must not be indexed: %+v", docs)
	}
}

func TestLibraryEmbeddingFailureThenBackfill(t *testing.T) {
	model := newFakeEmbedder()
	model.err = errBoom
	lib, engine, _ := newTestLibrary(t, model)
	ctx := context.Background()

	doc, err := lib.Add(ctx, "acct", "sup", "faq.txt", []byte("pending text"))
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if doc.Embedded {
		t.Fatal("document should be pending")
	}

	n, err := lib.Backfill(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("backfill while model down = %d, %v", n, err)
	}

	model.err = nil
	n, err = lib.Backfill(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("backfill = %d, %v", n, err)
	}
	stats, _ := engine.Stats(ctx)
	if stats.PendingDocuments != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLibraryBackfillSkipsDocumentsWithoutText(t *testing.T) {
	model := newFakeEmbedder()
	lib, engine, blobs := newTestLibrary(t, model)
	ctx := context.Background()

	for _, name := range []string{"blank1.txt", "blank2.txt"} {
		if _, err := lib.Add(ctx, "acct", "sup", name, []byte("  \n ")); err != nil {
			t.Fatal(err)
		}
	}
	// Indexed before text detection existed: only backfill can classify it.
	legacy := DocumentInfo{ID: "legacy", AccountID: "acct", AgentID: "sup", Ref: "acct/sup/legacy.txt", Filename: "legacy.txt", UploadDate: "2024-01-01T00:00:00.000000"}
	if err := blobs.Upload(ctx, legacy.Ref, []byte(" "), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := engine.InsertDocument(ctx, legacy, nil); err != nil {
		t.Fatal(err)
	}

	model.err = errBoom
	if _, err := lib.Add(ctx, "acct", "sup", "real.txt", []byte("refund policy")); err != nil {
		t.Fatal(err)
	}
	model.err = nil

	total := 0
	for i := 0; i < 2; i++ {
		n, err := lib.Backfill(ctx, 2)
		if err != nil {
			t.Fatalf("backfill run %d: %v", i, err)
		}
		total += n
	}
	if total != 1 || model.count("refund policy") != 2 {
		t.Fatalf("embedded = %d, calls = %d", total, model.count("refund policy"))
	}
	stats, _ := engine.Stats(ctx)
	if stats.PendingDocuments != 0 || stats.NoTextDocuments != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLibraryBackfillRotatesPastFailingDocument(t *testing.T) {
	model := newFakeEmbedder()
	model.err = errBoom
	lib, engine, _ := newTestLibrary(t, model)
	ctx := context.Background()

	for _, name := range []string{"stuck.txt", "later.txt"} {
		if _, err := lib.Add(ctx, "acct", "sup", name, []byte(strings.TrimSuffix(name, ".txt"))); err != nil {
			t.Fatal(err)
		}
	}
	model.err = nil
	model.fail = "stuck"

	total := 0
	for i := 0; i < 2; i++ {
		n, err := lib.Backfill(ctx, 1)
		if err != nil {
			t.Fatalf("backfill run %d: %v", i, err)
		}
		total += n
	}
	if total != 1 || model.count("later") != 2 {
		t.Fatalf("embedded = %d, later calls = %d", total, model.count("later"))
	}
	stats, _ := engine.Stats(ctx)
	if stats.PendingDocuments != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLibraryDeleteRemovesBlobAndRow(t *testing.T) {
	lib, _, blobs := newTestLibrary(t, newFakeEmbedder())
	ctx := context.Background()

	doc, err := lib.Add(ctx, "acct", "sup", "faq.txt", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.Delete(ctx, "acct", doc.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := blobs.Download(ctx, doc.Ref); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("blob still present: %v", err)
	}
	if err := lib.Delete(ctx, "acct", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}
