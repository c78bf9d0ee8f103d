package rag

import (
	"context"
	"fmt"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxUploadBytes = 10 * 1024 * 1024

// Library manages the retrievable documents of an account.
type Library struct {
	engine   *Engine
	blobs    BlobStore
	embedder Embedder
	maxBytes int
	now      func() time.Time
}

func NewLibrary(engine *Engine, blobs BlobStore, embedder Embedder, maxBytes int) *Library {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Library{engine: engine, blobs: blobs, embedder: embedder, maxBytes: maxBytes, now: time.Now}
}

// Add stores, decodes and indexes a document. When embedding fails the
// document is still indexed and picked up later by Backfill.
func (l *Library) Add(ctx context.Context, accountID, agentID, filename string, content []byte) (DocumentInfo, error) {
	if len(content) > l.maxBytes {
		return DocumentInfo{}, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(content), l.maxBytes)
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		return DocumentInfo{}, fmt.Errorf("add document: missing filename")
	}

	text, err := DecodeText(filename, content)
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("add document: %w", err)
	}

	stamp := l.now().Format("2006-01-02T15:04:05.000000")
	doc := DocumentInfo{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		AgentID:    agentID,
		Ref:        fmt.Sprintf("%s/%s/%s_%s", accountID, agentID, stamp, filename),
		Filename:   filename,
		UploadDate: stamp,
		Type:       "rag",
	}

	if err := l.blobs.Upload(ctx, doc.Ref, content, mime.TypeByExtension(filepath.Ext(filename))); err != nil {
		return DocumentInfo{}, fmt.Errorf("add document: %w", err)
	}

	var vec []float32
	if strings.TrimSpace(text) != "" {
		vec, err = l.embedder.Embed(ctx, text)
		if err != nil {
			log.Printf("[rag] embedding for %s deferred to backfill: %v", doc.Ref, err)
			vec = nil
		}
	}

	if err := l.engine.InsertDocument(ctx, doc, vec); err != nil {
		if rmErr := l.blobs.Remove(ctx, doc.Ref); rmErr != nil {
			log.Printf("[rag] orphaned blob %s: %v", doc.Ref, rmErr)
		}
		return DocumentInfo{}, fmt.Errorf("add document: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		if err := l.engine.markNoText(ctx, doc.ID); err != nil {
			log.Printf("[rag] %s: %v", doc.Ref, err)
		}
	}
	doc.Embedded = vec != nil
	log.Printf("[rag] indexed %s (embedded=%t)", doc.Ref, doc.Embedded)
	return doc, nil
}

func (l *Library) List(ctx context.Context, accountID string) ([]DocumentInfo, error) {
	return l.engine.ListDocuments(ctx, accountID)
}

// Delete removes both the blob and the index row.
func (l *Library) Delete(ctx context.Context, accountID, id string) error {
	doc, err := l.engine.GetDocument(ctx, accountID, id)
	if err != nil {
		return err
	}
	if err := l.blobs.Remove(ctx, doc.Ref); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return l.engine.DeleteDocument(ctx, accountID, id)
}

// Backfill embeds up to batchSize documents that have no embedding yet.
// Documents without text leave the queue; embedding failures stay pending
// behind rows that have failed fewer times.
func (l *Library) Backfill(ctx context.Context, batchSize int) (int, error) {
	pending, err := l.engine.documentsMissingEmbeddings(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("backfill: %w", err)
	}

	updated := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		data, err := l.blobs.Download(ctx, p.Ref)
		if err != nil {
			log.Printf("[rag] backfill skip %s: %v", p.Ref, err)
			continue
		}
		text, err := DecodeText(p.Ref, data)
		if err != nil || strings.TrimSpace(text) == "" {
			log.Printf("[rag] backfill skip %s: no text (%v)", p.Ref, err)
			if err := l.engine.markNoText(ctx, p.ID); err != nil {
				return updated, fmt.Errorf("backfill: %w", err)
			}
			continue
		}
		vec, err := l.embedder.Embed(ctx, text)
		if err != nil {
			log.Printf("[rag] backfill embed %s: %v", p.Ref, err)
			if err := l.engine.markEmbedFailed(ctx, p.ID); err != nil {
				return updated, fmt.Errorf("backfill: %w", err)
			}
			continue
		}
		if err := l.engine.UpdateDocumentEmbedding(ctx, p.ID, vec); err != nil {
			return updated, fmt.Errorf("backfill: %w", err)
		}
		updated++
	}
	return updated, nil
}
