package rag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CacheStore persists embeddings keyed by content hash.
type CacheStore interface {
	LookupEmbedding(ctx context.Context, hash string) ([]float32, bool, error)
	StoreEmbedding(ctx context.Context, hash, text string, vec []float32) error
}

// SimilarityIndex ranks indexed documents against a query embedding.
type SimilarityIndex interface {
	Query(ctx context.Context, vec []float32, accountID, personaID string, limit int) ([]Candidate, error)
}

// Candidate is one ranked index hit.
type Candidate struct {
	Ref      string
	Metadata Metadata
	Score    float64
}

type Metadata struct {
	Filename   string `json:"filename"`
	AgentID    string `json:"agent_id"`
	UploadDate string `json:"upload_date"`
	Type       string `json:"type"`
}

// DocumentInfo is an indexed document row.
type DocumentInfo struct {
	ID         string `json:"id"`
	AccountID  string `json:"user_id"`
	AgentID    string `json:"agent_id"`
	Ref        string `json:"file_path"`
	Filename   string `json:"filename"`
	UploadDate string `json:"upload_date"`
	Type       string `json:"type"`
	Embedded   bool   `json:"embedded"`
}

// Engine is the sqlite-backed CacheStore and SimilarityIndex.
type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_embeddings (
			content_hash TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			embedding BLOB NOT NULL,
			embedding_dim INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS rag_documents (
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
			embed_attempts INTEGER NOT NULL DEFAULT 0,
			no_text INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rag_documents_scope ON rag_documents(account_id, agent_id)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return e.addMissingColumns("rag_documents", map[string]string{
		"embed_attempts": "INTEGER NOT NULL DEFAULT 0",
		"no_text":        "INTEGER NOT NULL DEFAULT 0",
	})
}

// addMissingColumns upgrades tables created before a column existed.
func (e *Engine) addMissingColumns(table string, columns map[string]string) error {
	rows, err := e.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("table info %s: %w", table, err)
		}
		have[name] = true
	}
	rows.Close()

	for name, def := range columns {
		if have[name] {
			continue
		}
		if _, err := e.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, def)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

func (e *Engine) LookupEmbedding(ctx context.Context, hash string) ([]float32, bool, error) {
	var blob []byte
	err := e.db.QueryRowContext(ctx, `SELECT embedding FROM query_embeddings WHERE content_hash = ?`, hash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup embedding: %w", err)
	}
	vec, err := unmarshalEmbedding(blob)
	if err != nil {
		return nil, false, fmt.Errorf("lookup embedding: %w", err)
	}
	return vec, true, nil
}

// StoreEmbedding overwrites any existing row for hash. Two concurrent misses
// for the same text both write; the values are expected to be equal.
func (e *Engine) StoreEmbedding(ctx context.Context, hash, text string, vec []float32) error {
	blob, err := marshalEmbedding(vec)
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO query_embeddings (content_hash, query, embedding, embedding_dim, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, hash, text, blob, len(vec), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// InsertDocument indexes a document. A nil vec leaves the row for backfill.
func (e *Engine) InsertDocument(ctx context.Context, doc DocumentInfo, vec []float32) error {
	var blob any
	if len(vec) > 0 {
		encoded, err := marshalEmbedding(vec)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		blob = encoded
	}

	docType := doc.Type
	if docType == "" {
		docType = "rag"
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO rag_documents (id, account_id, agent_id, file_path, filename, doc_type, upload_date, embedding, embedding_dim, embedding_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CASE WHEN ? > 0 THEN datetime('now') END)
	`, doc.ID, doc.AccountID, doc.AgentID, doc.Ref, doc.Filename, docType, doc.UploadDate, blob, len(vec), len(vec))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (e *Engine) UpdateDocumentEmbedding(ctx context.Context, id string, vec []float32) error {
	blob, err := marshalEmbedding(vec)
	if err != nil {
		return fmt.Errorf("update document embedding: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `
		UPDATE rag_documents
		SET embedding = ?, embedding_dim = ?, embedding_updated_at = datetime('now')
		WHERE id = ?
	`, blob, len(vec), id)
	if err != nil {
		return fmt.Errorf("update document embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update document embedding %s: %w", id, ErrDocumentNotFound)
	}
	return nil
}

// Query scores every embedded document in scope and returns the best limit
// candidates by descending cosine similarity.
func (e *Engine) Query(ctx context.Context, vec []float32, accountID, personaID string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 3
	}
	q := `
		SELECT file_path, filename, agent_id, upload_date, doc_type, embedding
		FROM rag_documents
		WHERE account_id = ? AND embedding IS NOT NULL
	`
	args := []any{accountID}
	if personaID != "" {
		q += ` AND agent_id = ?`
		args = append(args, personaID)
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var blob []byte
		if err := rows.Scan(&c.Ref, &c.Metadata.Filename, &c.Metadata.AgentID, &c.Metadata.UploadDate, &c.Metadata.Type, &blob); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		docVec, err := unmarshalEmbedding(blob)
		if err != nil {
			log.Printf("[rag] skip %s: %v", c.Ref, err)
			continue
		}
		if c.Score, err = cosine(vec, docVec); err != nil {
			log.Printf("[rag] skip %s: %v", c.Ref, err)
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *Engine) ListDocuments(ctx context.Context, accountID string) ([]DocumentInfo, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, account_id, agent_id, file_path, filename, upload_date, doc_type, embedding IS NOT NULL
		FROM rag_documents
		WHERE account_id = ?
		ORDER BY upload_date DESC, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (e *Engine) GetDocument(ctx context.Context, accountID, id string) (DocumentInfo, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, account_id, agent_id, file_path, filename, upload_date, doc_type, embedding IS NOT NULL
		FROM rag_documents
		WHERE account_id = ? AND id = ?
	`, accountID, id)
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("get document: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return DocumentInfo{}, err
	}
	if len(docs) == 0 {
		return DocumentInfo{}, fmt.Errorf("document %s: %w", id, ErrDocumentNotFound)
	}
	return docs[0], nil
}

func (e *Engine) DeleteDocument(ctx context.Context, accountID, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `DELETE FROM rag_documents WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrDocumentNotFound)
	}
	return nil
}

// pendingDocument is a row still waiting for an embedding.
type pendingDocument struct {
	ID  string
	Ref string
}

func (e *Engine) documentsMissingEmbeddings(ctx context.Context, limit int) ([]pendingDocument, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, file_path FROM rag_documents
		WHERE embedding IS NULL AND no_text = 0
		ORDER BY embed_attempts ASC, created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query missing embeddings: %w", err)
	}
	defer rows.Close()

	var out []pendingDocument
	for rows.Next() {
		var p pendingDocument
		if err := rows.Scan(&p.ID, &p.Ref); err != nil {
			return nil, fmt.Errorf("scan missing embedding: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate missing embeddings: %w", err)
	}
	return out, nil
}

// markEmbedFailed moves a document behind rows that have failed fewer times.
func (e *Engine) markEmbedFailed(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.ExecContext(ctx, `UPDATE rag_documents SET embed_attempts = embed_attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark embed failed: %w", err)
	}
	return nil
}

// markNoText excludes a document that decodes to no text from backfill.
func (e *Engine) markNoText(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.ExecContext(ctx, `UPDATE rag_documents SET no_text = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark no text: %w", err)
	}
	return nil
}

// Stats reports row counts for status output.
type Stats struct {
	CachedEmbeddings int
	Documents        int
	PendingDocuments int
	NoTextDocuments  int
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM query_embeddings),
			(SELECT COUNT(*) FROM rag_documents),
			(SELECT COUNT(*) FROM rag_documents WHERE embedding IS NULL AND no_text = 0),
			(SELECT COUNT(*) FROM rag_documents WHERE no_text = 1)
	`).Scan(&s.CachedEmbeddings, &s.Documents, &s.PendingDocuments, &s.NoTextDocuments)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

func scanDocuments(rows *sql.Rows) ([]DocumentInfo, error) {
	var out []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		if err := rows.Scan(&d.ID, &d.AccountID, &d.AgentID, &d.Ref, &d.Filename, &d.UploadDate, &d.Type, &d.Embedded); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
