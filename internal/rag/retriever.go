package rag

import (
	"context"
	"log"
	"sync"
)

const DefaultLimit = 3

// RetrievedDocument is a ranked document with its decoded content.
type RetrievedDocument struct {
	Ref      string   `json:"file_path"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Fetcher loads a document's text by reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the documents most relevant to a query. It never fails:
// an embedding or index error yields no documents, and a document whose
// content cannot be fetched is left out.
type Retriever struct {
	embedder    QueryEmbedder
	index       SimilarityIndex
	docs        Fetcher
	concurrency int
}

func NewRetriever(embedder QueryEmbedder, index SimilarityIndex, docs Fetcher, concurrency int) *Retriever {
	if concurrency <= 0 {
		concurrency = DefaultLimit
	}
	return &Retriever{embedder: embedder, index: index, docs: docs, concurrency: concurrency}
}

func (r *Retriever) Search(ctx context.Context, query, accountID, personaID string, limit int) []RetrievedDocument {
	if limit <= 0 {
		limit = DefaultLimit
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[rag] search embed failed, continuing without context: %v", err)
		return nil
	}

	candidates, err := r.index.Query(ctx, vec, accountID, personaID, limit)
	if err != nil {
		log.Printf("[rag] similarity query failed, continuing without context: %v", err)
		return nil
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	// Fetch concurrently into rank-indexed slots so the result keeps index order.
	slots := make([]*RetrievedDocument, len(candidates))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			content, err := r.docs.Fetch(ctx, c.Ref)
			if err != nil {
				log.Printf("[rag] skip document %s: %v", c.Ref, err)
				return
			}
			slots[i] = &RetrievedDocument{Ref: c.Ref, Content: content, Metadata: c.Metadata}
		}(i, c)
	}
	wg.Wait()

	out := make([]RetrievedDocument, 0, len(slots))
	for _, doc := range slots {
		if doc != nil {
			out = append(out, *doc)
		}
	}
	return out
}
