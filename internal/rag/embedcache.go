package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EmbeddingCache memoizes embeddings by the SHA-256 of the exact input text.
// Callers normalize text before calling Embed.
type EmbeddingCache struct {
	store CacheStore
	model Embedder
}

func NewEmbeddingCache(store CacheStore, model Embedder) *EmbeddingCache {
	return &EmbeddingCache{store: store, model: model}
}

func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text, computing and storing it on a miss.
// Cached vectors are returned as stored, without revalidation.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	vec, ok, err := c.store.LookupEmbedding(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if ok {
		return vec, nil
	}

	vec, err = c.model.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	if err := c.store.StoreEmbedding(ctx, hash, text, vec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return vec, nil
}
