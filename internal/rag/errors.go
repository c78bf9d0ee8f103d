package rag

import "errors"

var (
	// ErrCacheUnavailable means the embedding cache store could not be read or written.
	ErrCacheUnavailable = errors.New("embedding cache unavailable")
	// ErrEmbeddingFailed means the embedding model returned an error.
	ErrEmbeddingFailed = errors.New("embedding failed")

	ErrDocumentNotFound = errors.New("document not found")
	ErrFileTooLarge     = errors.New("file exceeds upload limit")
	ErrInvalidEncoding  = errors.New("document is not valid UTF-8 text")
	ErrPoolClosed       = errors.New("embedding pool closed")
)
