package rag

import (
	"context"
	"errors"
	"sync"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	fail  string
	vec   func(text string) []float32
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{calls: map[string]int{}}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls[text]++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.fail != "" && text == f.fail {
		return nil, errBoom
	}
	if f.vec != nil {
		return f.vec(text), nil
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func (f *fakeEmbedder) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type memCacheStore struct {
	mu        sync.Mutex
	rows      map[string][]float32
	lookupErr error
	storeErr  error
}

func newMemCacheStore() *memCacheStore {
	return &memCacheStore{rows: map[string][]float32{}}
}

func (m *memCacheStore) LookupEmbedding(_ context.Context, hash string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, false, m.lookupErr
	}
	v, ok := m.rows[hash]
	return v, ok, nil
}

func (m *memCacheStore) StoreEmbedding(_ context.Context, hash, _ string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.rows[hash] = vec
	return nil
}

var errBoom = errors.New("boom")
