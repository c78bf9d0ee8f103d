package rag

import (
	"context"
	"errors"
	"testing"
	"time"
)

type blockingEmbedder struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return []float32{1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func TestWorkerPoolRunsEmbeddings(t *testing.T) {
	model := newFakeEmbedder()
	pool := NewWorkerPool(model, 2)
	defer pool.Close()

	vec, err := pool.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	assertVector(t, vec, []float32{5, 1, 0})

	vectors, err := pool.EmbedBatch(context.Background(), []string{"a", "bb"})
	if err != nil {
		t.Fatalf("EmbedBatch error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 2 {
		t.Fatalf("vectors = %v", vectors)
	}
}

func TestWorkerPoolPropagatesModelError(t *testing.T) {
	model := newFakeEmbedder()
	model.err = errBoom
	pool := NewWorkerPool(model, 1)
	defer pool.Close()

	if _, err := pool.Embed(context.Background(), "x"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
}

func TestWorkerPoolCallerContextCancel(t *testing.T) {
	model := &blockingEmbedder{release: make(chan struct{}), started: make(chan struct{}, 1)}
	pool := NewWorkerPool(model, 1)
	defer func() {
		close(model.release)
		pool.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := pool.Embed(ctx, "slow")
		done <- err
	}()

	<-model.started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Embed did not return after cancel")
	}
}

func TestWorkerPoolClosed(t *testing.T) {
	pool := NewWorkerPool(newFakeEmbedder(), 1)
	pool.Close()
	pool.Close()

	if _, err := pool.Embed(context.Background(), "x"); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}
