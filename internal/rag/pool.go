package rag

import (
	"context"
	"sync"
)

type embedJob struct {
	ctx    context.Context
	texts  []string
	result chan embedResult
}

type embedResult struct {
	vectors [][]float32
	err     error
}

// WorkerPool runs model calls on a fixed set of goroutines so that slow
// inference never runs on a request goroutine. It is itself an Embedder.
type WorkerPool struct {
	embedder Embedder
	jobs     chan embedJob
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewWorkerPool(embedder Embedder, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &WorkerPool{
		embedder: embedder,
		jobs:     make(chan embedJob, workers*4),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := job.ctx.Err(); err != nil {
			job.result <- embedResult{err: err}
			continue
		}
		var res embedResult
		if len(job.texts) == 1 {
			var vec []float32
			vec, res.err = p.embedder.Embed(job.ctx, job.texts[0])
			if res.err == nil {
				res.vectors = [][]float32{vec}
			}
		} else {
			res.vectors, res.err = p.embedder.EmbedBatch(job.ctx, job.texts)
		}
		job.result <- res
	}
}

func (p *WorkerPool) submit(ctx context.Context, texts []string) ([][]float32, error) {
	job := embedJob{ctx: ctx, texts: texts, result: make(chan embedResult, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res := <-job.result:
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *WorkerPool) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.submit(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *WorkerPool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.submit(ctx, texts)
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
