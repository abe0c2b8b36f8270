package crawler

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

// WorkerPool runs jobs on a fixed set of goroutines fed by a bounded queue.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	for i := 0; i < concurrency; i++ {
		pool.wg.Add(1)
		go pool.work()
	}
	return pool, nil
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.jobs:
			if !ok {
				return
			}
			fn(p.ctx)
		}
	}
}

// Submit queues fn, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, fn job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- fn:
		return nil
	}
}

// RunBatch submits every job and returns once all submitted jobs have finished
// or the pool has stopped.
func (p *WorkerPool) RunBatch(ctx context.Context, jobs []job) error {
	var batch sync.WaitGroup
	done := make(chan struct{})
	var submitErr error
	for _, fn := range jobs {
		fn := fn
		batch.Add(1)
		err := p.Submit(ctx, func(workerCtx context.Context) {
			defer batch.Done()
			fn(workerCtx)
		})
		if err != nil {
			batch.Done()
			submitErr = err
			break
		}
	}
	go func() {
		batch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-p.ctx.Done():
		if submitErr == nil {
			submitErr = p.ctx.Err()
		}
	}
	return submitErr
}

// Close stops all workers and waits for running jobs to return. Jobs still
// queued are then run with the cancelled context so their callers are released.
func (p *WorkerPool) Close() {
	p.cancel()
	p.wg.Wait()
	for {
		select {
		case fn := <-p.jobs:
			fn(p.ctx)
		default:
			return
		}
	}
}
