package pool

import (
	"context"
	"sync"

	"mediaconv/kafka"
)

// WorkerPool bounds the number of conversions running at once. Submitted
// work queues on the semaphore and is dropped when the context ends first.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

func (p *WorkerPool) Submit(ctx context.Context, msg *kafka.ConvertMessage, handler func(context.Context, *kafka.ConvertMessage) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			// Handler failures are resolved inside the handler; the pool
			// only sequences work.
			_ = handler(ctx, msg)
		case <-ctx.Done():
		}
	}()
}

// Wait blocks until every submitted job has finished or been dropped.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
